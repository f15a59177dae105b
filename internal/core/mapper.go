package core

import "strings"

// Map projects a record onto the variables declared by vars.
// Every variable name is present in the result. A column that is missing or
// blank after trimming yields the variable's Default, unmodified.
func Map(record Record, vars []VariableSpec) RenderContext {
	rc := make(RenderContext, len(vars))
	for _, v := range vars {
		value := strings.TrimSpace(record.Fields[v.Column])
		if value == "" {
			value = v.Default
		}
		rc[v.Name] = value
	}
	return rc
}
