package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/JonMunkholm/letters/internal/core"
)

var (
	// Root identifier of a {{ ... }} expression: {{ name|upper }} -> name
	placeholderRe = regexp.MustCompile(`\{\{-?\s*([A-Za-z_][A-Za-z0-9_]*)`)

	forRe  = regexp.MustCompile(`\{%-?\s*for\s+([A-Za-z_]\w*)(?:\s*,\s*([A-Za-z_]\w*))?\s+in\s`)
	setRe  = regexp.MustCompile(`\{%-?\s*set\s+([A-Za-z_]\w*)\s*=`)
	withRe = regexp.MustCompile(`\{%-?\s*with\s+([^%]*)%\}`)

	withAssignRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*=`)
	withAsRe     = regexp.MustCompile(`\bas\s+([A-Za-z_]\w*)`)
)

// Names that are never looked up in the render context.
var builtinNames = map[string]bool{
	"forloop": true,
	"true":    true,
	"false":   true,
	"True":    true,
	"False":   true,
	"nil":     true,
	"None":    true,
	"not":     true,
}

// placeholderSet lists context variables a template reads directly.
type placeholderSet []string

// scanPlaceholders collects the root names used in {{ }} expressions, minus
// names bound inside the template by for, with or set.
func scanPlaceholders(sources ...string) placeholderSet {
	bound := make(map[string]bool)
	used := make(map[string]bool)

	for _, src := range sources {
		for _, m := range forRe.FindAllStringSubmatch(src, -1) {
			bound[m[1]] = true
			if m[2] != "" {
				bound[m[2]] = true
			}
		}
		for _, m := range setRe.FindAllStringSubmatch(src, -1) {
			bound[m[1]] = true
		}
		for _, m := range withRe.FindAllStringSubmatch(src, -1) {
			for _, a := range withAssignRe.FindAllStringSubmatch(m[1], -1) {
				bound[a[1]] = true
			}
			for _, a := range withAsRe.FindAllStringSubmatch(m[1], -1) {
				bound[a[1]] = true
			}
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(src, -1) {
			used[m[1]] = true
		}
	}

	var names placeholderSet
	for name := range used {
		if !bound[name] && !builtinNames[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// check fails when a placeholder has no value in rc.
func (p placeholderSet) check(rc core.RenderContext) error {
	var missing []string
	for _, name := range p {
		if _, ok := rc[name]; !ok {
			missing = append(missing, name)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("undefined placeholder %q", missing[0])
	default:
		return fmt.Errorf("undefined placeholders %s", strings.Join(quoteAll(missing), ", "))
	}
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
