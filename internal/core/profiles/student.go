// Package profiles registers the built-in variable profiles with the core
// registry. Import it for side effects.
package profiles

import "github.com/JonMunkholm/letters/internal/core"

// DefaultKey is the profile used when a batch names none.
const DefaultKey = "student"

func init() {
	registerStudent()
	registerInternship()
}

func registerStudent() {
	core.Register(core.Profile{
		Key:          DefaultKey,
		Label:        "Student letter",
		DisplayField: "name",
		Variables: []core.VariableSpec{
			{Name: "name", Column: "name"},
			{Name: "email", Column: "email"},
			{Name: "program", Column: "program"},
			{Name: "course", Column: "course"},
			{Name: "start_date", Column: "start_date"},
			{Name: "end_date", Column: "end_date"},
			{Name: "grade", Column: "grade"},
		},
	})
}

func registerInternship() {
	core.Register(core.Profile{
		Key:          "internship",
		Label:        "Internship offer",
		DisplayField: "name",
		Variables: []core.VariableSpec{
			{Name: "name", Column: "name"},
			{Name: "role", Column: "role", Default: "Intern"},
			{Name: "department", Column: "department"},
			{Name: "supervisor", Column: "supervisor"},
			{Name: "start_date", Column: "start_date"},
			{Name: "duration", Column: "duration"},
			{Name: "stipend", Column: "stipend"},
		},
	})
}
