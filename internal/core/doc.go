// Package core provides the batch letter generation pipeline.
//
// The package holds all domain logic independent of any transport or storage
// backend. It can be used by the HTTP server, the lettergen CLI or tests
// without modification.
//
// # Pipeline
//
// A batch flows through these stages, strictly in record order:
//
//  1. [Load] parses the uploaded table into [Record] values
//  2. [Map] projects each record onto the active [Profile] variables
//  3. [PreparedTemplate.Render] produces one document per record
//  4. [ResolveName] picks a unique entry name
//  5. [Archive.Append] streams the document into the ZIP
//
// [Service.RunBatch] drives the stages and guarantees that the archive scratch
// file is removed on every failure path.
//
// # Profiles
//
// Profiles are registered at init time using [Register] (see package
// profiles) or loaded from a YAML file with [LoadProfilesFile]:
//
//	core.Register(core.Profile{
//	    Key:          "student",
//	    DisplayField: "name",
//	    Variables: []core.VariableSpec{
//	        {Name: "name", Column: "Full Name"},
//	        {Name: "program", Column: "Program", Default: "General Studies"},
//	    },
//	})
//
// # Error Handling
//
// Every stage fails with a [*BatchError] carrying an [ErrorKind] and, for
// per-record failures, the 0-based record index. Use errors.Is with the
// sentinels ([ErrMalformedInput], [ErrRender], ...) to branch on kind and
// [MapError] to obtain a user-facing message with a support code.
package core
