// Package templates holds the HTML components served by the web package.
//
// Edit components.templ and regenerate components_templ.go with `templ generate`.
package templates
