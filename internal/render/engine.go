// Package render compiles stored templates with pongo2 (Django/Jinja syntax).
//
// Two template formats are supported:
//
//   - docx: a Word document whose body, headers, footers, footnotes and
//     endnotes contain pongo2 tags such as {{ name }} or {% if grade %}
//   - html: a single HTML file that is itself a pongo2 template
//
// Values are escaped on output, which keeps both HTML and WordprocessingML
// well-formed. Templates cannot include or extend other files.
package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/JonMunkholm/letters/internal/core"
)

const (
	FormatDOCX = "docx"
	FormatHTML = "html"
)

// ErrUnsupportedFormat is returned for template formats the engine cannot compile.
var ErrUnsupportedFormat = errors.New("unsupported template type")

// FormatFromFilename maps an uploaded template file name to a format.
func FormatFromFilename(name string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".docx":
		return FormatDOCX, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w %q (expected .docx or .html)", ErrUnsupportedFormat, ext)
	}
}

// Engine is a core.Renderer backed by a private pongo2 template set.
type Engine struct {
	set *pongo2.TemplateSet
}

var _ core.Renderer = (*Engine)(nil)

// New creates an Engine.
func New() *Engine {
	return &Engine{
		set: pongo2.NewSet("letters", pongo2.NewFSLoader(noFiles{})),
	}
}

// Prepare compiles h once; the result renders any number of records.
func (e *Engine) Prepare(ctx context.Context, h *core.TemplateHandle) (core.PreparedTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch strings.ToLower(h.Format) {
	case FormatDOCX:
		return e.prepareDOCX(h.Content)
	case FormatHTML, "htm":
		return e.prepareHTML(h.Content)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, h.Format)
	}
}

func (e *Engine) compile(name, src string) (*pongo2.Template, error) {
	tpl, err := e.set.FromString(src)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return tpl, nil
}

// htmlTemplate renders a single HTML file.
type htmlTemplate struct {
	tpl  *pongo2.Template
	refs placeholderSet
}

func (e *Engine) prepareHTML(content []byte) (*htmlTemplate, error) {
	src := string(content)
	tpl, err := e.compile("html template", src)
	if err != nil {
		return nil, err
	}
	return &htmlTemplate{tpl: tpl, refs: scanPlaceholders(src)}, nil
}

func (t *htmlTemplate) Extension() string { return FormatHTML }

func (t *htmlTemplate) Render(ctx context.Context, rc core.RenderContext) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.refs.check(rc); err != nil {
		return nil, err
	}
	out, err := t.tpl.ExecuteBytes(toContext(rc))
	if err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return out, nil
}

func toContext(rc core.RenderContext) pongo2.Context {
	ctx := make(pongo2.Context, len(rc))
	for k, v := range rc {
		ctx[k] = v
	}
	return ctx
}

// noFiles is an empty filesystem so include/extends/import tags always fail.
type noFiles struct{}

func (noFiles) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
