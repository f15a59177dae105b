package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/JonMunkholm/letters/internal/core"
)

const documentPart = "word/document.xml"

// isTemplatePart reports whether a DOCX part may carry template tags.
func isTemplatePart(name string) bool {
	dir, file := path.Split(name)
	if dir != "word/" || path.Ext(file) != ".xml" {
		return false
	}
	switch {
	case file == "document.xml", file == "footnotes.xml", file == "endnotes.xml":
		return true
	case strings.HasPrefix(file, "header"), strings.HasPrefix(file, "footer"):
		return true
	}
	return false
}

// docxPart is one entry of the source package, compiled or copied as is.
type docxPart struct {
	file *zip.File
	tpl  *pongo2.Template // nil for parts copied byte for byte
}

// docxTemplate renders a Word document per record. The source archive is
// read through a bytes.Reader, so parts can be copied concurrently.
type docxTemplate struct {
	parts []docxPart
	refs  placeholderSet
}

func (e *Engine) prepareDOCX(content []byte) (*docxTemplate, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	t := &docxTemplate{parts: make([]docxPart, 0, len(zr.File))}
	var sources []string
	hasDocument := false

	for _, f := range zr.File {
		part := docxPart{file: f}
		if isTemplatePart(f.Name) {
			raw, err := readPart(f)
			if err != nil {
				return nil, err
			}
			src := repairSplitTags(raw)
			if part.tpl, err = e.compile(f.Name, src); err != nil {
				return nil, err
			}
			sources = append(sources, src)
			hasDocument = hasDocument || f.Name == documentPart
		}
		t.parts = append(t.parts, part)
	}

	if !hasDocument {
		return nil, errors.New("open docx: missing " + documentPart)
	}
	t.refs = scanPlaceholders(sources...)
	return t, nil
}

func readPart(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return string(b), nil
}

func (t *docxTemplate) Extension() string { return FormatDOCX }

func (t *docxTemplate) Render(ctx context.Context, rc core.RenderContext) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.refs.check(rc); err != nil {
		return nil, err
	}

	pctx := toContext(rc)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, p := range t.parts {
		if p.tpl == nil {
			if err := zw.Copy(p.file); err != nil {
				return nil, fmt.Errorf("copy %s: %w", p.file.Name, err)
			}
			continue
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     p.file.Name,
			Method:   zip.Deflate,
			Modified: p.file.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", p.file.Name, err)
		}
		if err := p.tpl.ExecuteWriter(pctx, w); err != nil {
			return nil, fmt.Errorf("execute %s: %w", p.file.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize docx: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	// Word may split "{{" or "{%" across runs: {</w:t></w:r><w:r><w:t>{
	splitOpenRe  = regexp.MustCompile(`\{(?:<[^>]*>)+([{%])`)
	splitCloseRe = regexp.MustCompile(`([}%])(?:<[^>]*>)+\}`)
	tagRegionRe  = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}`)
	xmlMarkupRe  = regexp.MustCompile(`<[^>]*>`)

	// Inside tags, restore characters Word escaped or "smartened"
	tagTextReplacer = strings.NewReplacer(
		"&quot;", `"`, "&apos;", "'", "&lt;", "<", "&gt;", ">", "&amp;", "&",
		"“", `"`, "”", `"`, "‘", "'", "’", "'",
	)
)

// repairSplitTags removes the run markup Word inserts inside template tags so
// that each {{ ... }} and {% ... %} is contiguous text again.
func repairSplitTags(xml string) string {
	s := splitOpenRe.ReplaceAllString(xml, "{$1")
	s = splitCloseRe.ReplaceAllString(s, "$1}")
	return tagRegionRe.ReplaceAllStringFunc(s, func(tag string) string {
		return tagTextReplacer.Replace(xmlMarkupRe.ReplaceAllString(tag, ""))
	})
}
