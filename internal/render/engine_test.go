package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/letters/internal/core"
)

const docBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:r><w:t>Dear {{ na</w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>me }},</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>{</w:t></w:r><w:r><w:t>{ program|upper }}</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>{% if grade %}Grade: {{ grade }}{% endif %}</w:t></w:r></w:p>` +
	`</w:body></w:document>`

func buildDocx(t *testing.T, parts map[string]string, order []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, parts[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sampleDocx(t *testing.T, document string) []byte {
	t.Helper()
	parts := map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   document,
		"word/header1.xml":    `<w:hdr><w:t>Ref {{ name }}</w:t></w:hdr>`,
		"word/styles.xml":     `<w:styles>{{ not_rendered }}</w:styles>`,
		"word/media/logo.png": "\x89PNG binary",
	}
	order := []string{"[Content_Types].xml", "word/document.xml", "word/header1.xml", "word/styles.xml", "word/media/logo.png"}
	return buildDocx(t, parts, order)
}

func unzipParts(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("rendered output is not a zip: %v", err)
	}
	var names []string
	contents := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		names = append(names, f.Name)
		contents[f.Name] = string(b)
	}
	return names, contents
}

func prepare(t *testing.T, format string, content []byte) core.PreparedTemplate {
	t.Helper()
	pt, err := New().Prepare(context.Background(), &core.TemplateHandle{ID: "acme", Format: format, Content: content})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return pt
}

func TestDocx_Render(t *testing.T) {
	pt := prepare(t, FormatDOCX, sampleDocx(t, docBody))
	if pt.Extension() != "docx" {
		t.Errorf("Extension() = %q", pt.Extension())
	}

	out, err := pt.Render(context.Background(), core.RenderContext{
		"name":    "Jane <Doe> & Co",
		"program": "biology",
		"grade":   "",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	names, parts := unzipParts(t, out)
	wantOrder := []string{"[Content_Types].xml", "word/document.xml", "word/header1.xml", "word/styles.xml", "word/media/logo.png"}
	if diff := cmp.Diff(wantOrder, names); diff != "" {
		t.Errorf("part order mismatch (-want +got):\n%s", diff)
	}

	doc := parts["word/document.xml"]
	for _, want := range []string{"Dear Jane &lt;Doe&gt; &amp; Co,", "BIOLOGY"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document.xml missing %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "Grade:") {
		t.Error("empty grade should suppress the if block")
	}
	if strings.Contains(doc, "{{") || strings.Contains(doc, "{%") {
		t.Errorf("unrendered tags left in document.xml:\n%s", doc)
	}

	if got := parts["word/header1.xml"]; !strings.Contains(got, "Ref Jane &lt;Doe&gt; &amp; Co") {
		t.Errorf("header not rendered: %s", got)
	}
	if got := parts["word/styles.xml"]; got != `<w:styles>{{ not_rendered }}</w:styles>` {
		t.Errorf("non-template part modified: %s", got)
	}
	if got := parts["word/media/logo.png"]; got != "\x89PNG binary" {
		t.Errorf("binary part modified: %q", got)
	}
}

func TestDocx_UndefinedPlaceholder(t *testing.T) {
	pt := prepare(t, FormatDOCX, sampleDocx(t, docBody))

	_, err := pt.Render(context.Background(), core.RenderContext{"name": "A", "program": "B"})
	if err == nil || !strings.Contains(err.Error(), `undefined placeholder "grade"`) {
		t.Errorf("Render error = %v, want undefined placeholder grade", err)
	}
}

func TestDocx_PrepareErrors(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{name: "not a zip", content: []byte("plain text")},
		{name: "no document part", content: buildDocx(t, map[string]string{"a.xml": "<a/>"}, []string{"a.xml"})},
		{name: "broken tag", content: sampleDocx(t, `<w:t>{% if name %}never closed</w:t>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Prepare(context.Background(), &core.TemplateHandle{Format: FormatDOCX, Content: tt.content})
			if err == nil {
				t.Error("expected Prepare to fail")
			}
		})
	}
}

func TestDocx_ConcurrentRender(t *testing.T) {
	pt := prepare(t, FormatDOCX, sampleDocx(t, docBody))

	const workers = 8
	outputs := make([][]byte, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := strings.Repeat("x", i+1)
			outputs[i], errs[i] = pt.Render(context.Background(), core.RenderContext{"name": name, "program": "p", "grade": "A"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		_, parts := unzipParts(t, outputs[i])
		want := "Dear " + strings.Repeat("x", i+1) + ","
		if !strings.Contains(parts["word/document.xml"], want) {
			t.Errorf("worker %d: document.xml missing %q", i, want)
		}
	}
}

func TestHTML_Render(t *testing.T) {
	src := `<p>Hello {{ name }}</p>{% for c in courses_list %}{{ c }}{% endfor %}{% with greeting="Hi" %}{{ greeting }}{% endwith %}`
	pt := prepare(t, FormatHTML, []byte(src))
	if pt.Extension() != "html" {
		t.Errorf("Extension() = %q", pt.Extension())
	}

	out, err := pt.Render(context.Background(), core.RenderContext{"name": `<script>`})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := string(out), `<p>Hello &lt;script&gt;</p>Hi`; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestHTML_IncludeIsRejected(t *testing.T) {
	pt, err := New().Prepare(context.Background(), &core.TemplateHandle{Format: FormatHTML, Content: []byte(`{% include "/etc/passwd" %}`)})
	if err == nil {
		if _, err = pt.Render(context.Background(), core.RenderContext{}); err == nil {
			t.Error("include of a local file should fail")
		}
	}
}

func TestPrepare_UnsupportedFormat(t *testing.T) {
	_, err := New().Prepare(context.Background(), &core.TemplateHandle{Format: "pdf"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Prepare error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "letter.docx", want: FormatDOCX},
		{name: "LETTER.DOCX", want: FormatDOCX},
		{name: "letter.html", want: FormatHTML},
		{name: "letter.htm", want: FormatHTML},
		{name: "letter.doc", wantErr: true},
		{name: "letter", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromFilename(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("error = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("FormatFromFilename(%q) = %q, %v", tt.name, got, err)
			}
		})
	}
}

func TestRepairSplitTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "split inside expression",
			in:   `<w:t>{{ fir</w:t></w:r><w:r><w:t>st_name }}</w:t>`,
			want: `<w:t>{{ first_name }}</w:t>`,
		},
		{
			name: "split braces",
			in:   `<w:t>{</w:t></w:r><w:r><w:t>{ x }</w:t></w:r><w:r><w:t>}</w:t>`,
			want: `<w:t>{{ x }}</w:t>`,
		},
		{
			name: "smart quotes and entities in tag",
			in:   `<w:t>{% if a &gt; “b” %}</w:t>`,
			want: `<w:t>{% if a > "b" %}</w:t>`,
		},
		{
			name: "text outside tags untouched",
			in:   `<w:t>5 &gt; 3 “quoted”</w:t>`,
			want: `<w:t>5 &gt; 3 “quoted”</w:t>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairSplitTags(tt.in); got != tt.want {
				t.Errorf("repairSplitTags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanPlaceholders(t *testing.T) {
	src := `{{ name }} {{ date|date:"2006" }} {% for item in items %}{{ item }} {{ forloop.Counter }}{% endfor %}` +
		`{% set x = 1 %}{{ x }} {% with total=amount %}{{ total }}{% endwith %} {{ "literal" }} {{ true }}`

	got := scanPlaceholders(src)
	want := placeholderSet{"date", "name"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scanPlaceholders mismatch (-want +got):\n%s", diff)
	}
}
