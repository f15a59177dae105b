package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/letters/internal/config"
	"github.com/JonMunkholm/letters/internal/core"
	"github.com/JonMunkholm/letters/internal/core/profiles"
	"github.com/JonMunkholm/letters/internal/render"
	"github.com/JonMunkholm/letters/internal/store"
)

const letterHTML = `<p>Dear {{ name }}, welcome to {{ program }}.</p>`

type testServer struct {
	srv     *Server
	service *core.Service
	history *core.MemoryLog
}

func newTestServer(t *testing.T, tweak func(*config.Config)) *testServer {
	t.Helper()

	cfg, err := config.LoadFrom(func(string) string { return "" })
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Rate.Enabled = false
	cfg.Store.Dir = t.TempDir()
	cfg.Batch.ScratchDir = t.TempDir()
	if tweak != nil {
		tweak(cfg)
	}

	fs, err := store.NewFS(cfg.Store.Dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	history := core.NewMemoryLog(10)
	service, err := core.NewService(fs, render.New(), core.ServiceConfig{
		ScratchDir:     cfg.Batch.ScratchDir,
		Policy:         core.FailurePolicy(cfg.Batch.FailurePolicy),
		DefaultProfile: profiles.DefaultKey,
		MaxConcurrent:  cfg.Batch.MaxConcurrent,
		MaxWait:        cfg.Batch.MaxWaitTime,
	}, core.WithHistory(history))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	srv := NewServer(service, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, service: service, history: history}
}

type filePart struct {
	field, name string
	content     []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file *filePart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile(file.field, file.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file.content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) uploadTemplate(t *testing.T, company, name, content string) {
	t.Helper()
	rec := ts.do(multipartRequest(t, "/upload-template",
		map[string]string{"company": company},
		&filePart{field: "template", name: name, content: []byte(content)}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload template: status %d: %s", rec.Code, rec.Body.String())
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "Letter generation service is running." {
		t.Errorf("message = %q", body["message"])
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestUploadTemplate(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "/upload-template",
		map[string]string{"company": "Acme Corp"},
		&filePart{field: "template", name: "letter.html", content: []byte(letterHTML)}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"message":     "Template uploaded successfully",
		"company":     "Acme Corp",
		"template_id": "Acme_Corp",
		"format":      "html",
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	var listed []core.TemplateInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != "Acme_Corp" || listed[0].Format != "html" {
		t.Errorf("templates = %+v", listed)
	}
}

func TestUploadTemplate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		file     *filePart
		wantCode string
	}{
		{
			name:     "missing file",
			fields:   map[string]string{"company": "acme"},
			wantCode: "FILE004",
		},
		{
			name:     "missing company",
			file:     &filePart{field: "template", name: "t.html", content: []byte(letterHTML)},
			wantCode: "TPL004",
		},
		{
			name:     "unsupported template type",
			fields:   map[string]string{"company": "acme"},
			file:     &filePart{field: "template", name: "t.pdf", content: []byte("%PDF")},
			wantCode: "TPL003",
		},
		{
			name:     "company name unusable",
			fields:   map[string]string{"company": "***"},
			file:     &filePart{field: "template", name: "t.html", content: []byte(letterHTML)},
			wantCode: "TPL002",
		},
	}

	ts := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(multipartRequest(t, "/upload-template", tt.fields, tt.file))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := decodeError(t, rec).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestGenerateLetters(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.uploadTemplate(t, "Acme Corp", "letter.html", letterHTML)

	csv := "name,program,email\nJane Doe,Mathematics,jane@example.com\nJohn Roe,Physics,john@example.com\n"
	rec := ts.do(multipartRequest(t, "/generate-letters",
		map[string]string{"company": "Acme Corp"},
		&filePart{field: "file", name: "students.csv", content: []byte(csv)}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	batchID := rec.Header().Get("X-Batch-ID")
	if len(batchID) != 32 {
		t.Errorf("X-Batch-ID = %q, want 32 hex chars", batchID)
	}
	wantDisposition := `attachment; filename=letters_` + batchID + `.zip`
	if got := rec.Header().Get("Content-Disposition"); got != wantDisposition {
		t.Errorf("Content-Disposition = %q, want %q", got, wantDisposition)
	}

	want := map[string]string{
		"Jane_Doe_Acme_Corp_1.html": "<p>Dear Jane Doe, welcome to Mathematics.</p>",
		"John_Roe_Acme_Corp_2.html": "<p>Dear John Roe, welcome to Physics.</p>",
	}
	if diff := cmp.Diff(want, readArchive(t, rec.Body.Bytes())); diff != "" {
		t.Errorf("archive mismatch (-want +got):\n%s", diff)
	}

	recent, _ := ts.history.Recent(context.Background(), 0)
	if len(recent) != 1 || recent[0].ID != batchID || recent[0].Entries != 2 {
		t.Errorf("history = %+v", recent)
	}
	if recent[0].ClientIP == "" {
		t.Error("history entry has no client ip")
	}
}

func TestGenerateLetters_Errors(t *testing.T) {
	tests := []struct {
		name       string
		company    string
		file       *filePart
		wantStatus int
		wantCode   string
		wantKind   core.ErrorKind
		wantRow    *int
	}{
		{
			name:       "unknown company",
			company:    "globex",
			file:       &filePart{field: "file", name: "rows.csv", content: []byte("name\nann\n")},
			wantStatus: http.StatusNotFound,
			wantCode:   "TPL001",
			wantKind:   core.KindTemplateNotFound,
		},
		{
			name:       "header only",
			company:    "acme",
			file:       &filePart{field: "file", name: "rows.csv", content: []byte("name,program\n")},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
			wantKind:   core.KindEmptyInput,
		},
		{
			name:       "unsupported data file",
			company:    "acme",
			file:       &filePart{field: "file", name: "rows.pdf", content: []byte("name\nann\n")},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE005",
			wantKind:   core.KindMalformedInput,
		},
		{
			name:       "missing data file",
			company:    "acme",
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE004",
		},
		{
			name:       "missing company",
			file:       &filePart{field: "file", name: "rows.csv", content: []byte("name\nann\n")},
			wantStatus: http.StatusBadRequest,
			wantCode:   "TPL004",
		},
	}

	ts := newTestServer(t, nil)
	ts.uploadTemplate(t, "acme", "letter.html", letterHTML)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]string{}
			if tt.company != "" {
				fields["company"] = tt.company
			}
			rec := ts.do(multipartRequest(t, "/generate-letters", fields, tt.file))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.wantKind)
			}
			if resp.Row != nil {
				t.Errorf("row = %d, want none", *resp.Row)
			}
		})
	}
}

func TestGenerateLetters_RenderFailureReportsRow(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.uploadTemplate(t, "acme", "letter.html", `<p>{{ name }} {{ signature }}</p>`)

	rec := ts.do(multipartRequest(t, "/generate-letters",
		map[string]string{"company": "acme"},
		&filePart{field: "file", name: "rows.csv", content: []byte("name\nann\n")}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeError(t, rec)
	if resp.Code != "RND001" || resp.Kind != core.KindRender {
		t.Errorf("error = %+v", resp)
	}
	if resp.Row == nil || *resp.Row != 0 {
		t.Errorf("row = %v, want 0", resp.Row)
	}
}

func TestGenerateLetters_FileTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Batch.MaxFileSize = 256 })
	ts.uploadTemplate(t, "acme", "letter.html", letterHTML)

	big := "name\n" + strings.Repeat("someone\n", 200)
	rec := ts.do(multipartRequest(t, "/generate-letters",
		map[string]string{"company": "acme"},
		&filePart{field: "file", name: "rows.csv", content: []byte(big)}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if got := decodeError(t, rec).Code; got != "FILE001" {
		t.Errorf("code = %q, want FILE001", got)
	}
}

func TestGenerateLetters_FileTooLargeWithoutContentLength(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Batch.MaxFileSize = 256 })
	ts.uploadTemplate(t, "acme", "letter.html", letterHTML)

	big := "name\n" + strings.Repeat("someone\n", 200)
	req := multipartRequest(t, "/generate-letters",
		map[string]string{"company": "acme"},
		&filePart{field: "file", name: "rows.csv", content: []byte(big)})
	req.ContentLength = -1
	rec := ts.do(req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusRequestEntityTooLarge, rec.Body.String())
	}
	if got := decodeError(t, rec).Code; got != "FILE001" {
		t.Errorf("code = %q, want FILE001", got)
	}
}

func TestUploadTemplate_FileTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Store.MaxTemplateSize = 256 })

	for _, contentLength := range []int64{0, -1} {
		req := multipartRequest(t, "/upload-template",
			map[string]string{"company": "acme"},
			&filePart{field: "template", name: "letter.html", content: bytes.Repeat([]byte("x"), 4096)})
		if contentLength < 0 {
			req.ContentLength = contentLength
		}
		rec := ts.do(req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("content length %d: status = %d, want %d: %s",
				req.ContentLength, rec.Code, http.StatusRequestEntityTooLarge, rec.Body.String())
		}
		if got := decodeError(t, rec).Code; got != "FILE001" {
			t.Errorf("content length %d: code = %q, want FILE001", req.ContentLength, got)
		}
	}

	stored, err := ts.service.Templates().List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("oversize template was stored: %+v", stored)
	}
}

func TestGenerateLetters_HTMXGetsPartial(t *testing.T) {
	ts := newTestServer(t, nil)

	req := multipartRequest(t, "/generate-letters",
		map[string]string{"company": "nobody"},
		&filePart{field: "file", name: "rows.csv", content: []byte("name\nann\n")})
	req.Header.Set("HX-Request", "true")
	rec := ts.do(req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, `role="alert"`) || !strings.Contains(body, "TPL001") {
		t.Errorf("partial = %q", body)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.GenerateLimit = 1
	})

	send := func() *httptest.ResponseRecorder {
		return ts.do(multipartRequest(t, "/upload-template",
			map[string]string{"company": "acme"},
			&filePart{field: "template", name: "t.html", content: []byte(letterHTML)}))
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "RATE001" {
		t.Errorf("code = %q, want RATE001", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}

	// Read-only routes have their own budget
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/status", nil)); rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d", rec.Code)
	}
}

func TestAPI_ProfilesStatusBatches(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	var profs struct {
		Default  string         `json:"default"`
		Profiles []core.Profile `json:"profiles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &profs); err != nil {
		t.Fatal(err)
	}
	if profs.Default != profiles.DefaultKey {
		t.Errorf("default = %q", profs.Default)
	}
	if _, ok := core.Get("internship"); !ok || len(profs.Profiles) < 2 {
		t.Errorf("profiles = %+v", profs.Profiles)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	want := core.LimiterStatus{Active: 0, Available: 4, MaxConcurrent: 4}
	if diff := cmp.Diff(want, status.Batches); diff != "" {
		t.Errorf("limiter status mismatch (-want +got):\n%s", diff)
	}
	if status.Policy != core.PolicyFailFast {
		t.Errorf("policy = %q", status.Policy)
	}

	ts.history.Record(context.Background(), core.BatchSummary{ID: "b1", FinishedAt: time.Now()})
	ts.history.Record(context.Background(), core.BatchSummary{ID: "b2", FinishedAt: time.Now()})

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/batches?limit=1", nil))
	var batches []core.BatchSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || batches[0].ID != "b2" {
		t.Errorf("batches = %+v", batches)
	}
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.uploadTemplate(t, "Acme <Corp>", "letter.html", letterHTML)

	req := httptest.NewRequest(http.MethodGet, "/ui", nil)
	req.Header.Set("Accept", "text/html")
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{"Student letter", "Internship offer", `value="Acme_Corp"`, `name="company"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", badRequest("missing company name"), http.StatusBadRequest},
		{"busy", core.ErrTooManyBatches, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"cancelled batch", &core.BatchError{Kind: core.KindCancelled, Row: 3}, http.StatusGatewayTimeout},
		{"malformed", &core.BatchError{Kind: core.KindMalformedInput, Row: core.NoRow}, http.StatusBadRequest},
		{"archive", &core.BatchError{Kind: core.KindArchiveWrite, Row: core.NoRow}, http.StatusInternalServerError},
		{"template store", &core.BatchError{Kind: core.KindTemplateStore, Row: core.NoRow}, http.StatusInternalServerError},
		{"cancelled waiting for slot", &core.BatchError{Kind: core.KindCancelled, Row: core.NoRow, Err: context.Canceled}, http.StatusGatewayTimeout},
		{"body too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
