package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/letters/internal/core"
	"github.com/JonMunkholm/letters/internal/logging"
	"github.com/JonMunkholm/letters/internal/render"
	"github.com/JonMunkholm/letters/internal/web/templates"
)

const (
	defaultBatchListLimit = 50
	maxBatchListLimit     = 500
)

// handleHealth reports that the service is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "Letter generation service is running.",
	})
}

// handleIndex renders the upload and generate page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := s.service.Templates().List(ctx)
	if err != nil {
		respondError(w, r, fmt.Errorf("list templates: %w", err), http.StatusInternalServerError)
		return
	}

	profiles := core.All()
	options := make([]templates.ProfileOption, len(profiles))
	for i, p := range profiles {
		options[i] = templates.ProfileOption{Key: p.Key, Label: p.Label}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := templates.IndexPage(templates.IndexData{
		Templates:      stored,
		Profiles:       options,
		DefaultProfile: s.service.DefaultProfile(),
		Status:         s.service.Limiter().Status(),
	})
	if err := page.Render(ctx, w); err != nil {
		logging.FromContext(ctx).Error("render index page", "error", err)
	}
}

// handleUploadTemplate stores a company's template, replacing any previous one.
func (s *Server) handleUploadTemplate(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, s.cfg.Store.MaxTemplateSize); err != nil {
		respondError(w, r, err, 0)
		return
	}

	company := strings.TrimSpace(r.FormValue("company"))
	file, header, err := r.FormFile("template")
	if err != nil {
		respondError(w, r, badRequest("no file provided: missing template file"), 0)
		return
	}
	defer file.Close()
	if company == "" {
		respondError(w, r, badRequest("missing company name"), 0)
		return
	}

	format, err := render.FormatFromFilename(header.Filename)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	id, err := core.NormalizeTemplateID(company)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	content, err := readUpload(file)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	if err := s.service.Templates().Store(r.Context(), id, format, content); err != nil {
		respondError(w, r, fmt.Errorf("store template %q: %w", id, err), 0)
		return
	}

	logging.FromContext(r.Context()).Info("template stored",
		"template_id", id,
		"format", format,
		"bytes", len(content),
	)

	const msg = "Template uploaded successfully"
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.Notice(msg+": "+id).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render notice", "error", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message":     msg,
		"company":     company,
		"template_id": id,
		"format":      format,
	})
}

// handleGenerateLetters renders one letter per data row and returns them as
// a ZIP attachment.
func (s *Server) handleGenerateLetters(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, s.cfg.Batch.MaxFileSize); err != nil {
		respondError(w, r, err, 0)
		return
	}

	company := strings.TrimSpace(r.FormValue("company"))
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, badRequest("no file provided: missing data file"), 0)
		return
	}
	defer file.Close()
	if company == "" {
		respondError(w, r, badRequest("missing company name"), 0)
		return
	}

	data, err := readUpload(file)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.RunBatch(ctx, core.BatchRequest{
		TemplateID: company,
		Profile:    strings.TrimSpace(r.FormValue("profile")),
		FileName:   header.Filename,
		Data:       data,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": result.ArchiveName,
	}))
	h.Set("Content-Length", strconv.Itoa(len(result.Archive)))
	h.Set("X-Batch-ID", result.ID)
	if len(result.Skipped) > 0 {
		rows := make([]string, len(result.Skipped))
		for i, f := range result.Skipped {
			rows[i] = strconv.Itoa(f.Row)
		}
		h.Set("X-Skipped-Rows", strings.Join(rows, ","))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Archive); err != nil {
		logging.FromContext(ctx).Warn("write archive", "batch_id", result.ID, "error", err)
	}
}

// handleListTemplates returns every stored template without content.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	stored, err := s.service.Templates().List(r.Context())
	if err != nil {
		respondError(w, r, fmt.Errorf("list templates: %w", err), http.StatusInternalServerError)
		return
	}
	if stored == nil {
		stored = []core.TemplateInfo{}
	}
	writeJSON(w, r, http.StatusOK, stored)
}

// handleListProfiles returns the registered letter profiles.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"default":  s.service.DefaultProfile(),
		"profiles": core.All(),
	})
}

// handleListBatches returns recent batch outcomes, newest first.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultBatchListLimit)
	if limit > maxBatchListLimit {
		limit = maxBatchListLimit
	}

	batches, err := s.service.History().Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, fmt.Errorf("list batches: %w", err), http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []core.BatchSummary{}
	}
	writeJSON(w, r, http.StatusOK, batches)
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Batches        core.LimiterStatus `json:"batches"`
	Policy         core.FailurePolicy `json:"policy"`
	DefaultProfile string             `json:"default_profile"`
	Profiles       int                `json:"profiles"`
}

// handleStatus reports batch capacity, used for monitoring and by clients
// deciding whether to submit now.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{
		Batches:        s.service.Limiter().Status(),
		Policy:         s.service.Policy(),
		DefaultProfile: s.service.DefaultProfile(),
		Profiles:       core.ProfileCount(),
	})
}

// parseUpload limits the body to limit bytes and parses the multipart form.
// A body over the limit is reported as *http.MaxBytesError even when the
// multipart reader fails first on a truncated part header.
func parseUpload(w http.ResponseWriter, r *http.Request, limit int64) error {
	if r.ContentLength > limit {
		return tooLarge(limit)
	}

	body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, limit)}
	r.Body = body
	if err := r.ParseMultipartForm(limit); err != nil {
		if body.exceeded {
			return tooLarge(limit)
		}
		return uploadError(err, limit)
	}
	return nil
}

// limitedBody records whether the wrapped MaxBytesReader hit its limit.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var sizeErr *http.MaxBytesError
	if errors.As(err, &sizeErr) {
		b.exceeded = true
	}
	return n, err
}

func tooLarge(limit int64) error {
	return fmt.Errorf("file too large: %w", &http.MaxBytesError{Limit: limit})
}

// readUpload reads an uploaded part fully.
func readUpload(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

// uploadError normalizes body-size failures, which multipart does not
// always wrap, into *http.MaxBytesError.
func uploadError(err error, limit int64) error {
	var sizeErr *http.MaxBytesError
	if errors.As(err, &sizeErr) || strings.Contains(err.Error(), "request body too large") {
		return tooLarge(limit)
	}
	return badRequest("no file provided: %v", err)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
