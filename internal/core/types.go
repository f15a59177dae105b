// Package core provides the batch letter generation pipeline.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"time"
)

// Record is one data row of an uploaded table.
type Record struct {
	Index  int               // 0-based position in the input, header excluded
	Fields map[string]string // Header name (verbatim) -> raw cell value
}

// VariableSpec declares where a template variable comes from.
type VariableSpec struct {
	Name    string `yaml:"name" json:"name"`       // Variable name as used in the template
	Column  string `yaml:"column" json:"column"`   // Source column header (exact match)
	Default string `yaml:"default" json:"default"` // Used when the column is absent or blank
}

// RenderContext holds the variables handed to the renderer for one record.
// Every VariableSpec name of the active profile is present as a key.
type RenderContext map[string]string

// TemplateHandle references a stored template for the duration of one batch.
// Content must not be modified once the handle has been resolved.
type TemplateHandle struct {
	ID        string
	Format    string // "docx" or "html"
	Content   []byte
	UpdatedAt time.Time
}

// TemplateInfo describes a stored template without its content.
type TemplateInfo struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TemplateStore persists templates by id.
type TemplateStore interface {
	// Store saves content under id, replacing any previous version.
	Store(ctx context.Context, id, format string, content []byte) error
	// Resolve returns the template for id or an error matching ErrTemplateNotFound.
	Resolve(ctx context.Context, id string) (*TemplateHandle, error)
	// List returns all stored templates sorted by id.
	List(ctx context.Context) ([]TemplateInfo, error)
}

// Renderer compiles template handles into documents.
type Renderer interface {
	Prepare(ctx context.Context, h *TemplateHandle) (PreparedTemplate, error)
}

// PreparedTemplate renders one document per call.
// Implementations must be safe for concurrent use and keep no per-call state.
type PreparedTemplate interface {
	// Extension is the output file extension without the leading dot.
	Extension() string
	Render(ctx context.Context, rc RenderContext) ([]byte, error)
}

// FailurePolicy decides what a per-row render failure does to the batch.
type FailurePolicy string

const (
	// PolicyFailFast aborts the batch on the first failed row.
	PolicyFailFast FailurePolicy = "fail_fast"
	// PolicySkip omits failed rows and reports them in BatchResult.Skipped.
	PolicySkip FailurePolicy = "skip"
)

// BatchPhase indicates the current stage of a batch.
type BatchPhase string

const (
	PhasePending    BatchPhase = "pending"
	PhaseLoading    BatchPhase = "loading"
	PhaseRendering  BatchPhase = "rendering"
	PhaseFinalizing BatchPhase = "finalizing"
	PhaseCompleted  BatchPhase = "completed"
	PhaseFailed     BatchPhase = "failed"
)

// BatchRequest is one unit of work: a data file and the template to apply.
type BatchRequest struct {
	TemplateID string
	Profile    string // Profile key; empty selects the service default
	FileName   string // Declared file name, its extension selects the loader
	Data       []byte
}

// RowFailure describes a row omitted under PolicySkip.
type RowFailure struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// BatchResult is the outcome of a completed batch.
type BatchResult struct {
	ID          string
	TemplateID  string
	Profile     string
	ArchiveName string
	Archive     []byte
	Records     int
	Entries     []string // Entry names in archive order
	Skipped     []RowFailure
	Duration    time.Duration
}

// BatchSummary is what gets recorded and published for every batch,
// successful or not.
type BatchSummary struct {
	ID         string        `json:"batch_id"`
	TemplateID string        `json:"template_id"`
	Profile    string        `json:"profile"`
	FileName   string        `json:"file_name"`
	Status     BatchPhase    `json:"status"`
	Records    int           `json:"records"`
	Entries    int           `json:"entries"`
	Skipped    int           `json:"skipped"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	ErrorRow   *int          `json:"error_row,omitempty"`
	Message    string        `json:"message,omitempty"`
	ClientIP   string        `json:"client_ip,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	FinishedAt time.Time     `json:"finished_at"`
}

// BatchLog keeps a queryable history of batch outcomes.
type BatchLog interface {
	Record(ctx context.Context, s BatchSummary) error
	Recent(ctx context.Context, limit int) ([]BatchSummary, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// BatchNotifier publishes batch outcomes to interested systems.
type BatchNotifier interface {
	Notify(ctx context.Context, s BatchSummary) error
}
