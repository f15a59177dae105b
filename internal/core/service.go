package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/letters/internal/logging"
)

// sideChannelTimeout bounds history and event writes after a batch ends.
const sideChannelTimeout = 5 * time.Second

// ServiceConfig holds orchestrator settings.
type ServiceConfig struct {
	ScratchDir     string        // Where archive scratch files live ("" = system temp)
	Policy         FailurePolicy // Per-row failure handling (default: fail_fast)
	DefaultProfile string        // Profile used when a request names none
	MaxConcurrent  int           // Concurrent batches (default: 4)
	MaxWait        time.Duration // Wait for a batch slot (default: 30s)
	Timeout        time.Duration // Per-batch deadline, 0 for none
}

// Service runs batches. Safe for concurrent use.
type Service struct {
	store    TemplateStore
	renderer Renderer
	history  BatchLog
	notifier BatchNotifier
	limiter  *BatchLimiter

	scratchDir     string
	policy         FailurePolicy
	defaultProfile string
	timeout        time.Duration

	newID       func() string
	openArchive func(scratchDir string) (batchArchive, error)
}

// batchArchive is the part of *Archive a batch drives.
type batchArchive interface {
	Append(name string, content []byte) error
	Entries() []string
	Close() ([]byte, error)
	Discard()
}

func openScratchArchive(scratchDir string) (batchArchive, error) {
	a, err := OpenArchive(scratchDir)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Option customizes a Service.
type Option func(*Service)

// WithHistory records every batch outcome to log.
func WithHistory(log BatchLog) Option {
	return func(s *Service) { s.history = log }
}

// WithNotifier publishes every batch outcome to n.
func WithNotifier(n BatchNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a Service over the given store and renderer.
// Without WithHistory, outcomes go to an in-memory ring.
func NewService(store TemplateStore, renderer Renderer, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("template store is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}

	policy := cfg.Policy
	if policy == "" {
		policy = PolicyFailFast
	}
	if policy != PolicyFailFast && policy != PolicySkip {
		return nil, fmt.Errorf("unknown failure policy %q", cfg.Policy)
	}

	s := &Service{
		store:          store,
		renderer:       renderer,
		limiter:        NewBatchLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		scratchDir:     cfg.ScratchDir,
		policy:         policy,
		defaultProfile: cfg.DefaultProfile,
		timeout:        cfg.Timeout,
		newID:          newBatchID,
		openArchive:    openScratchArchive,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = NewMemoryLog(DefaultHistorySize)
	}
	return s, nil
}

// Templates returns the template store.
func (s *Service) Templates() TemplateStore { return s.store }

// History returns the batch log.
func (s *Service) History() BatchLog { return s.history }

// Limiter returns the batch limiter.
func (s *Service) Limiter() *BatchLimiter { return s.limiter }

// Policy returns the active failure policy.
func (s *Service) Policy() FailurePolicy { return s.policy }

// DefaultProfile returns the profile key used when a request names none.
func (s *Service) DefaultProfile() string { return s.defaultProfile }

// newBatchID returns 32 lowercase hex characters.
func newBatchID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// batchRun tracks one execution of RunBatch.
type batchRun struct {
	id         string
	templateID string
	profile    string
	records    int
	phase      BatchPhase
	start      time.Time
	logger     *slog.Logger
}

func (r *batchRun) enter(phase BatchPhase) {
	r.phase = phase
	r.logger.Debug("batch phase", "phase", phase)
}

// RunBatch renders one document per record of req.Data and returns them as a
// single ZIP archive.
//
// Records are processed strictly in input order. Under PolicyFailFast the
// first failing record aborts the batch and its index is reported in the
// returned *BatchError. The archive scratch file is removed on every path.
//
// Returns ErrTooManyBatches when no batch slot frees up in time. Every
// outcome, including that one, is recorded and published.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	run := &batchRun{
		id:         s.newID(),
		templateID: req.TemplateID,
		profile:    req.Profile,
		phase:      PhasePending,
		start:      time.Now(),
	}
	if run.profile == "" {
		run.profile = s.defaultProfile
	}
	run.logger = logging.WithFields(ctx,
		"batch_id", run.id,
		"template_id", req.TemplateID,
		"profile", run.profile,
		"file_name", req.FileName,
	)

	if err := s.limiter.Acquire(ctx); err != nil {
		if !errors.Is(err, ErrTooManyBatches) {
			err = newBatchError(KindCancelled, NoRow, err, "batch aborted while waiting for a slot")
		}
		s.finish(ctx, run, req, nil, err)
		return nil, err
	}
	defer s.limiter.Release()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	run.logger.Info("batch started",
		"bytes", len(req.Data),
		"client_ip", ClientIPFromContext(ctx),
		"user_agent", UserAgentFromContext(ctx),
	)

	result, err := s.execute(ctx, run, req)
	s.finish(ctx, run, req, result, err)
	return result, err
}

func (s *Service) execute(ctx context.Context, run *batchRun, req BatchRequest) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newBatchError(KindCancelled, NoRow, err, "batch aborted before start")
	}

	// Loading: nothing touches the scratch dir until every input is valid
	run.enter(PhaseLoading)

	records, err := Load(req.Data, req.FileName)
	if err != nil {
		return nil, err
	}
	run.records = len(records)

	profile, err := Lookup(run.profile)
	if err != nil {
		return nil, malformed(err, "unknown profile")
	}

	templateID, err := NormalizeTemplateID(req.TemplateID)
	if err != nil {
		return nil, newBatchError(KindTemplateNotFound, NoRow, err, "no template for %q", req.TemplateID)
	}
	run.templateID = templateID

	handle, err := s.store.Resolve(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, newBatchError(KindTemplateNotFound, NoRow, err, "no template for %q", templateID)
		}
		return nil, newBatchError(KindTemplateStore, NoRow, err, "resolve template %q", templateID)
	}

	prepared, err := s.renderer.Prepare(ctx, handle)
	if err != nil {
		if be, ok := AsBatchError(err); ok {
			return nil, be
		}
		return nil, newBatchError(KindRender, NoRow, err, "template %q could not be compiled", templateID)
	}

	// Rendering
	run.enter(PhaseRendering)

	archive, err := s.openArchive(s.scratchDir)
	if err != nil {
		return nil, err
	}
	defer archive.Discard()

	var (
		skipped []RowFailure
		lastErr *BatchError
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, newBatchError(KindCancelled, rec.Index, err, "batch aborted")
		}

		rc := Map(rec, profile.Variables)

		content, err := prepared.Render(ctx, rc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, newBatchError(KindCancelled, rec.Index, ctxErr, "batch aborted")
			}
			be := rowRenderError(rec.Index, err)
			if s.policy == PolicyFailFast {
				return nil, be
			}
			run.logger.Warn("row skipped", "row", rec.Index, "error", be)
			skipped = append(skipped, RowFailure{Row: rec.Index, Reason: be.Error()})
			lastErr = be
			continue
		}

		name := ResolveName(rec.Index, rc, profile.DisplayField, templateID, prepared.Extension())
		if err := archive.Append(name, content); err != nil {
			if be, ok := AsBatchError(err); ok {
				be.Row = rec.Index
				return nil, be
			}
			return nil, newBatchError(KindArchiveWrite, rec.Index, err, "append %q", name)
		}
	}

	entries := archive.Entries()
	if len(entries) == 0 {
		if lastErr == nil {
			return nil, newBatchError(KindEmptyInput, NoRow, nil, "no documents rendered")
		}
		return nil, lastErr
	}

	// Finalizing
	run.enter(PhaseFinalizing)

	data, err := archive.Close()
	if err != nil {
		return nil, err
	}

	return &BatchResult{
		ID:          run.id,
		TemplateID:  templateID,
		Profile:     profile.Key,
		ArchiveName: ArchiveName(run.id),
		Archive:     data,
		Records:     len(records),
		Entries:     entries,
		Skipped:     skipped,
		Duration:    time.Since(run.start),
	}, nil
}

// rowRenderError pins err to a row, keeping a renderer-supplied BatchError.
func rowRenderError(row int, err error) *BatchError {
	if be, ok := AsBatchError(err); ok && be.Kind == KindRender {
		if !be.HasRow() {
			be.Row = row
		}
		return be
	}
	return newBatchError(KindRender, row, err, "render failed")
}

// finish logs, records and publishes the outcome. Side channel failures are
// logged only.
func (s *Service) finish(ctx context.Context, run *batchRun, req BatchRequest, result *BatchResult, err error) {
	summary := BatchSummary{
		ID:         run.id,
		TemplateID: run.templateID,
		Profile:    run.profile,
		FileName:   req.FileName,
		Records:    run.records,
		ClientIP:   ClientIPFromContext(ctx),
		Duration:   time.Since(run.start),
		FinishedAt: time.Now().UTC(),
	}
	summary.DurationMS = summary.Duration.Milliseconds()

	if err == nil {
		run.phase = PhaseCompleted
		summary.Status = PhaseCompleted
		summary.Entries = len(result.Entries)
		summary.Skipped = len(result.Skipped)
		result.Duration = summary.Duration
		run.logger.Info("batch completed",
			"records", summary.Records,
			"entries", summary.Entries,
			"skipped", summary.Skipped,
			"duration_ms", summary.DurationMS,
		)
	} else {
		failedIn := run.phase
		run.phase = PhaseFailed
		summary.Status = PhaseFailed
		summary.Message = err.Error()
		if be, ok := AsBatchError(err); ok {
			summary.ErrorKind = be.Kind
			if be.HasRow() {
				row := be.Row
				summary.ErrorRow = &row
			}
		}
		run.logger.Warn("batch failed",
			"phase", failedIn,
			"error_kind", summary.ErrorKind,
			"records", summary.Records,
			"error", err,
			"duration_ms", summary.DurationMS,
		)
	}

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideChannelTimeout)
	defer cancel()

	if err := s.history.Record(sideCtx, summary); err != nil {
		run.logger.Error("record batch history", "error", err)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(sideCtx, summary); err != nil {
			run.logger.Error("publish batch event", "error", err)
		}
	}
}
