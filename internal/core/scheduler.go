package core

// scheduler.go runs periodic maintenance:
//  1. Remove scratch archives left behind by crashed processes
//  2. Purge batch history older than the retention window
//
// Failures are logged and never stop the scheduler.

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MaintenanceConfig controls the maintenance scheduler.
type MaintenanceConfig struct {
	ScratchMaxAge    time.Duration // Scratch files older than this are removed (default: 1h)
	HistoryRetention time.Duration // Batch history older than this is purged (default: 30 days)
	CheckInterval    time.Duration // How often to run (default: 1h)
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.ScratchMaxAge <= 0 {
		c.ScratchMaxAge = time.Hour
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartMaintenance runs maintenance immediately, then every CheckInterval,
// until ctx is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg = cfg.withDefaults()
	slog.Info("maintenance scheduler started",
		"scratch_max_age", cfg.ScratchMaxAge.String(),
		"history_retention", cfg.HistoryRetention.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.runMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg)
		}
	}
}

func (s *Service) runMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	start := time.Now()

	removed, err := SweepScratch(s.scratchDir, start.Add(-cfg.ScratchMaxAge))
	if err != nil {
		slog.Error("scratch sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("removed stale scratch archives", "files_removed", removed)
	}

	purged, err := s.history.Purge(ctx, start.Add(-cfg.HistoryRetention))
	if err != nil {
		slog.Error("history purge failed", "error", err)
	} else if purged > 0 {
		slog.Info("purged batch history", "entries_purged", purged)
	}

	slog.Debug("maintenance completed", "duration_ms", time.Since(start).Milliseconds())
}

// SweepScratch deletes archive scratch files in dir last modified before cutoff.
// An empty dir means the system temp directory.
func SweepScratch(dir string, cutoff time.Time) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	matches, err := filepath.Glob(filepath.Join(dir, scratchPrefix+"*"+scratchSuffix))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		if !isScratchFile(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
