package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/letters/internal/core"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS letter_templates (
	id         TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	content    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batch_runs (
	batch_id    TEXT PRIMARY KEY,
	template_id TEXT NOT NULL,
	profile     TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	status      TEXT NOT NULL,
	records     INTEGER NOT NULL,
	entries     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error_row   INTEGER,
	message     TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS batch_runs_finished_at_idx ON batch_runs (finished_at DESC);
`

// EnsureSchema creates the tables used by Postgres and PostgresLog.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Postgres is a TemplateStore over the letter_templates table.
type Postgres struct {
	db DBTX
}

var _ core.TemplateStore = (*Postgres)(nil)

// NewPostgres wraps db. Call EnsureSchema first.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Store(ctx context.Context, id, format string, content []byte) error {
	id, format, err := checkInput(id, format)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO letter_templates (id, format, content, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET format = EXCLUDED.format, content = EXCLUDED.content, updated_at = now()`,
		id, format, content)
	if err != nil {
		return fmt.Errorf("store template: %w", err)
	}
	return nil
}

func (p *Postgres) Resolve(ctx context.Context, id string) (*core.TemplateHandle, error) {
	h := &core.TemplateHandle{ID: id}
	err := p.db.QueryRow(ctx,
		`SELECT format, content, updated_at FROM letter_templates WHERE id = $1`, id,
	).Scan(&h.Format, &h.Content, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}
	return h, nil
}

func (p *Postgres) List(ctx context.Context) ([]core.TemplateInfo, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, format, octet_length(content), updated_at FROM letter_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []core.TemplateInfo
	for rows.Next() {
		var info core.TemplateInfo
		if err := rows.Scan(&info.ID, &info.Format, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// PostgresLog is a core.BatchLog over the batch_runs table.
type PostgresLog struct {
	db DBTX
}

var _ core.BatchLog = (*PostgresLog)(nil)

// NewPostgresLog wraps db. Call EnsureSchema first.
func NewPostgresLog(db DBTX) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Record(ctx context.Context, s core.BatchSummary) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO batch_runs (
			batch_id, template_id, profile, file_name, status, records, entries, skipped,
			error_kind, error_row, message, client_ip, duration_ms, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (batch_id) DO NOTHING`,
		s.ID, s.TemplateID, s.Profile, s.FileName, string(s.Status), s.Records, s.Entries, s.Skipped,
		string(s.ErrorKind), s.ErrorRow, s.Message, s.ClientIP, s.DurationMS, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. limit <= 0 defaults to 50.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]core.BatchSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.Query(ctx, `
		SELECT batch_id, template_id, profile, file_name, status, records, entries, skipped,
		       error_kind, error_row, message, client_ip, duration_ms, finished_at
		FROM batch_runs
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []core.BatchSummary
	for rows.Next() {
		var (
			s         core.BatchSummary
			status    string
			errorKind string
		)
		if err := rows.Scan(
			&s.ID, &s.TemplateID, &s.Profile, &s.FileName, &status, &s.Records, &s.Entries, &s.Skipped,
			&errorKind, &s.ErrorRow, &s.Message, &s.ClientIP, &s.DurationMS, &s.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		s.Status = core.BatchPhase(status)
		s.ErrorKind = core.ErrorKind(errorKind)
		s.Duration = time.Duration(s.DurationMS) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

func (l *PostgresLog) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM batch_runs WHERE finished_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge batches: %w", err)
	}
	return tag.RowsAffected(), nil
}
