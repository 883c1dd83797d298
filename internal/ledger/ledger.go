// Package ledger persists a record of job submissions and their
// outcomes. It is optional; a nil *Ledger is a no-op, so callers never
// have to branch on whether persistence is configured.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/reqhub/jobwatch/shared/postgresql"
)

// Entry is one submitted job and its eventual outcome.
type Entry struct {
	JobID       string         `db:"job_id"`
	Family      string         `db:"family"`
	Detail      string         `db:"detail"`
	Status      string         `db:"status"`
	SubmittedAt time.Time      `db:"submitted_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Error       sql.NullString `db:"error"`
}

// Ledger writes submission records to PostgreSQL.
type Ledger struct {
	pg     *postgresql.Client
	logger *slog.Logger
}

// New creates a Ledger on top of an established database client.
func New(pg *postgresql.Client, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		pg:     pg,
		logger: logger,
	}
}

// EnsureSchema creates the submissions table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if l == nil {
		return nil
	}

	query := `
		CREATE TABLE IF NOT EXISTS submissions (
			job_id       TEXT PRIMARY KEY,
			family       TEXT NOT NULL,
			detail       TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			error        TEXT
		)
	`

	if err := l.pg.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure submissions schema: %w", err)
	}
	return nil
}

// RecordSubmission inserts a freshly submitted job.
func (l *Ledger) RecordSubmission(ctx context.Context, jobID, family, detail, status string) error {
	if l == nil {
		return nil
	}

	query := `
		INSERT INTO submissions (
			job_id, family, detail, status, submitted_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	if err := l.pg.ExecContext(ctx, query, jobID, family, detail, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}

	l.logger.Debug("Submission recorded",
		slog.String("job_id", jobID),
		slog.String("family", family),
	)
	return nil
}

// RecordOutcome stamps a job's terminal status. errMsg is empty on
// success.
func (l *Ledger) RecordOutcome(ctx context.Context, jobID, status, errMsg string) error {
	if l == nil {
		return nil
	}

	query := `
		UPDATE submissions
		SET status = $2, completed_at = $3, error = NULLIF($4, '')
		WHERE job_id = $1
	`

	if err := l.pg.ExecContext(ctx, query, jobID, status, time.Now().UTC(), errMsg); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	l.logger.Debug("Outcome recorded",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

// ListRecent returns the most recently submitted entries, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT
			job_id, family, detail, status,
			submitted_at, completed_at, error
		FROM submissions
		ORDER BY submitted_at DESC
		LIMIT $1
	`

	var entries []Entry
	if err := l.pg.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return entries, nil
}
