// Package journal keeps a sqlite-backed history of completed sync passes.
// The engine never reads it back; it exists for the stats command and for
// operators digging into what a past pass did.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/mirror"
)

const schema = `
CREATE TABLE IF NOT EXISTS pass_history (
    pass_id     TEXT PRIMARY KEY,
    started_at  TEXT NOT NULL, -- RFC3339
    duration_ms INTEGER NOT NULL,
    listed      INTEGER NOT NULL,
    downloaded  INTEGER NOT NULL,
    deleted     INTEGER NOT NULL,
    rendered    INTEGER NOT NULL,
    unchanged   INTEGER NOT NULL,
    quarantined INTEGER NOT NULL,
    failures    TEXT NOT NULL DEFAULT '[]' -- JSON array of item failures
);

CREATE INDEX IF NOT EXISTS idx_pass_history_started ON pass_history(started_at);
`

// PassRecord is one row of pass history.
type PassRecord struct {
	PassID      string `db:"pass_id"`
	StartedAt   string `db:"started_at"`
	DurationMS  int64  `db:"duration_ms"`
	Listed      int    `db:"listed"`
	Downloaded  int    `db:"downloaded"`
	Deleted     int    `db:"deleted"`
	Rendered    int    `db:"rendered"`
	Unchanged   int    `db:"unchanged"`
	Quarantined int    `db:"quarantined"`
	Failures    string `db:"failures"`
}

// Totals aggregates the whole history for the stats command.
type Totals struct {
	Passes      int   `db:"passes"`
	Downloaded  int   `db:"downloaded"`
	Deleted     int   `db:"deleted"`
	Rendered    int   `db:"rendered"`
	Quarantined int   `db:"quarantined"`
	DurationMS  int64 `db:"duration_ms"`
}

type Journal struct {
	db *sqlx.DB
}

func Open(path string) (*Journal, error) {
	database, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{db: database}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one completed pass. Implements mirror.PassRecorder.
func (j *Journal) Record(ctx context.Context, report *mirror.PassReport) error {
	failures, err := json.Marshal(report.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	record := &PassRecord{
		PassID:      report.PassID,
		StartedAt:   report.StartedAt.Format(time.RFC3339),
		DurationMS:  report.Duration.Milliseconds(),
		Listed:      report.Listed,
		Downloaded:  report.Downloaded,
		Deleted:     report.Deleted,
		Rendered:    report.Rendered,
		Unchanged:   report.Unchanged,
		Quarantined: report.Quarantined,
		Failures:    string(failures),
	}

	_, err = j.db.NamedExecContext(ctx, `
		INSERT INTO pass_history (pass_id, started_at, duration_ms, listed, downloaded, deleted, rendered, unchanged, quarantined, failures)
		VALUES (:pass_id, :started_at, :duration_ms, :listed, :downloaded, :deleted, :rendered, :unchanged, :quarantined, :failures)`,
		record,
	)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", report.PassID, err)
	}
	return nil
}

// Recent returns the latest n passes, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]PassRecord, error) {
	var records []PassRecord
	err := j.db.SelectContext(ctx, &records,
		`SELECT * FROM pass_history ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query pass history: %w", err)
	}
	return records, nil
}

// Stats aggregates all recorded passes.
func (j *Journal) Stats(ctx context.Context) (*Totals, error) {
	var totals Totals
	err := j.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS passes,
		       COALESCE(SUM(downloaded), 0) AS downloaded,
		       COALESCE(SUM(deleted), 0) AS deleted,
		       COALESCE(SUM(rendered), 0) AS rendered,
		       COALESCE(SUM(quarantined), 0) AS quarantined,
		       COALESCE(SUM(duration_ms), 0) AS duration_ms
		FROM pass_history`)
	if err != nil {
		return nil, fmt.Errorf("query pass totals: %w", err)
	}
	return &totals, nil
}
