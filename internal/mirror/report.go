package mirror

import (
	"log/slog"
	"sync"
	"time"
)

// PassStage identifies where in a pass a per-item failure happened.
type PassStage string

const (
	StageFetch  PassStage = "fetch"
	StageDelete PassStage = "delete"
	StageRender PassStage = "render"
	StageDocs   PassStage = "docs"
)

// ItemFailure is one recoverable per-item error. The item carries no
// fingerprint update, so it is retried on the next pass.
type ItemFailure struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Stage PassStage `json:"stage"`
	Error string    `json:"error"`
}

// PassReport aggregates the outcome of one sync pass. Partial failure is a
// normal, reportable outcome, not an exception. Safe for concurrent use by
// the apply/render workers.
type PassReport struct {
	PassID    string        `json:"pass_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Listed      int `json:"listed"`
	Downloaded  int `json:"downloaded"`
	Deleted     int `json:"deleted"`
	Rendered    int `json:"rendered"`
	Unchanged   int `json:"unchanged"`
	Quarantined int `json:"quarantined"`

	Failures []ItemFailure `json:"failures,omitempty"`

	mu sync.Mutex
}

func (r *PassReport) AddFailure(id, name string, stage PassStage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, ItemFailure{
		ID:    id,
		Name:  name,
		Stage: stage,
		Error: err.Error(),
	})
}

func (r *PassReport) addDownloaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Downloaded++
}

func (r *PassReport) addDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deleted++
}

func (r *PassReport) addRendered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rendered++
}

func (r *PassReport) addQuarantined() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Quarantined++
}

func (r *PassReport) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures)
}

// LogValue lets the report be logged as one structured group.
func (r *PassReport) LogValue() slog.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slog.GroupValue(
		slog.String("pass", r.PassID),
		slog.Duration("took", r.Duration),
		slog.Int("listed", r.Listed),
		slog.Int("downloaded", r.Downloaded),
		slog.Int("deleted", r.Deleted),
		slog.Int("rendered", r.Rendered),
		slog.Int("unchanged", r.Unchanged),
		slog.Int("quarantined", r.Quarantined),
		slog.Int("failures", len(r.Failures)),
	)
}
