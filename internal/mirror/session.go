package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/notemirror/notemirror/internal/drive"
)

// sessionTSLayout names quarantine trees; filesystem-safe variant of RFC3339.
const sessionTSLayout = "2006-01-02T15-04-05Z"

const (
	StatusOK      = "ok"
	StatusPartial = "partial"
)

// Lister yields the full remote collection, or a transport error. A partial
// listing is never returned.
type Lister interface {
	List(ctx context.Context) ([]*drive.Item, error)
}

// DocWriter maintains the Markdown companion docs and the collection index.
type DocWriter interface {
	WriteNoteDoc(item *drive.Item, images []string) error
	RemoveNoteDoc(name, id string) error
	WriteIndex(snapshot map[string]*Fingerprint) error
}

// PassRecorder persists completed pass reports, e.g. to the history journal.
type PassRecorder interface {
	Record(ctx context.Context, report *PassReport) error
}

type SessionConfig struct {
	Workspace   *Workspace
	Lister      Lister
	Fetcher     Fetcher
	Renderer    PageRenderer // nil disables rendering
	Docs        DocWriter    // nil disables companion docs
	Recorder    PassRecorder // nil disables the history journal
	Parallelism int
	ImageExt    string
}

// Session runs one full synchronization pass:
// list -> classify -> apply -> render -> docs -> persist.
// One pass at a time per mirror root, enforced by the workspace lock. A pass
// interrupted between items is resumable: re-running re-lists and
// re-classifies against whatever fingerprints made it to disk.
type Session struct {
	cfg *SessionConfig
}

func NewSession(cfg *SessionConfig) (*Session, error) {
	if cfg.Workspace == nil {
		return nil, errors.New("session: workspace is required")
	}
	if cfg.Lister == nil {
		return nil, errors.New("session: lister is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("session: fetcher is required")
	}
	return &Session{cfg: cfg}, nil
}

// Run executes the pass. Fatal conditions (unreachable listing, duplicate
// remote id, corrupt state, lock held) abort with an error and no partial
// credit; per-item failures land in the returned report.
func (s *Session) Run(ctx context.Context) (*PassReport, error) {
	ws := s.cfg.Workspace

	if err := ws.Setup(); err != nil {
		return nil, err
	}
	if err := ws.Lock(); err != nil {
		return nil, err
	}
	defer ws.Unlock()

	start := time.Now().UTC()
	report := &PassReport{
		PassID:    uuid.NewString(),
		StartedAt: start,
	}
	slog.Info("pass start", "pass", report.PassID, "root", ws.Root)

	store, err := LoadStore(ws.StatePath())
	if err != nil {
		return nil, err
	}

	// Listing
	items, err := s.cfg.Lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote listing: %w", err)
	}
	report.Listed = len(items)

	// Classifying
	cls, err := Classify(store.Snapshot(), items)
	if err != nil {
		return nil, err
	}
	report.Unchanged = len(cls.Unchanged)
	slog.Info("classified",
		"download", len(cls.ToDownload),
		"unchanged", len(cls.Unchanged),
		"delete", len(cls.ToDelete),
	)

	// Applying
	applier := NewApplier(ws, store, s.cfg.Fetcher, s.cfg.Parallelism, start.Format(sessionTSLayout))
	downloaded := applier.Apply(ctx, cls, report)

	// Rendering
	images := map[string][]string{}
	if s.cfg.Renderer != nil {
		trigger := NewRenderTrigger(ws, s.cfg.Renderer, s.cfg.ImageExt)
		images = trigger.RenderItems(ctx, downloaded, report)
	}

	// Companion docs + index
	if s.cfg.Docs != nil {
		s.writeDocs(cls, downloaded, images, store, report)
	}

	// The applier already persisted per item; this save records the
	// session metadata.
	status := StatusOK
	if report.FailureCount() > 0 {
		status = StatusPartial
	}
	report.Duration = time.Since(start)
	store.SetLastRun(start, status)
	if err := store.Save(); err != nil {
		return nil, fmt.Errorf("final persist: %w", err)
	}

	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.Record(ctx, report); err != nil {
			slog.Warn("journal record failed", "error", err)
		}
	}

	slog.Info("pass complete", "report", report, "status", status)
	return report, nil
}

func (s *Session) writeDocs(cls *Classification, downloaded []*drive.Item, images map[string][]string, store *Store, report *PassReport) {
	docs := s.cfg.Docs

	for _, item := range downloaded {
		if err := docs.WriteNoteDoc(item, images[item.ID]); err != nil {
			slog.Warn("sync", "op", "docs", "path", item.RelPath(), "error", err)
			report.AddFailure(item.ID, item.Name, StageDocs, err)
		}
	}

	for _, fp := range cls.ToDelete {
		if err := docs.RemoveNoteDoc(fp.Name, fp.ID); err != nil {
			slog.Warn("sync", "op", "docs", "path", fp.RelPath, "error", err)
		}
	}

	if err := docs.WriteIndex(store.Snapshot()); err != nil {
		slog.Warn("sync", "op", "docs", "error", err)
	}
}
