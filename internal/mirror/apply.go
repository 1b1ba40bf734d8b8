package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notemirror/notemirror/internal/drive"
	"github.com/notemirror/notemirror/internal/utils"
)

// Fetcher pulls the byte content of one remote item.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Applier converges the live mirror and the fingerprint store to match a
// classification, one item at a time. Every successful item is committed to
// the store before the next one starts, so a crash mid-pass leaves the store
// consistent with whatever actually landed on disk.
type Applier struct {
	ws          *Workspace
	store       *Store
	fetcher     Fetcher
	parallelism int
	sessionTS   string
}

func NewApplier(ws *Workspace, store *Store, fetcher Fetcher, parallelism int, sessionTS string) *Applier {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Applier{
		ws:          ws,
		store:       store,
		fetcher:     fetcher,
		parallelism: parallelism,
		sessionTS:   sessionTS,
	}
}

// Apply performs the filesystem effects of one classification. Per-item
// failures are recorded in the report and do not stop the remaining items.
// Returns the items that were successfully downloaded this pass.
func (a *Applier) Apply(ctx context.Context, cls *Classification, report *PassReport) []*drive.Item {
	downloaded := a.applyDownloads(ctx, cls.ToDownload, report)
	a.applyDeletes(cls.ToDelete, report)
	return downloaded
}

// applyDownloads fetches items with bounded parallelism. Store commits are
// serialized inside the store itself; everything else is independent per item.
func (a *Applier) applyDownloads(ctx context.Context, items []*drive.Item, report *PassReport) []*drive.Item {
	if len(items) == 0 {
		return nil
	}

	succeeded := make([]*drive.Item, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)

	for i, item := range items {
		g.Go(func() error {
			if err := a.downloadOne(gctx, item, report); err != nil {
				slog.Warn("sync", "op", "download", "path", item.RelPath(), "error", err)
				report.AddFailure(item.ID, item.Name, StageFetch, err)
				return nil
			}

			mu.Lock()
			succeeded[i] = item
			mu.Unlock()

			report.addDownloaded()
			slog.Info("sync", "op", "download", "path", item.RelPath(), "size", item.Size)
			return nil
		})
	}
	g.Wait()

	// compact, preserving listing order
	result := make([]*drive.Item, 0, len(items))
	for _, item := range succeeded {
		if item != nil {
			result = append(result, item)
		}
	}
	return result
}

func (a *Applier) downloadOne(ctx context.Context, item *drive.Item, report *PassReport) error {
	data, err := a.fetcher.Fetch(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	relPath := item.RelPath()
	target := a.ws.NotePath(relPath)

	// A foreign file at the target (same name, not tracked by any
	// fingerprint) is relocated to quarantine instead of being overwritten.
	if utils.FileExists(target) && !a.store.TracksRelPath(relPath) {
		if err := a.quarantine(relPath); err != nil {
			return fmt.Errorf("quarantine foreign file: %w", err)
		}
		report.addQuarantined()
		slog.Info("sync", "op", "quarantine", "path", relPath, "reason", "untracked file at download target")
	}

	// A rename leaves the previous copy at its old path; move it to
	// quarantine rather than deleting it.
	if prev, ok := a.store.Get(item.ID); ok && prev.RelPath != relPath {
		if utils.FileExists(a.ws.NotePath(prev.RelPath)) {
			if err := a.quarantine(prev.RelPath); err != nil {
				return fmt.Errorf("quarantine renamed file: %w", err)
			}
			report.addQuarantined()
			slog.Info("sync", "op", "quarantine", "path", prev.RelPath, "reason", "renamed remotely", "now", relPath)
		}
	}

	if err := utils.AtomicWriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	hash, err := utils.FileHash(target)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	fp := &Fingerprint{
		ID:           item.ID,
		Name:         item.Name,
		RelPath:      relPath,
		ModifiedTime: item.ModifiedTime,
		Size:         item.Size,
		Hash:         hash,
		LastSyncedAt: time.Now().UTC(),
	}
	if err := a.store.PutAndSave(fp); err != nil {
		// the file is on disk but unclaimed; the next pass refetches it
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyDeletes moves vanished items into the session's quarantine tree.
// Destructive operations stay sequential.
func (a *Applier) applyDeletes(fps []*Fingerprint, report *PassReport) {
	for _, fp := range fps {
		src := a.ws.NotePath(fp.RelPath)

		// already gone: the user deleted it by hand, just drop the fingerprint
		if !utils.FileExists(src) {
			if err := a.store.RemoveAndSave(fp.ID); err != nil {
				report.AddFailure(fp.ID, fp.Name, StageDelete, err)
				continue
			}
			report.addDeleted()
			slog.Info("sync", "op", "delete", "path", fp.RelPath, "note", "already absent")
			continue
		}

		// The path may have been reclaimed this pass by a different remote
		// id (delete plus create between listings). The file on disk now
		// belongs to the survivor, so only the stale record goes.
		if a.store.ClaimedByOther(fp.RelPath, fp.ID) {
			if err := a.store.RemoveAndSave(fp.ID); err != nil {
				report.AddFailure(fp.ID, fp.Name, StageDelete, err)
				continue
			}
			report.addDeleted()
			slog.Info("sync", "op", "delete", "path", fp.RelPath, "note", "path reclaimed")
			continue
		}

		if err := a.quarantine(fp.RelPath); err != nil {
			slog.Warn("sync", "op", "delete", "path", fp.RelPath, "error", err)
			report.AddFailure(fp.ID, fp.Name, StageDelete, err)
			continue
		}
		report.addQuarantined()

		if err := a.store.RemoveAndSave(fp.ID); err != nil {
			report.AddFailure(fp.ID, fp.Name, StageDelete, err)
			continue
		}
		report.addDeleted()
		slog.Info("sync", "op", "delete", "path", fp.RelPath, "quarantine", a.sessionTS)
	}
}

func (a *Applier) quarantine(relPath string) error {
	return utils.MoveFile(a.ws.NotePath(relPath), a.ws.QuarantinePath(a.sessionTS, relPath))
}
