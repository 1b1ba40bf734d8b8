package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/notemirror/notemirror/internal/drive"
	"github.com/notemirror/notemirror/internal/utils"
)

// PageRenderer turns one note file into an ordered sequence of page images.
// Deterministic given identical file bytes; a format error is non-fatal to
// the pass.
type PageRenderer interface {
	Render(ctx context.Context, notePath string) ([][]byte, error)
}

// RenderTrigger renders exactly the items the applier wrote this pass.
// Unchanged items are never re-rendered; that is the efficiency point of the
// whole classify-then-apply design.
type RenderTrigger struct {
	ws       *Workspace
	renderer PageRenderer
	ext      string
}

func NewRenderTrigger(ws *Workspace, renderer PageRenderer, ext string) *RenderTrigger {
	if ext == "" {
		ext = "svg"
	}
	return &RenderTrigger{
		ws:       ws,
		renderer: renderer,
		ext:      ext,
	}
}

// RenderItems renders each item once and returns the page image file names
// per item id. Render failures are logged, reported and skipped.
func (rt *RenderTrigger) RenderItems(ctx context.Context, items []*drive.Item, report *PassReport) map[string][]string {
	images := make(map[string][]string, len(items))

	for _, item := range items {
		select {
		case <-ctx.Done():
			return images
		default:
		}

		pages, err := rt.renderOne(ctx, item)
		if err != nil {
			slog.Warn("sync", "op", "render", "path", item.RelPath(), "error", err)
			report.AddFailure(item.ID, item.Name, StageRender, err)
			continue
		}

		images[item.ID] = pages
		report.addRendered()
		slog.Info("sync", "op", "render", "path", item.RelPath(), "pages", len(pages))
	}

	return images
}

func (rt *RenderTrigger) renderOne(ctx context.Context, item *drive.Item) ([]string, error) {
	pages, err := rt.renderer.Render(ctx, rt.ws.NotePath(item.RelPath()))
	if err != nil {
		return nil, err
	}

	// drop pages from a previous render; the page count may have shrunk
	if err := rt.removeStalePages(item.ID); err != nil {
		return nil, fmt.Errorf("remove stale pages: %w", err)
	}

	names := PageFileNames(item.ID, len(pages), rt.ext)
	for i, page := range pages {
		path := filepath.Join(rt.ws.ImagesDir, names[i])
		if err := utils.AtomicWriteFile(path, page, 0o644); err != nil {
			return nil, fmt.Errorf("write page %d: %w", i, err)
		}
	}

	return names, nil
}

func (rt *RenderTrigger) removeStalePages(id string) error {
	stale, err := filepath.Glob(filepath.Join(rt.ws.ImagesDir, id+"_*"))
	if err != nil {
		return err
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// PageFileNames returns the deterministic page image names for an item:
// `<id>_<page>.<ext>` with a 0-based zero-padded page index.
func PageFileNames(id string, total int, ext string) []string {
	width := len(strconv.Itoa(total))

	names := make([]string, total)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%0*d.%s", id, width, i, ext)
	}
	return names
}
