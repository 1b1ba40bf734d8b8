package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemirror/notemirror/internal/drive"
)

type fakeRenderer struct {
	pages map[string]int // note path base -> page count
	fail  map[string]bool
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, notePath string) ([][]byte, error) {
	r.calls++
	base := filepath.Base(notePath)
	if r.fail[base] {
		return nil, errors.New("unparsable note format")
	}
	count := r.pages[base]
	pages := make([][]byte, count)
	for i := range pages {
		pages[i] = []byte("<svg/>")
	}
	return pages, nil
}

func newTestTrigger(t *testing.T, renderer *fakeRenderer) (*RenderTrigger, *Workspace) {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Setup())
	return NewRenderTrigger(ws, renderer, "svg"), ws
}

func TestPageFileNames(t *testing.T) {
	assert.Equal(t, []string{"id1_0.svg", "id1_1.svg", "id1_2.svg"}, PageFileNames("id1", 3, "svg"))

	// pad width grows with the page count
	names := PageFileNames("id1", 12, "svg")
	assert.Equal(t, "id1_00.svg", names[0])
	assert.Equal(t, "id1_11.svg", names[11])

	assert.Empty(t, PageFileNames("id1", 0, "svg"))
}

func TestRenderItems_WritesPages(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]int{"a.note": 2}}
	trigger, ws := newTestTrigger(t, renderer)

	report := &PassReport{}
	images := trigger.RenderItems(context.Background(), []*drive.Item{testItem("id1", "a.note", 1)}, report)

	require.Equal(t, []string{"id1_0.svg", "id1_1.svg"}, images["id1"])
	assert.Equal(t, 1, report.Rendered)
	assert.FileExists(t, filepath.Join(ws.ImagesDir, "id1_0.svg"))
	assert.FileExists(t, filepath.Join(ws.ImagesDir, "id1_1.svg"))
}

func TestRenderItems_RemovesStalePages(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]int{"a.note": 1}}
	trigger, ws := newTestTrigger(t, renderer)

	// leftovers from a previous render with more pages
	for _, name := range []string{"id1_0.svg", "id1_1.svg", "id1_2.svg"} {
		require.NoError(t, os.WriteFile(filepath.Join(ws.ImagesDir, name), []byte("old"), 0o644))
	}

	trigger.RenderItems(context.Background(), []*drive.Item{testItem("id1", "a.note", 1)}, &PassReport{})

	assert.FileExists(t, filepath.Join(ws.ImagesDir, "id1_0.svg"))
	assert.NoFileExists(t, filepath.Join(ws.ImagesDir, "id1_1.svg"))
	assert.NoFileExists(t, filepath.Join(ws.ImagesDir, "id1_2.svg"))
}

func TestRenderItems_FailureIsNonFatal(t *testing.T) {
	renderer := &fakeRenderer{
		pages: map[string]int{"good.note": 1},
		fail:  map[string]bool{"bad.note": true},
	}
	trigger, _ := newTestTrigger(t, renderer)

	report := &PassReport{}
	images := trigger.RenderItems(context.Background(), []*drive.Item{
		testItem("id-bad", "bad.note", 1),
		testItem("id-good", "good.note", 1),
	}, report)

	assert.Equal(t, 1, report.Rendered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageRender, report.Failures[0].Stage)
	assert.NotContains(t, images, "id-bad")
	assert.Contains(t, images, "id-good")
}
