package mirror

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemirror/notemirror/internal/drive"
	"github.com/notemirror/notemirror/internal/utils"
)

// fakeFetcher serves content from memory and can fail selected ids.
type fakeFetcher struct {
	mu      sync.Mutex
	content map[string][]byte
	fail    map[string]bool
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		content: make(map[string][]byte),
		fail:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] {
		return nil, fmt.Errorf("fetch %s: %w", id, errors.New("simulated transport error"))
	}
	data, ok := f.content[id]
	if !ok {
		return nil, drive.ErrNotFound
	}
	return data, nil
}

func newTestApplier(t *testing.T) (*Applier, *Workspace, *Store, *fakeFetcher) {
	t.Helper()

	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Setup())

	store, err := LoadStore(ws.StatePath())
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	applier := NewApplier(ws, store, fetcher, 2, "2024-03-01T10-00-00Z")
	return applier, ws, store, fetcher
}

func TestApply_DownloadWritesFileAndCommitsFingerprint(t *testing.T) {
	applier, ws, store, fetcher := newTestApplier(t)
	fetcher.content["id1"] = []byte("note-bytes")

	item := testItem("id1", "a.note", int64(len("note-bytes")))
	report := &PassReport{}

	downloaded := applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, report)
	require.Len(t, downloaded, 1)
	assert.Equal(t, 1, report.Downloaded)

	data, err := os.ReadFile(ws.NotePath("a.note"))
	require.NoError(t, err)
	assert.Equal(t, []byte("note-bytes"), data)

	// crash simulation: a fresh load sees the fingerprint
	reloaded, err := LoadStore(ws.StatePath())
	require.NoError(t, err)
	fp, ok := reloaded.Get("id1")
	require.True(t, ok)
	assert.Equal(t, "a.note", fp.RelPath)
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum([]byte("note-bytes"))), fp.Hash)
	_ = store
}

func TestApply_NestedPathCreatesFolders(t *testing.T) {
	applier, ws, _, fetcher := newTestApplier(t)
	fetcher.content["id1"] = []byte("x")

	item := testItem("id1", "standup.note", 1)
	item.ParentPath = []string{"Work", "Meetings"}

	applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, &PassReport{})

	assert.FileExists(t, ws.NotePath("Work/Meetings/standup.note"))
}

func TestApply_PartialFailureContinues(t *testing.T) {
	applier, ws, store, fetcher := newTestApplier(t)
	fetcher.content["id1"] = []byte("one")
	fetcher.fail["id2"] = true
	fetcher.content["id3"] = []byte("three")

	items := []*drive.Item{
		testItem("id1", "a.note", 3),
		testItem("id2", "b.note", 3),
		testItem("id3", "c.note", 5),
	}
	report := &PassReport{}

	downloaded := applier.Apply(context.Background(), &Classification{ToDownload: items}, report)

	require.Len(t, downloaded, 2)
	assert.Equal(t, 2, report.Downloaded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "id2", report.Failures[0].ID)
	assert.Equal(t, StageFetch, report.Failures[0].Stage)

	// the failed item keeps no fingerprint, so the next pass retries it
	_, ok := store.Get("id2")
	assert.False(t, ok)
	assert.NoFileExists(t, ws.NotePath("b.note"))
}

func TestApply_DeleteMovesToQuarantine(t *testing.T) {
	// Scenario C
	applier, ws, store, fetcher := newTestApplier(t)
	fetcher.content["id2"] = []byte("old-content")

	item := testItem("id2", "old.note", 11)
	applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, &PassReport{})

	fp, ok := store.Get("id2")
	require.True(t, ok)

	report := &PassReport{}
	applier.Apply(context.Background(), &Classification{ToDelete: []*Fingerprint{fp}}, report)

	assert.Equal(t, 1, report.Deleted)
	assert.NoFileExists(t, ws.NotePath("old.note"))

	// never physically deleted: content survives in the quarantine tree
	quarantined := ws.QuarantinePath("2024-03-01T10-00-00Z", "old.note")
	data, err := os.ReadFile(quarantined)
	require.NoError(t, err)
	assert.Equal(t, []byte("old-content"), data)

	_, ok = store.Get("id2")
	assert.False(t, ok)
}

func TestApply_DeleteAlreadyAbsentSelfHeals(t *testing.T) {
	applier, _, store, _ := newTestApplier(t)

	fp := testFingerprint("id2", "manually-removed.note")
	store.Put(fp)

	report := &PassReport{}
	applier.Apply(context.Background(), &Classification{ToDelete: []*Fingerprint{fp}}, report)

	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, report.Failures)
	_, ok := store.Get("id2")
	assert.False(t, ok)
}

func TestApply_ForeignFileAtTargetIsQuarantined(t *testing.T) {
	applier, ws, _, fetcher := newTestApplier(t)
	fetcher.content["id1"] = []byte("remote")

	// user-created file at the download target, tracked by no fingerprint
	foreign := ws.NotePath("a.note")
	require.NoError(t, os.MkdirAll(filepath.Dir(foreign), 0o755))
	require.NoError(t, os.WriteFile(foreign, []byte("user data"), 0o644))

	item := testItem("id1", "a.note", 6)
	report := &PassReport{}
	applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, report)

	assert.Equal(t, 1, report.Quarantined)
	assert.Empty(t, report.Failures)

	data, err := os.ReadFile(ws.NotePath("a.note"))
	require.NoError(t, err)
	assert.Equal(t, []byte("remote"), data)

	// the foreign content was preserved, not overwritten
	saved, err := os.ReadFile(ws.QuarantinePath("2024-03-01T10-00-00Z", "a.note"))
	require.NoError(t, err)
	assert.Equal(t, []byte("user data"), saved)
}

func TestApply_RenamedItemOldCopyQuarantined(t *testing.T) {
	applier, ws, _, fetcher := newTestApplier(t)
	fetcher.content["id1"] = []byte("v1")

	item := testItem("id1", "a.note", 2)
	applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, &PassReport{})
	require.FileExists(t, ws.NotePath("a.note"))

	// remote rename: same id, new name
	fetcher.content["id1"] = []byte("v2")
	renamed := testItem("id1", "b.note", 2)
	report := &PassReport{}
	applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{renamed}}, report)

	assert.FileExists(t, ws.NotePath("b.note"))
	assert.NoFileExists(t, ws.NotePath("a.note"))
	assert.FileExists(t, ws.QuarantinePath("2024-03-01T10-00-00Z", "a.note"))
	assert.Equal(t, 1, report.Quarantined)
}

func TestApply_UnchangedTouchesNothing(t *testing.T) {
	applier, ws, store, _ := newTestApplier(t)

	item := testItem("id1", "a.note", 100)
	report := &PassReport{}
	downloaded := applier.Apply(context.Background(), &Classification{Unchanged: []*drive.Item{item}}, report)

	assert.Empty(t, downloaded)
	assert.Equal(t, 0, report.Downloaded)
	assert.NoFileExists(t, ws.NotePath("a.note"))
	assert.Equal(t, 0, store.Len())
}

func TestApply_TraversalNameStaysInsideMirror(t *testing.T) {
	applier, ws, store, fetcher := newTestApplier(t)
	fetcher.content["evil"] = []byte("payload")

	item := testItem("evil", "../../../escape.note", int64(len("payload")))
	report := &PassReport{}

	downloaded := applier.Apply(context.Background(), &Classification{ToDownload: []*drive.Item{item}}, report)
	require.Len(t, downloaded, 1)

	// nothing lands above the notes dir
	assert.NoFileExists(t, filepath.Join(ws.Root, "escape.note"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(ws.Root), "escape.note"))

	fp, ok := store.Get("evil")
	require.True(t, ok)
	assert.NotContains(t, fp.RelPath, "..")
	target := ws.NotePath(fp.RelPath)
	require.True(t, strings.HasPrefix(target, ws.NotesDir+string(filepath.Separator)))
	assert.FileExists(t, target)
}

func TestApply_ReclaimedPathDropsRecordKeepsFile(t *testing.T) {
	applier, ws, store, fetcher := newTestApplier(t)

	// old id synced x.note on a previous pass
	old := testItem("old", "x.note", 3)
	require.NoError(t, utils.AtomicWriteFile(ws.NotePath("x.note"), []byte("old"), 0o644))
	require.NoError(t, store.PutAndSave(fingerprintOf(old)))

	// remotely the note was deleted and recreated under a new id
	fresh := testItem("new", "x.note", 5)
	fetcher.content["new"] = []byte("fresh")

	cls, err := Classify(store.Snapshot(), []*drive.Item{fresh})
	require.NoError(t, err)
	require.Len(t, cls.ToDownload, 1)
	require.Len(t, cls.ToDelete, 1)

	report := &PassReport{}
	applier.Apply(context.Background(), cls, report)

	data, err := os.ReadFile(ws.NotePath("x.note"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)
	assert.Equal(t, 0, report.Quarantined)
	assert.Equal(t, 1, report.Deleted)

	reloaded, err := LoadStore(ws.StatePath())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	_, ok := reloaded.Get("new")
	assert.True(t, ok)
	_, ok = reloaded.Get("old")
	assert.False(t, ok)
}
