// Package mirror implements the incremental synchronization engine: the
// fingerprint store, change classifier, filesystem applier, render trigger
// and the session orchestrator that runs one full sync pass.
package mirror

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/notemirror/notemirror/internal/utils"
)

const (
	notesDir      = "notes"
	imagesDir     = "images"
	docsDir       = "docs"
	quarantineDir = ".deleted"
	metadataDir   = ".data"
	lockFileName  = "notemirror.lock"
	stateFileName = "sync_state.json"
	journalName   = "journal.db"
)

var (
	// ErrSyncInProgress means another process holds the mirror lock.
	ErrSyncInProgress = errors.New("sync already in progress: mirror locked by another process")
)

// Workspace is the on-disk layout of one mirror root. The live mirror tree,
// rendered images, companion docs and quarantine all hang off Root.
type Workspace struct {
	Root          string
	NotesDir      string
	ImagesDir     string
	DocsDir       string
	QuarantineDir string
	MetadataDir   string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	lockFilePath := filepath.Join(root, metadataDir, lockFileName)

	return &Workspace{
		Root:          root,
		NotesDir:      filepath.Join(root, notesDir),
		ImagesDir:     filepath.Join(root, imagesDir),
		DocsDir:       filepath.Join(root, docsDir),
		QuarantineDir: filepath.Join(root, quarantineDir),
		MetadataDir:   filepath.Join(root, metadataDir),
		flock:         flock.New(lockFilePath),
	}, nil
}

// Setup creates the directory tree. It does not take the lock; that belongs
// to the session for the duration of a pass.
func (w *Workspace) Setup() error {
	dirs := []string{w.NotesDir, w.ImagesDir, w.DocsDir, w.MetadataDir}
	for _, dir := range dirs {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Lock takes the exclusive advisory lock for a sync pass. Fails fast with
// ErrSyncInProgress when another pass holds it.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock mirror: %w", err)
	}
	if !locked {
		return ErrSyncInProgress
	}

	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock mirror: %w", err)
	}
	return nil
}

// NotePath returns the absolute live-mirror path for a mirror-relative path.
func (w *Workspace) NotePath(relPath string) string {
	return filepath.Join(w.NotesDir, filepath.FromSlash(relPath))
}

// QuarantinePath returns the quarantine location of relPath for a given
// session timestamp, preserving the relative structure.
func (w *Workspace) QuarantinePath(sessionTS, relPath string) string {
	return filepath.Join(w.QuarantineDir, sessionTS, filepath.FromSlash(relPath))
}

func (w *Workspace) StatePath() string {
	return filepath.Join(w.MetadataDir, stateFileName)
}

func (w *Workspace) JournalPath() string {
	return filepath.Join(w.MetadataDir, journalName)
}
