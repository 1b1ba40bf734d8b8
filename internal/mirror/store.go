package mirror

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/notemirror/notemirror/internal/utils"
)

// ErrCorruptState means the persisted state file exists but cannot be
// parsed. The caller decides whether to abort or start from scratch.
var ErrCorruptState = errors.New("sync state file is corrupt")

// storeState is the wire shape of the state file: the fingerprint map plus
// session metadata.
type storeState struct {
	LastRunAt     time.Time               `json:"last_run_at"`
	LastRunStatus string                  `json:"last_run_status"`
	Fingerprints  map[string]*Fingerprint `json:"fingerprints"`
}

// Store is the persistent mapping from remote item id to the last-synced
// fingerprint. Mutations are in-memory until Save; the per-item commit
// helpers (PutAndSave, RemoveAndSave) run read-modify-persist as one
// serialized step so parallel apply workers never interleave writes.
type Store struct {
	path  string
	mu    sync.Mutex
	state storeState
}

// LoadStore reads the state file at path. A missing file yields an empty
// store; an unparsable one fails with ErrCorruptState.
func LoadStore(path string) (*Store, error) {
	store := &Store{
		path: path,
		state: storeState{
			Fingerprints: make(map[string]*Fingerprint),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &store.state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	if store.state.Fingerprints == nil {
		store.state.Fingerprints = make(map[string]*Fingerprint)
	}

	return store, nil
}

// Save persists the full store atomically: either the old or the fully new
// content survives a crash, never a partial write.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := utils.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Get(id string) (*Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.state.Fingerprints[id]
	return fp, ok
}

func (s *Store) Put(fp *Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Fingerprints[fp.ID] = fp
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Fingerprints, id)
}

// PutAndSave commits one fingerprint and persists the store as a single
// step. On a failed persist the in-memory map is rolled back, so the store
// never claims an item that did not make it to disk.
func (s *Store) PutAndSave(fp *Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.state.Fingerprints[fp.ID]
	s.state.Fingerprints[fp.ID] = fp
	if err := s.saveLocked(); err != nil {
		if existed {
			s.state.Fingerprints[fp.ID] = prev
		} else {
			delete(s.state.Fingerprints, fp.ID)
		}
		return err
	}
	return nil
}

// RemoveAndSave drops one fingerprint and persists the store as a single step.
func (s *Store) RemoveAndSave(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.state.Fingerprints[id]
	if !existed {
		return nil
	}
	delete(s.state.Fingerprints, id)
	if err := s.saveLocked(); err != nil {
		s.state.Fingerprints[id] = prev
		return err
	}
	return nil
}

// Snapshot returns a copy of the fingerprint map. The fingerprints
// themselves are shared; treat them as immutable.
func (s *Store) Snapshot() map[string]*Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*Fingerprint, len(s.state.Fingerprints))
	for id, fp := range s.state.Fingerprints {
		snapshot[id] = fp
	}
	return snapshot
}

// TracksRelPath reports whether any fingerprint claims the given
// mirror-relative path. Used to tell foreign files from tracked ones.
func (s *Store) TracksRelPath(relPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fp := range s.state.Fingerprints {
		if fp.RelPath == relPath {
			return true
		}
	}
	return false
}

// ClaimedByOther reports whether a fingerprint with a different id claims
// the given mirror-relative path.
func (s *Store) ClaimedByOther(relPath, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fp := range s.state.Fingerprints {
		if fp.RelPath == relPath && fp.ID != id {
			return true
		}
	}
	return false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Fingerprints)
}

// SetLastRun records session metadata ahead of the final save.
func (s *Store) SetLastRun(at time.Time, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastRunAt = at
	s.state.LastRunStatus = status
}

func (s *Store) LastRun() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastRunAt, s.state.LastRunStatus
}
