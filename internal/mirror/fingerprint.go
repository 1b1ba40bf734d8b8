package mirror

import (
	"time"

	"github.com/notemirror/notemirror/internal/drive"
)

// Fingerprint is the cached metadata snapshot of one remote item, used to
// detect change without re-fetching content. One fingerprint per remote id;
// an entry exists if and only if the corresponding file exists in the live
// mirror.
type Fingerprint struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RelPath      string    `json:"rel_path"`
	ModifiedTime time.Time `json:"modified_time"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Matches reports whether the remote item is unchanged relative to this
// fingerprint. Remote content hashes are not available from the listing, so
// a rename is indistinguishable from a content change and triggers a refetch.
func (f *Fingerprint) Matches(item *drive.Item) bool {
	return f.Size == item.Size &&
		f.ModifiedTime.Equal(item.ModifiedTime) &&
		f.RelPath == item.RelPath()
}
