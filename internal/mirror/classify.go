package mirror

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notemirror/notemirror/internal/drive"
)

// ErrDuplicateRemoteID means the lister yielded two items sharing an id.
// That signals an upstream listing bug and must never be silently folded.
var ErrDuplicateRemoteID = errors.New("duplicate remote id in listing")

// ErrPathConflict means two distinct remote ids resolve to the same
// mirror-relative path. Proceeding would let one item silently overwrite
// the other, so the pass refuses instead.
var ErrPathConflict = errors.New("remote items conflict on mirror path")

// Classification partitions one pass into three disjoint sets: remote items
// to fetch, remote items already converged, and stored fingerprints whose
// remote counterpart is gone. Computed fresh each pass, never persisted.
type Classification struct {
	ToDownload []*drive.Item
	Unchanged  []*drive.Item
	ToDelete   []*Fingerprint
}

// Classify compares a fresh remote listing against a fingerprint snapshot.
// Pure and deterministic: no side effects, identical inputs give identical
// output. ToDownload and Unchanged follow listing order; ToDelete is sorted
// by id.
func Classify(snapshot map[string]*Fingerprint, items []*drive.Item) (*Classification, error) {
	remote := make(map[string]*drive.Item, len(items))
	paths := make(map[string]string, len(items))
	cls := &Classification{}

	for _, item := range items {
		if _, seen := remote[item.ID]; seen {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicateRemoteID, item.ID, item.Name)
		}
		remote[item.ID] = item

		if other, taken := paths[item.RelPath()]; taken {
			return nil, fmt.Errorf("%w: %q claimed by %s and %s", ErrPathConflict, item.RelPath(), other, item.ID)
		}
		paths[item.RelPath()] = item.ID

		fp, known := snapshot[item.ID]
		if !known || !fp.Matches(item) {
			cls.ToDownload = append(cls.ToDownload, item)
		} else {
			cls.Unchanged = append(cls.Unchanged, item)
		}
	}

	for id, fp := range snapshot {
		if _, exists := remote[id]; !exists {
			cls.ToDelete = append(cls.ToDelete, fp)
		}
	}
	sort.Slice(cls.ToDelete, func(i, j int) bool {
		return cls.ToDelete[i].ID < cls.ToDelete[j].ID
	})

	return cls, nil
}
