package drive

import (
	"strings"
	"time"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"

	// query strings for files.list, matching the Drive v3 REST API
	noteQuery   = "mimeType != 'application/vnd.google-apps.folder' and name contains '.note' and trashed = false"
	folderQuery = "mimeType = '" + folderMimeType + "' and trashed = false"

	listFields = "nextPageToken, files(id, name, mimeType, size, parents, modifiedTime)"
	pageSize   = 1000
)

// Item is one entry from the remote listing. Immutable snapshot, re-fetched
// every pass.
type Item struct {
	ID           string
	Name         string
	ModifiedTime time.Time
	Size         int64
	ParentPath   []string
}

// RelPath returns the mirror-relative slash path of the item (parent folders
// plus display name). Every segment is sanitized: Drive names are arbitrary
// strings and must never address anything outside the mirror root.
func (i *Item) RelPath() string {
	parts := make([]string, 0, len(i.ParentPath)+1)
	for _, part := range i.ParentPath {
		parts = append(parts, sanitizeSegment(part))
	}
	parts = append(parts, sanitizeSegment(i.Name))
	return strings.Join(parts, "/")
}

// sanitizeSegment reduces one remote display name to a single safe path
// element. Separators are replaced and dot segments rewritten.
func sanitizeSegment(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	switch name {
	case "", ".", "..":
		return "_"
	}
	return name
}

// driveFile is the wire shape of a files.list entry. Size comes back as a
// decimal string per the Drive API int64 format.
type driveFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         string   `json:"size"`
	Parents      []string `json:"parents"`
	ModifiedTime string   `json:"modifiedTime"`
}

type fileListResponse struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// driveError is the wire shape of a Drive API error response.
type driveError struct {
	ErrorInfo struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
