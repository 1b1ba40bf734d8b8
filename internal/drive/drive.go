// Package drive is a minimal Google Drive v3 REST client covering the two
// collaborator contracts the sync engine consumes: listing the note
// collection and fetching file content. Auth flows are not handled here; the
// client is handed a ready bearer token.
package drive

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/imroc/req/v3"

	"github.com/notemirror/notemirror/internal/version"
)

var (
	ErrNoBaseURL = errors.New("drive: base url missing")
	ErrNotFound  = errors.New("drive: file not found")
)

var userAgent = fmt.Sprintf("NoteMirror/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

type Config struct {
	BaseURL     string
	AccessToken string
	// Include restricts the listing to items whose mirror-relative path
	// matches at least one doublestar pattern. Empty means everything.
	Include []string
}

// Client talks to the Drive REST API.
type Client struct {
	client  *req.Client
	include []string
}

func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.AccessToken != "" {
		client.SetCommonBearerAuthToken(cfg.AccessToken)
	}

	return &Client{
		client:  client,
		include: cfg.Include,
	}, nil
}

// List returns the full note collection. All pages are consumed before
// returning; a failure on any page fails the whole listing so a partial view
// is never acted upon.
func (c *Client) List(ctx context.Context) ([]*Item, error) {
	folders, err := c.listFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	files, err := c.listPaged(ctx, noteQuery)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	items := make([]*Item, 0, len(files))
	for _, f := range files {
		// folders and sizeless shortcuts are not mirrorable content
		if f.MimeType == folderMimeType || f.Size == "" {
			continue
		}

		item, err := toItem(&f, folders)
		if err != nil {
			return nil, fmt.Errorf("listing entry %s: %w", f.ID, err)
		}

		if !c.includes(item) {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// Fetch downloads the content of a single file.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("alt", "media").
		Get("/files/" + id)
	if err != nil {
		return nil, fmt.Errorf("drive fetch %s: %w", id, err)
	}

	if resp.StatusCode == 404 {
		return nil, fmt.Errorf("drive fetch %s: %w", id, ErrNotFound)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("drive fetch %s: %s", id, resp.Status)
	}

	return resp.Bytes(), nil
}

func (c *Client) listPaged(ctx context.Context, query string) ([]driveFile, error) {
	var files []driveFile
	pageToken := ""

	for {
		var page fileListResponse
		r := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":        query,
				"spaces":   "drive",
				"fields":   listFields,
				"pageSize": strconv.Itoa(pageSize),
			}).
			SetSuccessResult(&page).
			SetErrorResult(&driveError{})
		if pageToken != "" {
			r.SetQueryParam("pageToken", pageToken)
		}

		resp, err := r.Get("/files")
		if err := handleAPIError(resp, err, "files.list"); err != nil {
			return nil, err
		}

		files = append(files, page.Files...)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return files, nil
		}
	}
}

// listFolders builds an id -> folder index used to resolve each file's
// parent path to a chain of folder names.
func (c *Client) listFolders(ctx context.Context) (map[string]driveFile, error) {
	entries, err := c.listPaged(ctx, folderQuery)
	if err != nil {
		return nil, err
	}

	folders := make(map[string]driveFile, len(entries))
	for _, f := range entries {
		folders[f.ID] = f
	}
	return folders, nil
}

func (c *Client) includes(item *Item) bool {
	if len(c.include) == 0 {
		return true
	}
	for _, pattern := range c.include {
		if ok, _ := doublestar.Match(pattern, item.RelPath()); ok {
			return true
		}
	}
	return false
}

func toItem(f *driveFile, folders map[string]driveFile) (*Item, error) {
	size, err := strconv.ParseInt(f.Size, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", f.Size, err)
	}

	modified, err := time.Parse(time.RFC3339, f.ModifiedTime)
	if err != nil {
		return nil, fmt.Errorf("parse modifiedTime %q: %w", f.ModifiedTime, err)
	}

	return &Item{
		ID:           f.ID,
		Name:         f.Name,
		ModifiedTime: modified.UTC(),
		Size:         size,
		ParentPath:   resolveParentPath(f.Parents, folders),
	}, nil
}

// resolveParentPath walks the parent chain up to the Drive root. An unknown
// parent id (the root itself, or a folder outside the query scope) ends the
// chain. Cycles are cut off at a sane depth.
func resolveParentPath(parents []string, folders map[string]driveFile) []string {
	var reversed []string

	id := ""
	if len(parents) > 0 {
		id = parents[0]
	}

	for depth := 0; id != "" && depth < 64; depth++ {
		folder, ok := folders[id]
		if !ok {
			break
		}
		reversed = append(reversed, folder.Name)
		id = ""
		if len(folder.Parents) > 0 {
			id = folder.Parents[0]
		}
	}

	// walked leaf-to-root, flip it
	path := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return path
}

// handleAPIError folds the request error and the API error state into one error
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*driveError); ok && apiErr.ErrorInfo.Message != "" {
			return fmt.Errorf("api error: %s %d %s", operation, apiErr.ErrorInfo.Code, apiErr.ErrorInfo.Message)
		}
		return fmt.Errorf("api error: %s %s", operation, resp.Status)
	}

	return nil
}
