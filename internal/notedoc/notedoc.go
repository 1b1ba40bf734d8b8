// Package notedoc writes the Markdown companion documents: one doc per
// synced note embedding its rendered page images, plus a collection index at
// the mirror root.
package notedoc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/notemirror/notemirror/internal/drive"
	"github.com/notemirror/notemirror/internal/mirror"
	"github.com/notemirror/notemirror/internal/utils"
)

const indexFileName = "index.md"

type Generator struct {
	docsDir string
	rootDir string
}

func NewGenerator(docsDir, rootDir string) *Generator {
	return &Generator{
		docsDir: docsDir,
		rootDir: rootDir,
	}
}

// DocFileName returns the companion doc name for a note. The id suffix keeps
// docs unique even when display names collide.
func DocFileName(name, id string) string {
	// display names are arbitrary remote strings; keep them to one path element
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("%s %s.md", name, id)
}

// WriteNoteDoc writes the companion doc for one synced note: YAML front
// matter with the note metadata, then one embed per rendered page image.
func (g *Generator) WriteNoteDoc(item *drive.Item, images []string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "---\nalias: %s\nfile_size: %s\nlast_modified: %s\n---\n\n",
		item.Name,
		humanize.IBytes(uint64(item.Size)),
		item.ModifiedTime.Format("2006-01-02 15:04:05"),
	)
	fmt.Fprintf(&b, "# %s\n\n", item.Name)

	for i, image := range images {
		fmt.Fprintf(&b, "![[%s|%s page-%d]] ", image, item.Name, i+1)
	}
	if len(images) > 0 {
		b.WriteString("\n")
	}

	path := filepath.Join(g.docsDir, DocFileName(item.Name, item.ID))
	return utils.AtomicWriteFile(path, []byte(b.String()), 0o644)
}

// RemoveNoteDoc drops the companion doc of a deleted note. Missing docs are
// fine; the doc may never have been written.
func (g *Generator) RemoveNoteDoc(name, id string) error {
	err := os.Remove(filepath.Join(g.docsDir, DocFileName(name, id)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteIndex regenerates index.md at the mirror root from the current
// fingerprint snapshot, sorted by note name for a stable document.
func (g *Generator) WriteIndex(snapshot map[string]*mirror.Fingerprint) error {
	fps := make([]*mirror.Fingerprint, 0, len(snapshot))
	for _, fp := range snapshot {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool {
		if fps[i].Name != fps[j].Name {
			return fps[i].Name < fps[j].Name
		}
		return fps[i].ID < fps[j].ID
	})

	var b strings.Builder
	b.WriteString("# Notes Index\n\n")
	for _, fp := range fps {
		docPath := filepath.ToSlash(filepath.Join(filepath.Base(g.docsDir), DocFileName(fp.Name, fp.ID)))
		fmt.Fprintf(&b, "## [%s](%s)\n\n", fp.Name, docPath)
	}

	path := filepath.Join(g.rootDir, indexFileName)
	return utils.AtomicWriteFile(path, []byte(b.String()), 0o644)
}
