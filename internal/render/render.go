// Package render adapts an external note-to-image converter tool to the
// engine's PageRenderer contract. The converter's internals are not our
// business; we hand it a note file and an output directory and collect
// whatever page files it produced, in name order.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoCommand = errors.New("render: converter command not configured")

// Placeholders substituted into the configured command arguments.
const (
	inputPlaceholder  = "{input}"
	outdirPlaceholder = "{outdir}"
)

// CommandRenderer runs a configured external converter once per note. The
// command receives the note path and a scratch output directory through the
// {input} and {outdir} placeholders.
type CommandRenderer struct {
	command []string
}

func NewCommandRenderer(command []string) (*CommandRenderer, error) {
	if len(command) == 0 {
		return nil, ErrNoCommand
	}
	return &CommandRenderer{command: command}, nil
}

// Render converts one note file into its ordered page images. A converter
// failure (bad format, crash) comes back as an error; the caller treats it
// as non-fatal for the pass.
func (r *CommandRenderer) Render(ctx context.Context, notePath string) ([][]byte, error) {
	outDir, err := os.MkdirTemp("", "notemirror-render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	args := make([]string, len(r.command))
	for i, arg := range r.command {
		arg = strings.ReplaceAll(arg, inputPlaceholder, notePath)
		arg = strings.ReplaceAll(arg, outdirPlaceholder, outDir)
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("converter %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}

	return collectPages(outDir)
}

// collectPages reads the produced page files sorted by name, which the
// converter is expected to emit with ordered numeric suffixes.
func collectPages(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pages = append(pages, data)
	}
	return pages, nil
}
