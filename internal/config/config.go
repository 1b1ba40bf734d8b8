package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"

	"github.com/notemirror/notemirror/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".notemirror", "config.json")
	DefaultMirrorDir  = filepath.Join(home, "NoteMirror")
	DefaultDriveURL   = "https://www.googleapis.com/drive/v3"
)

// DefaultInclude matches Supernote notebooks anywhere in the remote tree.
var DefaultInclude = []string{"**/*.note"}

type Config struct {
	MirrorDir     string   `json:"mirror_dir"`
	DriveURL      string   `json:"drive_url"`
	AccessToken   string   `json:"access_token"`
	Include       []string `json:"include"`
	RenderEnabled bool     `json:"render_enabled"`
	RenderCommand []string `json:"render_command"`
	Parallelism   int      `json:"parallelism"`
	Path          string   `json:"-"`
}

func (c *Config) Validate() error {
	if c.MirrorDir == "" {
		return errors.New("mirror_dir is required")
	}

	resolved, err := utils.ResolvePath(c.MirrorDir)
	if err != nil {
		return fmt.Errorf("invalid mirror_dir %q: %w", c.MirrorDir, err)
	}
	c.MirrorDir = resolved

	if c.DriveURL == "" {
		c.DriveURL = DefaultDriveURL
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if len(c.Include) == 0 {
		c.Include = DefaultInclude
	}
	for _, pattern := range c.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	if c.RenderEnabled && len(c.RenderCommand) == 0 {
		return errors.New("render_command is required when rendering is enabled")
	}

	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
