package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notemirror/notemirror/internal/config"
	"github.com/notemirror/notemirror/internal/drive"
	"github.com/notemirror/notemirror/internal/journal"
	"github.com/notemirror/notemirror/internal/mirror"
	"github.com/notemirror/notemirror/internal/notedoc"
	"github.com/notemirror/notemirror/internal/render"
	"github.com/notemirror/notemirror/internal/utils"
	"github.com/notemirror/notemirror/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "notemirror",
	Short:   "Mirror a Supernote collection from Google Drive and render page images",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		report, err := runSyncPass(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if report.FailureCount() > 0 {
			slog.Warn("pass finished with failures", "count", report.FailureCount())
			for _, failure := range report.Failures {
				slog.Warn("item failed", "name", failure.Name, "stage", failure.Stage, "error", failure.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("mirror", "m", config.DefaultMirrorDir, "Mirror root directory")
	rootCmd.Flags().StringP("token", "t", "", "Google Drive access token")
	rootCmd.Flags().StringP("server", "s", config.DefaultDriveURL, "Drive API base URL")
	rootCmd.Flags().BoolP("render", "r", false, "Render page images for changed notes")
	rootCmd.Flags().IntP("parallel", "p", 4, "Parallel downloads per pass")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "NoteMirror config file")
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	logFile := filepath.Join(home, ".notemirror", "logs", "notemirror.log")
	file, err := openLogFile(logFile)
	if err != nil {
		// stdout-only logging is fine
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
}

func openLogFile(path string) (*os.File, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".notemirror"))
		viper.AddConfigPath(filepath.Join(home, ".config/notemirror"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("mirror_dir", cmd.Flags().Lookup("mirror"))
	viper.BindPFlag("access_token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("drive_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("render_enabled", cmd.Flags().Lookup("render"))
	viper.BindPFlag("parallelism", cmd.Flags().Lookup("parallel"))

	viper.SetEnvPrefix("NOTEMIRROR")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() (*config.Config, error) {
	cfg := &config.Config{
		MirrorDir:     viper.GetString("mirror_dir"),
		DriveURL:      viper.GetString("drive_url"),
		AccessToken:   viper.GetString("access_token"),
		Include:       viper.GetStringSlice("include"),
		RenderEnabled: viper.GetBool("render_enabled"),
		RenderCommand: viper.GetStringSlice("render_command"),
		Parallelism:   viper.GetInt("parallelism"),
		Path:          viper.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runSyncPass wires the collaborators together and runs one full pass.
func runSyncPass(ctx context.Context, cfg *config.Config) (*mirror.PassReport, error) {
	ws, err := mirror.NewWorkspace(cfg.MirrorDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	client, err := drive.New(&drive.Config{
		BaseURL:     cfg.DriveURL,
		AccessToken: cfg.AccessToken,
		Include:     cfg.Include,
	})
	if err != nil {
		return nil, err
	}

	var renderer mirror.PageRenderer
	if cfg.RenderEnabled {
		renderer, err = render.NewCommandRenderer(cfg.RenderCommand)
		if err != nil {
			return nil, err
		}
	}

	passJournal, err := journal.Open(ws.JournalPath())
	if err != nil {
		return nil, err
	}
	defer passJournal.Close()

	session, err := mirror.NewSession(&mirror.SessionConfig{
		Workspace:   ws,
		Lister:      client,
		Fetcher:     client,
		Renderer:    renderer,
		Docs:        notedoc.NewGenerator(ws.DocsDir, ws.Root),
		Recorder:    passJournal,
		Parallelism: cfg.Parallelism,
	})
	if err != nil {
		return nil, err
	}

	return session.Run(ctx)
}
