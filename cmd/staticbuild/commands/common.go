package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/kata-ci/staticbuild/internal/catalog"
	"github.com/kata-ci/staticbuild/internal/config"
)

// Global context passed to subcommands if we need to share global state later.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Catalog string           `help:"Asset catalog file (YAML); built-in catalog when unset"`
	EnvFile string           `name:"env-file" help:"Extra dotenv file to load before resolving credentials"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build all assets for a stage and merge them into one tarball"`
	Merge   MergeCmd   `cmd:"" help:"Merge already-built artifacts against the version manifest"`
	Assets  AssetsCmd  `cmd:"" help:"List the assets the catalog selects for a stage"`
	History HistoryCmd `cmd:"" help:"Show recent pipeline runs from the history database"`
	Daemon  DaemonCmd  `cmd:"" help:"Run resident: periodic builds, manifest watching and a status endpoint"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := parseLogLevel(c.Verbose)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// parseLogLevel honors the verbose flag and the STATICBUILD_LOG_LEVEL
// override.
func parseLogLevel(verbose bool) slog.Level {
	if v := strings.ToLower(os.Getenv("STATICBUILD_LOG_LEVEL")); v != "" {
		switch v {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadCatalog resolves the asset catalog from the root flag.
func loadCatalog(root *CLI) (*catalog.Catalog, error) {
	if root.Catalog == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(root.Catalog)
}

// loadEnv layers dotenv files before credential resolution.
func loadEnv(root *CLI) error {
	var extra []string
	if root.EnvFile != "" {
		extra = append(extra, root.EnvFile)
	}
	return config.LoadEnv(extra...)
}
