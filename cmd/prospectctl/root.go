package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/prospects/internal/config"
	"github.com/JonMunkholm/prospects/internal/core"
	"github.com/JonMunkholm/prospects/internal/core/sources"
	_ "github.com/JonMunkholm/prospects/internal/core/tables" // Register all tables
	"github.com/JonMunkholm/prospects/internal/logging"
	"github.com/JonMunkholm/prospects/internal/store"
	_ "github.com/JonMunkholm/prospects/internal/store/postgres" // Register store drivers
	_ "github.com/JonMunkholm/prospects/internal/store/sqlite"
)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
	user      string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "prospectctl",
		Short:         "Operate the unified prospects store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Overload(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return withCode(exitUsage, fmt.Errorf("load %s: %w", opts.envFile, err))
			}
			// stdout carries command output; logs go to stderr.
			logging.SetupWriter(stderr, opts.logLevel, opts.logFormat)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load if present")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.user, "user", defaultUser(), "user the operation runs as (column configs, import jobs)")

	cmd.AddCommand(
		newMigrateCmd(),
		newSourcesCmd(),
		newMergeCmd(),
		newQueryCmd(),
		newExportCmd(),
		newImportCmd(opts),
	)
	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "prospectctl"
}

// app is an opened service and the store behind it.
type app struct {
	cfg     *config.Config
	backend store.Backend
	service *core.Service
}

// openApp loads the configuration and opens the store and service the
// same way the server does.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}

	backend, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	reg, err := sources.Load(cfg.Sources.File)
	if err != nil {
		backend.Close()
		return nil, err
	}

	svc, err := core.NewService(backend, reg, cfg.ServiceOptions())
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &app{cfg: cfg, backend: backend, service: svc}, nil
}

func (a *app) Close() {
	a.backend.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
