// Package cli is the logbook command line client.
package cli

import (
	"fmt"
	"slices"

	"infinite-experiment/logbook/internal/client/config"
	"infinite-experiment/logbook/internal/client/store"
	"infinite-experiment/logbook/internal/client/syncer"
	"infinite-experiment/logbook/internal/client/transport"
	"infinite-experiment/logbook/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "logbook",
		Short: "Offline-first pilot logbook",
		Long: `Record flights, aircraft and crew locally and synchronize them with
the logbook server when a connection is available.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log sync activity to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// app is the per-invocation client: config, local store and syncer.
type app struct {
	cfg    *config.Config
	store  *store.Store
	syncer *syncer.Syncer
}

func (o *RootOptions) open() (*app, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	if o.Verbose {
		if err := logging.Init(cfg.AppEnv); err != nil {
			return nil, err
		}
	} else {
		logging.SetLogger(zap.NewNop().Sugar())
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open local database", err)
	}

	tr := transport.New(cfg.ServerURL, cfg.Token, cfg.Timeout)
	s := syncer.New(st, tr, syncer.Options{Mode: cfg.Mode, BatchSize: cfg.BatchSize})
	// Each invocation is short-lived; only the sync command talks to the server.
	s.NetworkLost()

	return &app{cfg: cfg, store: st, syncer: s}, nil
}

func (a *app) Close() error {
	a.syncer.Close()
	return a.store.Close()
}
