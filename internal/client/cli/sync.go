package cli

import (
	"errors"
	"fmt"
	"time"

	"infinite-experiment/logbook/internal/client/transport"

	"github.com/spf13/cobra"
)

type syncOutput struct {
	Pushed   int    `json:"pushed"`
	Rejected int    `json:"rejected"`
	Failed   int    `json:"failed"`
	Pulled   int    `json:"pulled"`
	Deleted  int    `json:"deleted"`
	Error    string `json:"error,omitempty"`
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and pull changes from other devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res, syncErr := a.syncer.SyncNow(cmd.Context())
			out := syncOutput{
				Pushed:   res.Pushed,
				Rejected: res.Rejected,
				Failed:   res.Failed,
				Pulled:   res.Pulled,
				Deleted:  res.Deleted,
			}
			if syncErr != nil {
				out.Error = syncErr.Error()
			}

			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "pushed %d, rejected %d, failed %d, pulled %d, deleted %d\n",
					out.Pushed, out.Rejected, out.Failed, out.Pulled, out.Deleted)
			}

			switch {
			case syncErr == nil:
				return nil
			case errors.Is(syncErr, transport.ErrUnauthorized):
				return WrapExitError(ExitUnauthorized, "sync failed, sign in again", syncErr)
			default:
				return WrapExitError(ExitFailure, "sync failed", syncErr)
			}
		},
	}
}

type statusOutput struct {
	Server     string `json:"server"`
	Mode       string `json:"mode"`
	Queued     int64  `json:"queued"`
	LastSyncAt int64  `json:"lastSyncAt"`
}

func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued changes and the last successful pull",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			queued, err := a.store.QueueLength(cmd.Context())
			if err != nil {
				return err
			}
			last, err := a.store.LastSyncAt(cmd.Context())
			if err != nil {
				return err
			}

			out := statusOutput{
				Server:     a.cfg.ServerURL,
				Mode:       a.cfg.Mode,
				Queued:     queued,
				LastSyncAt: last,
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			lastText := "never"
			if last > 0 {
				lastText = time.UnixMilli(last).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server:     %s (%s)\n", out.Server, out.Mode)
			fmt.Fprintf(cmd.OutOrStdout(), "queued:     %d\n", out.Queued)
			fmt.Fprintf(cmd.OutOrStdout(), "last pull:  %s\n", lastText)
			return nil
		},
	}
}
