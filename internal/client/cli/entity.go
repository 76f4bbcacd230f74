package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"infinite-experiment/logbook/internal/client/store"
	"infinite-experiment/logbook/internal/models/dtos"

	"github.com/spf13/cobra"
)

const collectionsHelp = "flights, aircraft or personnel"

type dataOptions struct {
	*RootOptions
	Data string
}

func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <collection>",
		Short: "Add a record to the local logbook",
		Long: `Add a record to the local logbook. The record is queued for the next sync.

Example:
  logbook add flights --data '{"date":"2024-06-01","departure":"EGLL","arrival":"LFPG"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollection(args[0])
			if err != nil {
				return err
			}
			e, err := dtos.DecodeEntity(c, []byte(opts.Data))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --data", err)
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.store.AddEntity(cmd.Context(), e)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), added)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s %s\n", c, added.Meta().ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "record as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dataOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <collection> <id>",
		Short: "Change fields of a local record",
		Long: `Change fields of a local record. Only the fields in --data are replaced.

Example:
  logbook update flights 01J0ABCDEF... --data '{"remarks":"diverted"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollection(args[0])
			if err != nil {
				return err
			}
			var patch map[string]any
			if err := json.Unmarshal([]byte(opts.Data), &patch); err != nil {
				return WrapExitError(ExitCommandError, "invalid --data", err)
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			updated, err := a.store.UpdateEntity(cmd.Context(), c, args[1], patch)
			if err != nil {
				return notFound(err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), updated)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s %s\n", c, args[1])
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "fields to change as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a local record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollection(args[0])
			if err != nil {
				return err
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteEntity(cmd.Context(), c, args[1]); err != nil {
				return notFound(err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), dtos.DeleteRef{ID: args[1]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", c, args[1])
			return nil
		},
	}
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List local records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCollection(args[0])
			if err != nil {
				return err
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListEntities(cmd.Context(), c)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tDETAILS")
			for _, e := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Meta().ID, e.Meta().SyncStatus, summary(e))
			}
			return tw.Flush()
		},
	}
}

func parseCollection(s string) (dtos.Collection, error) {
	c, err := dtos.ParseCollection(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "expected "+collectionsHelp, err)
	}
	return c, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, "no such record", err)
	}
	return err
}

func summary(e dtos.Entity) string {
	switch v := e.(type) {
	case *dtos.Flight:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s-%s", v.Date, v.FlightNumber, v.Departure, v.Arrival))
	case *dtos.Aircraft:
		return strings.TrimSpace(v.Registration + " " + v.Type)
	case *dtos.Personnel:
		return strings.TrimSpace(v.Name + " " + v.Role)
	}
	return ""
}
