package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"infinite-experiment/logbook/internal/auth"

	"github.com/spf13/cobra"
)

// Mints a development session token for the sync server.
func main() {
	var (
		userID   string
		callsign string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:          "token_gen",
		Short:        "Mint a development session token (reads JWT_SECRET)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET must be set")
			}
			token, err := auth.IssueToken(secret, userID, callsign, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&callsign, "callsign", "", "optional callsign claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
