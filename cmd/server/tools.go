package main

import (
	"fmt"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/api"
	"github.com/npezzotti/spaces-realtime/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(nil)
			if err != nil {
				return err
			}

			store, err := database.NewPgStore(cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := database.Migrate(store.DB()); err != nil {
				return err
			}

			logger.Info().Msg("database migrations applied")
			return nil
		},
	}
}

// newTokenCmd prints a token for local testing against a running server.
func newTokenCmd() *cobra.Command {
	var (
		userId int
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userId <= 0 {
				return fmt.Errorf("--user-id must be positive")
			}

			cfg, _, err := loadConfig(nil)
			if err != nil {
				return err
			}

			token, err := api.IssueToken(cfg.SigningKey, userId, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&userId, "user-id", 0, "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", api.DefaultTokenExpiration, "token lifetime")

	return cmd
}
