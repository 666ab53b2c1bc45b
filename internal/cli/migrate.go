package cli

import (
	"fmt"
	"strings"

	"daily-quiz-bot/internal/infra/postgres/migrations"
	"github.com/spf13/cobra"
)

// newMigrateCmd applies postgres migrations. sqlite creates its schema on open.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run postgres database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			applied, err := migrations.Apply(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied migrations: %s\n", strings.Join(applied, ", "))
			return nil
		},
	}
}
