package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 20240506100000_create_quiz_tables.sql
var createQuizTablesSQL string

// Migrations is the ordered set of schema migrations for the postgres store.
var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createQuizTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS trigger_fires, user_stats, user_responses, quiz_sessions, quizzes`)
			return err
		},
	)
}
