package sqlite

import "context"

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			quiz_id TEXT PRIMARY KEY,
			quiz_type TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			question TEXT NOT NULL,
			options_json TEXT NOT NULL,
			correct_index INTEGER NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			source_file TEXT NOT NULL DEFAULT '',
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_sessions (
			session_id TEXT PRIMARY KEY,
			quiz_id TEXT NOT NULL UNIQUE REFERENCES quizzes(quiz_id),
			state TEXT NOT NULL,
			channel_message_id TEXT NOT NULL DEFAULT '',
			created_at_unix INTEGER NOT NULL,
			published_at_unix INTEGER,
			graded_at_unix INTEGER
		);`,
		// At most one active session, enforced by the database itself.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_quiz_sessions_single_active
			ON quiz_sessions(state) WHERE state = 'active';`,
		`CREATE INDEX IF NOT EXISTS idx_quiz_sessions_state ON quiz_sessions(state, created_at_unix);`,
		`CREATE TABLE IF NOT EXISTS user_responses (
			session_id TEXT NOT NULL REFERENCES quiz_sessions(session_id),
			user_id TEXT NOT NULL,
			chosen_index INTEGER NOT NULL,
			is_correct INTEGER NOT NULL,
			responded_at_unix INTEGER NOT NULL,
			PRIMARY KEY (session_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			user_id TEXT PRIMARY KEY,
			total_answered INTEGER NOT NULL DEFAULT 0,
			total_correct INTEGER NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			best_streak INTEGER NOT NULL DEFAULT 0,
			total_points INTEGER NOT NULL DEFAULT 0,
			last_answered_at_unix INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_stats_points ON user_stats(total_points DESC);`,
		`CREATE TABLE IF NOT EXISTS trigger_fires (
			trigger_name TEXT PRIMARY KEY,
			fired_at_unix INTEGER NOT NULL
		);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
