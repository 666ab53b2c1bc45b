package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"daily-quiz-bot/internal/domain"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveResponses(ctx context.Context, db execer, sessionID string, responses []domain.UserResponse) error {
	for _, r := range responses {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO user_responses (session_id, user_id, chosen_index, is_correct, responded_at_unix)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, user_id) DO UPDATE SET
				chosen_index = excluded.chosen_index,
				is_correct = excluded.is_correct,
				responded_at_unix = excluded.responded_at_unix`,
			sessionID, r.UserID, r.ChosenIndex, r.IsCorrect, toUnix(r.RespondedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func saveStats(ctx context.Context, db execer, stats []domain.UserStat) error {
	for _, st := range stats {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO user_stats (user_id, total_answered, total_correct, current_streak, best_streak, total_points, last_answered_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
				total_answered = excluded.total_answered,
				total_correct = excluded.total_correct,
				current_streak = excluded.current_streak,
				best_streak = excluded.best_streak,
				total_points = excluded.total_points,
				last_answered_at_unix = excluded.last_answered_at_unix`,
			st.UserID, st.TotalAnswered, st.TotalCorrect, st.CurrentStreak, st.BestStreak, st.TotalPoints,
			nullableUnix(st.LastAnsweredAt),
		); err != nil {
			return err
		}
	}
	return nil
}

// SaveResponses upserts responses outside of a grading pass. Grading writes
// through CompleteSession instead.
func (s *Store) SaveResponses(ctx context.Context, sessionID string, responses []domain.UserResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveResponses(ctx, tx, sessionID, responses); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveUserStats(ctx context.Context, stats []domain.UserStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveStats(ctx, tx, stats); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrInitUserStat returns the stored stat or a zero stat for a new user.
// Nothing is written for new users; the first CompleteSession creates the row.
func (s *Store) GetOrInitUserStat(ctx context.Context, userID string) (domain.UserStat, error) {
	stat, err := scanStat(s.db.QueryRowContext(ctx,
		`SELECT `+statColumns+` FROM user_stats WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserStat{UserID: userID}, nil
	}
	return stat, err
}

func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]domain.UserResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, chosen_index, is_correct, responded_at_unix
		 FROM user_responses WHERE session_id = ? ORDER BY user_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserResponse, 0)
	for rows.Next() {
		var (
			r           domain.UserResponse
			respondedAt int64
		)
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.ChosenIndex, &r.IsCorrect, &respondedAt); err != nil {
			return nil, err
		}
		r.RespondedAt = fromUnix(respondedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Leaderboard ranks users who answered at least once by points, then user id.
// A non-positive limit returns everyone.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.UserStat, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+statColumns+` FROM user_stats
		 WHERE total_answered > 0
		 ORDER BY total_points DESC, user_id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserStat, 0)
	for rows.Next() {
		stat, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

const statColumns = `user_id, total_answered, total_correct, current_streak, best_streak, total_points, last_answered_at_unix`

func scanStat(row rowScanner) (domain.UserStat, error) {
	var (
		stat         domain.UserStat
		lastAnswered sql.NullInt64
	)
	if err := row.Scan(&stat.UserID, &stat.TotalAnswered, &stat.TotalCorrect, &stat.CurrentStreak,
		&stat.BestStreak, &stat.TotalPoints, &lastAnswered); err != nil {
		return domain.UserStat{}, err
	}
	stat.LastAnsweredAt = fromNullable(lastAnswered)
	return stat, nil
}
