package postgres

import (
	"context"
	"errors"
	"fmt"

	"daily-quiz-bot/internal/domain"
	"github.com/jackc/pgx/v4"
)

const upsertResponseSQL = `INSERT INTO user_responses (session_id, user_id, chosen_index, is_correct, responded_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (session_id, user_id) DO UPDATE SET
		chosen_index = EXCLUDED.chosen_index,
		is_correct = EXCLUDED.is_correct,
		responded_at = EXCLUDED.responded_at`

const upsertStatSQL = `INSERT INTO user_stats (user_id, total_answered, total_correct, current_streak, best_streak, total_points, last_answered_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		total_answered = EXCLUDED.total_answered,
		total_correct = EXCLUDED.total_correct,
		current_streak = EXCLUDED.current_streak,
		best_streak = EXCLUDED.best_streak,
		total_points = EXCLUDED.total_points,
		last_answered_at = EXCLUDED.last_answered_at`

func queueResponses(batch *pgx.Batch, sessionID string, responses []domain.UserResponse) {
	for _, r := range responses {
		batch.Queue(upsertResponseSQL, sessionID, r.UserID, r.ChosenIndex, r.IsCorrect, r.RespondedAt)
	}
}

func queueStats(batch *pgx.Batch, stats []domain.UserStat) {
	for _, st := range stats {
		batch.Queue(upsertStatSQL, st.UserID, st.TotalAnswered, st.TotalCorrect, st.CurrentStreak,
			st.BestStreak, st.TotalPoints, st.LastAnsweredAt)
	}
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
}

func (s *Store) SaveResponses(ctx context.Context, sessionID string, responses []domain.UserResponse) error {
	batch := &pgx.Batch{}
	queueResponses(batch, sessionID, responses)
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	return nil
}

func (s *Store) SaveUserStats(ctx context.Context, stats []domain.UserStat) error {
	batch := &pgx.Batch{}
	queueStats(batch, stats)
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("save user stats: %w", err)
	}
	return nil
}

const statColumns = `user_id, total_answered, total_correct, current_streak, best_streak, total_points, last_answered_at`

func scanStat(row pgx.Row) (domain.UserStat, error) {
	var stat domain.UserStat
	err := row.Scan(&stat.UserID, &stat.TotalAnswered, &stat.TotalCorrect, &stat.CurrentStreak,
		&stat.BestStreak, &stat.TotalPoints, &stat.LastAnsweredAt)
	return stat, err
}

func (s *Store) GetOrInitUserStat(ctx context.Context, userID string) (domain.UserStat, error) {
	stat, err := scanStat(s.pool.QueryRow(ctx, `SELECT `+statColumns+` FROM user_stats WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserStat{UserID: userID}, nil
	}
	if err != nil {
		return domain.UserStat{}, fmt.Errorf("get user stat: %w", err)
	}
	return stat, nil
}

func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]domain.UserResponse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, chosen_index, is_correct, responded_at
		 FROM user_responses WHERE session_id = $1 ORDER BY user_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserResponse, 0)
	for rows.Next() {
		var r domain.UserResponse
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.ChosenIndex, &r.IsCorrect, &r.RespondedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.UserStat, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+statColumns+` FROM user_stats
		 WHERE total_answered > 0
		 ORDER BY total_points DESC, user_id
		 LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
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
