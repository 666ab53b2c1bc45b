package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"daily-quiz-bot/internal/domain"
)

const sessionColumns = `s.session_id, s.state, s.channel_message_id, s.created_at_unix, s.published_at_unix, s.graded_at_unix,
	q.quiz_id, q.quiz_type, q.difficulty, q.question, q.options_json, q.correct_index, q.explanation, q.source_file, q.created_at_unix`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.QuizSession, error) {
	var (
		session                domain.QuizSession
		quiz                   domain.Quiz
		createdAt, quizCreated int64
		publishedAt, gradedAt  sql.NullInt64
		optionsJSON            string
	)
	err := row.Scan(
		&session.ID, &session.State, &session.ChannelMessageID, &createdAt, &publishedAt, &gradedAt,
		&quiz.ID, &quiz.Type, &quiz.Difficulty, &quiz.Question, &optionsJSON, &quiz.CorrectIndex,
		&quiz.Explanation, &quiz.SourceFile, &quizCreated,
	)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &quiz.Options); err != nil {
		return domain.QuizSession{}, fmt.Errorf("decode options of quiz %s: %w", quiz.ID, err)
	}
	quiz.CreatedAt = fromUnix(quizCreated)
	session.Quiz = quiz
	session.CreatedAt = fromUnix(createdAt)
	session.PublishedAt = fromNullable(publishedAt)
	session.GradedAt = fromNullable(gradedAt)
	return session, nil
}

func (s *Store) GetActiveSession(ctx context.Context) (domain.QuizSession, bool, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.quiz_id = s.quiz_id
		 WHERE s.state = ?`, domain.SessionActive))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuizSession{}, false, nil
	}
	if err != nil {
		return domain.QuizSession{}, false, err
	}
	return session, true, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.QuizSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.quiz_id = s.quiz_id
		 WHERE s.session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return session, err
}

func (s *Store) ListSessions(ctx context.Context, state domain.SessionState) ([]domain.QuizSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.quiz_id = s.quiz_id
		 WHERE s.state = ?
		 ORDER BY s.created_at_unix`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.QuizSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// CreateQuizAndSession inserts the quiz and its session in one transaction.
// The partial unique index on active sessions turns a lost race into
// domain.ErrSessionConflict.
func (s *Store) CreateQuizAndSession(ctx context.Context, quiz domain.Quiz, session domain.QuizSession) error {
	optionsJSON, err := json.Marshal(quiz.Options)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quizzes (quiz_id, quiz_type, difficulty, question, options_json, correct_index, explanation, source_file, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quiz.ID, quiz.Type, quiz.Difficulty, quiz.Question, string(optionsJSON), quiz.CorrectIndex,
		quiz.Explanation, quiz.SourceFile, toUnix(quiz.CreatedAt),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quiz_sessions (session_id, quiz_id, state, channel_message_id, created_at_unix, published_at_unix, graded_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, quiz.ID, session.State, session.ChannelMessageID, toUnix(session.CreatedAt),
		nullableUnix(session.PublishedAt), nullableUnix(session.GradedAt),
	); err != nil {
		if isUniqueViolation(err) && session.State == domain.SessionActive {
			return domain.ErrSessionConflict
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) AttachMessage(ctx context.Context, id, messageID string, publishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_sessions SET channel_message_id = ?, published_at_unix = ?
		 WHERE session_id = ? AND state = ?`,
		messageID, toUnix(publishedAt), id, domain.SessionActive)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) TransitionSession(ctx context.Context, id string, from, to domain.SessionState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_sessions SET state = ? WHERE session_id = ? AND state = ?`,
		to, id, from)
	if err != nil {
		// Reopening while another session is active.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteSession writes the graded responses and stats and marks the session
// completed, all in one transaction guarded by the grading state.
func (s *Store) CompleteSession(ctx context.Context, id string, gradedAt time.Time, responses []domain.UserResponse, stats []domain.UserStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE quiz_sessions SET state = ?, graded_at_unix = ?
		 WHERE session_id = ? AND state = ?`,
		domain.SessionCompleted, toUnix(gradedAt), id, domain.SessionGrading)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM quiz_sessions WHERE session_id = ?`, id).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrAlreadyGraded
	}

	if err := saveResponses(ctx, tx, id, responses); err != nil {
		return err
	}
	if err := saveStats(ctx, tx, stats); err != nil {
		return err
	}
	return tx.Commit()
}
