package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"daily-quiz-bot/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

// Store is the Postgres-backed session store. The schema comes from the
// migrations package and must be applied before use.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const sessionColumns = `s.id, s.state, s.channel_message_id, s.created_at, s.published_at, s.graded_at,
	q.id, q.quiz_type, q.difficulty, q.question, q.options, q.correct_index, q.explanation, q.source_file, q.created_at`

func scanSession(row pgx.Row) (domain.QuizSession, error) {
	var (
		session               domain.QuizSession
		quiz                  domain.Quiz
		state, quizType, diff string
		optionsJSON           []byte
	)
	err := row.Scan(
		&session.ID, &state, &session.ChannelMessageID, &session.CreatedAt, &session.PublishedAt, &session.GradedAt,
		&quiz.ID, &quizType, &diff, &quiz.Question, &optionsJSON, &quiz.CorrectIndex,
		&quiz.Explanation, &quiz.SourceFile, &quiz.CreatedAt,
	)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if err := json.Unmarshal(optionsJSON, &quiz.Options); err != nil {
		return domain.QuizSession{}, fmt.Errorf("unmarshal options of quiz %s: %w", quiz.ID, err)
	}
	quiz.Type = domain.QuizType(quizType)
	quiz.Difficulty = domain.Difficulty(diff)
	session.State = domain.SessionState(state)
	session.Quiz = quiz
	return session, nil
}

func (s *Store) GetActiveSession(ctx context.Context) (domain.QuizSession, bool, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.id = s.quiz_id
		 WHERE s.state = $1`, string(domain.SessionActive)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSession{}, false, nil
	}
	if err != nil {
		return domain.QuizSession{}, false, fmt.Errorf("get active session: %w", err)
	}
	return session, true, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.QuizSession, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.id = s.quiz_id
		 WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, state domain.SessionState) ([]domain.QuizSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM quiz_sessions s JOIN quizzes q ON q.id = s.quiz_id
		 WHERE s.state = $1
		 ORDER BY s.created_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
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

func (s *Store) CreateQuizAndSession(ctx context.Context, quiz domain.Quiz, session domain.QuizSession) error {
	options, err := json.Marshal(quiz.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	err = s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO quizzes (id, quiz_type, difficulty, question, options, correct_index, explanation, source_file, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			quiz.ID, string(quiz.Type), string(quiz.Difficulty), quiz.Question, options, quiz.CorrectIndex,
			quiz.Explanation, quiz.SourceFile, quiz.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO quiz_sessions (id, quiz_id, state, channel_message_id, created_at, published_at, graded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			session.ID, quiz.ID, string(session.State), session.ChannelMessageID, session.CreatedAt,
			session.PublishedAt, session.GradedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) && session.State == domain.SessionActive {
			return domain.ErrSessionConflict
		}
		return fmt.Errorf("create quiz and session: %w", err)
	}
	return nil
}

func (s *Store) AttachMessage(ctx context.Context, id, messageID string, publishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_sessions SET channel_message_id = $1, published_at = $2
		 WHERE id = $3 AND state = $4`,
		messageID, publishedAt, id, string(domain.SessionActive))
	if err != nil {
		return fmt.Errorf("attach message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) TransitionSession(ctx context.Context, id string, from, to domain.SessionState) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_sessions SET state = $1 WHERE id = $2 AND state = $3`,
		string(to), id, string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteSession(ctx context.Context, id string, gradedAt time.Time, responses []domain.UserResponse, stats []domain.UserStat) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE quiz_sessions SET state = $1, graded_at = $2 WHERE id = $3 AND state = $4`,
			string(domain.SessionCompleted), gradedAt, id, string(domain.SessionGrading))
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var state string
			err := tx.QueryRow(ctx, `SELECT state FROM quiz_sessions WHERE id = $1`, id).Scan(&state)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			if err != nil {
				return err
			}
			return domain.ErrAlreadyGraded
		}

		batch := &pgx.Batch{}
		queueResponses(batch, id, responses)
		queueStats(batch, stats)
		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("write grading results: %w", err)
		}
		return nil
	})
}
