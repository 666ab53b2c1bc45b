package app

import (
	"context"
	"time"

	"daily-quiz-bot/internal/domain"
)

// SessionStore abstracts durable storage of quizzes, sessions, responses and stats
// (sqlite, postgres, in-memory).
type SessionStore interface {
	// GetActiveSession returns the single active session, if any.
	GetActiveSession(ctx context.Context) (domain.QuizSession, bool, error)
	GetSession(ctx context.Context, id string) (domain.QuizSession, error)
	ListSessions(ctx context.Context, state domain.SessionState) ([]domain.QuizSession, error)
	// CreateQuizAndSession persists both rows atomically and fails with
	// domain.ErrSessionConflict if an active session already exists.
	CreateQuizAndSession(ctx context.Context, quiz domain.Quiz, session domain.QuizSession) error
	AttachMessage(ctx context.Context, id, messageID string, publishedAt time.Time) error
	// TransitionSession moves id from one state to another only if it is
	// currently in from.
	TransitionSession(ctx context.Context, id string, from, to domain.SessionState) (bool, error)
	// SaveResponses upserts responses keyed by (session, user).
	SaveResponses(ctx context.Context, sessionID string, responses []domain.UserResponse) error
	GetOrInitUserStat(ctx context.Context, userID string) (domain.UserStat, error)
	SaveUserStats(ctx context.Context, stats []domain.UserStat) error
	// CompleteSession writes responses and stats and moves the session from
	// grading to completed as one unit. It fails with domain.ErrAlreadyGraded
	// if the session is not grading.
	CompleteSession(ctx context.Context, id string, gradedAt time.Time, responses []domain.UserResponse, stats []domain.UserStat) error
	ListResponses(ctx context.Context, sessionID string) ([]domain.UserResponse, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.UserStat, error)
}

// ContentGenerator produces quiz content. It must fail rather than return malformed data.
type ContentGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedQuiz, error)
}

// MessagingGateway posts messages to the team channel and reads reactions back.
type MessagingGateway interface {
	Post(ctx context.Context, text string, seedReactions []string) (string, error)
	FetchReactions(ctx context.Context, messageID string) (domain.ReactionSnapshot, error)
	PostResults(ctx context.Context, messageID, text string) error
}

// EventSink receives lifecycle events. Implementations must not block.
type EventSink interface {
	Publish(Event)
}
