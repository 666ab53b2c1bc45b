package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"daily-quiz-bot/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "quiz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testQuiz(id string) domain.Quiz {
	return domain.Quiz{
		ID:           id,
		Type:         domain.QuizTypeLibrary,
		Difficulty:   domain.DifficultyEasy,
		Question:     "Which library parses the config?",
		Options:      [domain.OptionCount]string{"yaml.v3", "toml", "ini", "hcl"},
		CorrectIndex: 0,
		Explanation:  "go.mod requires gopkg.in/yaml.v3",
		SourceFile:   "go.mod",
		CreatedAt:    time.Date(2024, 5, 6, 9, 59, 0, 0, time.UTC),
	}
}

func activeSession(id string) domain.QuizSession {
	return domain.QuizSession{ID: id, State: domain.SessionActive, CreatedAt: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)}
}

func TestCreateAndLoadSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q1"), activeSession("s1")))

	published := time.Date(2024, 5, 6, 10, 0, 1, 0, time.UTC)
	require.NoError(t, store.AttachMessage(ctx, "s1", "m1", published))

	session, ok, err := store.GetActiveSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", session.ID)
	require.Equal(t, "m1", session.ChannelMessageID)
	require.NotNil(t, session.PublishedAt)
	require.True(t, session.PublishedAt.Equal(published))
	require.Equal(t, testQuiz("q1").Options, session.Quiz.Options)
	require.Equal(t, domain.DifficultyEasy, session.Quiz.Difficulty)
	require.Equal(t, "go.mod", session.Quiz.SourceFile)

	_, err = store.GetSession(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSecondActiveSessionConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q1"), activeSession("s1")))
	err := store.CreateQuizAndSession(ctx, testQuiz("q2"), activeSession("s2"))
	require.ErrorIs(t, err, domain.ErrSessionConflict)

	// The quiz insert was rolled back with the session.
	ok, err := store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionFailed)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q2"), activeSession("s2")))
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q1"), activeSession("s1")))

	ok, err := store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionGrading)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionGrading)
	require.NoError(t, err)
	require.False(t, ok)

	// Reopening is refused while another session holds the active slot.
	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q2"), activeSession("s2")))
	ok, err = store.TransitionSession(ctx, "s1", domain.SessionGrading, domain.SessionActive)
	require.NoError(t, err)
	require.False(t, ok)

	grading, err := store.ListSessions(ctx, domain.SessionGrading)
	require.NoError(t, err)
	require.Len(t, grading, 1)
}

func TestCompleteSessionWritesEverythingOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q1"), activeSession("s1")))
	ok, err := store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionGrading)
	require.NoError(t, err)
	require.True(t, ok)

	at := time.Date(2024, 5, 6, 16, 0, 0, 0, time.UTC)
	responses := []domain.UserResponse{
		{SessionID: "s1", UserID: "u1", ChosenIndex: 0, IsCorrect: true, RespondedAt: at},
		{SessionID: "s1", UserID: "u2", ChosenIndex: 3, IsCorrect: false, RespondedAt: at},
	}
	stats := []domain.UserStat{
		{UserID: "u1", TotalAnswered: 1, TotalCorrect: 1, CurrentStreak: 1, BestStreak: 1, TotalPoints: 10, LastAnsweredAt: &at},
		{UserID: "u2", TotalAnswered: 1, LastAnsweredAt: &at},
	}
	require.NoError(t, store.CompleteSession(ctx, "s1", at, responses, stats))
	require.ErrorIs(t, store.CompleteSession(ctx, "s1", at, responses, stats), domain.ErrAlreadyGraded)
	require.ErrorIs(t, store.CompleteSession(ctx, "missing", at, nil, nil), domain.ErrSessionNotFound)

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionCompleted, session.State)
	require.NotNil(t, session.GradedAt)

	got, err := store.ListResponses(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].IsCorrect)
	require.True(t, got[0].RespondedAt.Equal(at))

	u1, err := store.GetOrInitUserStat(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 10, u1.TotalPoints)
	require.NotNil(t, u1.LastAnsweredAt)

	fresh, err := store.GetOrInitUserStat(ctx, "newcomer")
	require.NoError(t, err)
	require.Equal(t, domain.UserStat{UserID: "newcomer"}, fresh)

	board, err := store.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	require.Equal(t, "u1", board[0].UserID)

	board, err = store.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, board, 1)
}

func TestSaveResponsesUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Now()

	require.NoError(t, store.SaveResponses(ctx, "s1", []domain.UserResponse{{UserID: "u1", ChosenIndex: 1, RespondedAt: at}}))
	require.NoError(t, store.SaveResponses(ctx, "s1", []domain.UserResponse{{UserID: "u1", ChosenIndex: 2, RespondedAt: at}}))

	got, err := store.ListResponses(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].ChosenIndex)
}

func TestTriggerLedgerClaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fire := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	ok, err := store.Claim(ctx, "publish", fire)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Claim(ctx, "publish", fire)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.Claim(ctx, "publish", fire.Add(24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Claim(ctx, "publish", fire)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quiz.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateQuizAndSession(ctx, testQuiz("q1"), activeSession("s1")))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.GetActiveSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}
