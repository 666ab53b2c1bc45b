package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"daily-quiz-bot/internal/app"
	"daily-quiz-bot/internal/domain"
	"daily-quiz-bot/internal/infra/memory"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []domain.GenerationRequest
	out   domain.GeneratedQuiz
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req domain.GenerationRequest) (domain.GeneratedQuiz, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	return g.out, g.err
}

type fakeGateway struct {
	mu        sync.Mutex
	posted    []string
	results   map[string]string
	reactions map[string]domain.ReactionSnapshot
	failPosts int
	fetchErr  error
	nextID    int

	// Hooks run before the fake answers, outside the lock, with the call's ctx.
	onPost  func(ctx context.Context) error
	onFetch func(ctx context.Context) error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		results:   make(map[string]string),
		reactions: make(map[string]domain.ReactionSnapshot),
	}
}

func (g *fakeGateway) Post(ctx context.Context, text string, _ []string) (string, error) {
	if hook := g.hook(&g.onPost); hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPosts > 0 {
		g.failPosts--
		return "", errors.New("gateway down")
	}
	g.nextID++
	g.posted = append(g.posted, text)
	return fmt.Sprintf("m%d", g.nextID), nil
}

func (g *fakeGateway) FetchReactions(ctx context.Context, messageID string) (domain.ReactionSnapshot, error) {
	if hook := g.hook(&g.onFetch); hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.reactions[messageID], nil
}

func (g *fakeGateway) PostResults(_ context.Context, messageID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[messageID] = text
	return nil
}

func (g *fakeGateway) hook(h *func(context.Context) error) func(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *h
}

func (g *fakeGateway) setHooks(onPost, onFetch func(context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPost, g.onFetch = onPost, onFetch
}

func (g *fakeGateway) setReactions(messageID string, snapshot domain.ReactionSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions[messageID] = snapshot
}

func sampleQuiz(correct int) domain.GeneratedQuiz {
	return domain.GeneratedQuiz{
		Question:     "Q",
		Options:      [domain.OptionCount]string{"A", "B", "C", "D"},
		CorrectIndex: correct,
		Explanation:  "because",
		SourceFile:   "go.mod",
	}
}

type fixture struct {
	store   *memory.SessionStore
	gen     *fakeGenerator
	gateway *fakeGateway
	manager *app.Manager
}

func newFixture() *fixture {
	f := &fixture{
		store:   memory.NewSessionStore(),
		gen:     &fakeGenerator{out: sampleQuiz(2)},
		gateway: newFakeGateway(),
	}
	f.manager = app.NewManager(f.store, f.gen, f.gateway, app.ManagerConfig{
		PostRetryDelay: time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:           rand.New(rand.NewSource(1)),
	})
	return f
}

func TestPublishAndGradeEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	session, err := f.manager.Publish(ctx, app.PublishOptions{Type: domain.QuizTypeLibrary, Difficulty: domain.DifficultyEasy})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if session.ChannelMessageID != "m1" || session.State != domain.SessionActive {
		t.Fatalf("unexpected session after publish: %+v", session)
	}
	if len(f.gen.calls) != 1 || f.gen.calls[0].Type != domain.QuizTypeLibrary || f.gen.calls[0].Difficulty != domain.DifficultyEasy {
		t.Fatalf("unexpected generation requests: %+v", f.gen.calls)
	}

	stored, ok, err := f.store.GetActiveSession(ctx)
	if err != nil || !ok {
		t.Fatalf("expected active session, got ok=%v err=%v", ok, err)
	}
	if stored.ChannelMessageID != "m1" {
		t.Fatalf("expected message id m1, got %q", stored.ChannelMessageID)
	}

	f.gateway.setReactions("m1", domain.ReactionSnapshot{"three": {{UserID: "userX"}}})
	result, err := f.manager.Grade(ctx, "")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if result.Session.State != domain.SessionCompleted {
		t.Fatalf("expected completed session, got %s", result.Session.State)
	}
	if len(result.Responses) != 1 || !result.Responses[0].IsCorrect || result.Responses[0].ChosenIndex != 2 {
		t.Fatalf("unexpected responses: %+v", result.Responses)
	}

	stat, err := f.store.GetOrInitUserStat(ctx, "userX")
	if err != nil {
		t.Fatalf("load stat failed: %v", err)
	}
	if stat.TotalCorrect != 1 || stat.TotalAnswered != 1 || stat.TotalPoints != 10 {
		t.Fatalf("unexpected stat: %+v", stat)
	}

	after, err := f.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if after.State != domain.SessionCompleted || after.GradedAt == nil {
		t.Fatalf("expected completed session in store, got %+v", after)
	}
	if _, ok := f.gateway.results["m1"]; !ok {
		t.Fatalf("expected results posted in reply to m1")
	}
}

func TestPublishRejectsSecondActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.manager.Publish(ctx, app.PublishOptions{}); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.manager.Publish(ctx, app.PublishOptions{}); !errors.Is(err, domain.ErrSessionConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	}
	if len(f.gen.calls) != 1 {
		t.Fatalf("expected generator to run once, ran %d times", len(f.gen.calls))
	}
}

func TestConcurrentPublishKeepsSingleActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Publish(ctx, app.PublishOptions{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrSessionConflict) {
				t.Errorf("unexpected publish error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful publish, got %d", succeeded)
	}
	active, err := f.store.ListSessions(ctx, domain.SessionActive)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active session, got %d", len(active))
	}
}

func TestPublishGenerationFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gen.err = errors.New("claude exited 1")

	if _, err := f.manager.Publish(ctx, app.PublishOptions{}); !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if _, ok, _ := f.store.GetActiveSession(ctx); ok {
		t.Fatalf("expected no active session")
	}
	for _, state := range []domain.SessionState{domain.SessionActive, domain.SessionFailed, domain.SessionCompleted} {
		sessions, _ := f.store.ListSessions(ctx, state)
		if len(sessions) != 0 {
			t.Fatalf("expected no %s sessions, got %d", state, len(sessions))
		}
	}
	if len(f.gateway.posted) != 0 {
		t.Fatalf("expected nothing posted")
	}
}

func TestPublishRejectsMalformedGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gen.out = sampleQuiz(7)

	_, err := f.manager.Publish(ctx, app.PublishOptions{})
	if !errors.Is(err, domain.ErrGenerationFailed) || !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("expected invalid quiz generation failure, got %v", err)
	}
}

func TestPublishRetriesPostOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gateway.failPosts = 1

	session, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed after retry: %v", err)
	}
	if session.ChannelMessageID == "" {
		t.Fatalf("expected message id after retry")
	}
}

func TestPublishPostingFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gateway.failPosts = 2

	_, err := f.manager.Publish(ctx, app.PublishOptions{})
	if !errors.Is(err, domain.ErrPostingFailed) {
		t.Fatalf("expected posting failure, got %v", err)
	}
	if _, ok, _ := f.store.GetActiveSession(ctx); ok {
		t.Fatalf("expected no active session after posting failure")
	}
	failed, _ := f.store.ListSessions(ctx, domain.SessionFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one failed session, got %d", len(failed))
	}

	// A failed session does not block the next publish.
	if _, err := f.manager.Publish(ctx, app.PublishOptions{}); err != nil {
		t.Fatalf("publish after failure failed: %v", err)
	}
}

func TestGradeWithoutActiveSession(t *testing.T) {
	f := newFixture()
	if _, err := f.manager.Grade(context.Background(), ""); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected no active session, got %v", err)
	}
	if _, err := f.manager.Grade(context.Background(), "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestGradeWithZeroResponses(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	session, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	result, err := f.manager.Grade(ctx, session.ID)
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if len(result.Responses) != 0 || len(result.Stats) != 0 {
		t.Fatalf("expected no responses or stats, got %+v", result)
	}
	board, _ := f.store.Leaderboard(ctx, 10)
	if len(board) != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", board)
	}
	after, _ := f.store.GetSession(ctx, session.ID)
	if after.State != domain.SessionCompleted {
		t.Fatalf("expected completed, got %s", after.State)
	}
}

func TestGradeTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	session, err := f.manager.Publish(ctx, app.PublishOptions{Difficulty: domain.DifficultyHard})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	f.gateway.setReactions(session.ChannelMessageID, domain.ReactionSnapshot{
		"three": {{UserID: "u1"}},
		"one":   {{UserID: "u2"}},
	})
	if _, err := f.manager.Grade(ctx, session.ID); err != nil {
		t.Fatalf("first grade failed: %v", err)
	}
	before, _ := f.store.Leaderboard(ctx, 0)
	responsesBefore, _ := f.store.ListResponses(ctx, session.ID)

	// Reactions added after grading must not leak into a second pass.
	f.gateway.setReactions(session.ChannelMessageID, domain.ReactionSnapshot{
		"three": {{UserID: "u1"}, {UserID: "u3"}},
	})
	if _, err := f.manager.Grade(ctx, session.ID); !errors.Is(err, domain.ErrAlreadyGraded) {
		t.Fatalf("expected already graded, got %v", err)
	}

	after, _ := f.store.Leaderboard(ctx, 0)
	responsesAfter, _ := f.store.ListResponses(ctx, session.ID)
	if len(responsesAfter) != len(responsesBefore) {
		t.Fatalf("expected %d responses, got %d", len(responsesBefore), len(responsesAfter))
	}
	if len(after) != len(before) {
		t.Fatalf("leaderboard changed: before=%+v after=%+v", before, after)
	}
	for i := range before {
		if before[i].TotalAnswered != after[i].TotalAnswered || before[i].TotalPoints != after[i].TotalPoints {
			t.Fatalf("stat mutated: before=%+v after=%+v", before[i], after[i])
		}
	}
}

func TestStreaksAcrossSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	round := func(snapshot domain.ReactionSnapshot) {
		t.Helper()
		session, err := f.manager.Publish(ctx, app.PublishOptions{})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		f.gateway.setReactions(session.ChannelMessageID, snapshot)
		if _, err := f.manager.Grade(ctx, ""); err != nil {
			t.Fatalf("grade failed: %v", err)
		}
	}

	round(domain.ReactionSnapshot{"three": {{UserID: "alice"}, {UserID: "bob"}}})
	round(domain.ReactionSnapshot{"three": {{UserID: "alice"}, {UserID: "bob"}}})

	alice, _ := f.store.GetOrInitUserStat(ctx, "alice")
	if alice.CurrentStreak != 2 || alice.BestStreak != 2 {
		t.Fatalf("expected streak 2, got %+v", alice)
	}

	// alice answers wrong, bob sits this one out.
	round(domain.ReactionSnapshot{"one": {{UserID: "alice"}}})

	alice, _ = f.store.GetOrInitUserStat(ctx, "alice")
	if alice.CurrentStreak != 0 || alice.BestStreak != 2 || alice.TotalAnswered != 3 || alice.TotalCorrect != 2 {
		t.Fatalf("unexpected alice stat: %+v", alice)
	}
	bob, _ := f.store.GetOrInitUserStat(ctx, "bob")
	if bob.CurrentStreak != 2 || bob.TotalAnswered != 2 {
		t.Fatalf("expected bob streak untouched, got %+v", bob)
	}
}

func TestGradeLastReactionWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	session, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	t0 := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	f.gateway.setReactions(session.ChannelMessageID, domain.ReactionSnapshot{
		"one": {{UserID: "userA", At: t0.Add(time.Minute)}, {UserID: "userA", At: t0.Add(2 * time.Minute)}},
		"two": {{UserID: "userA", At: t0.Add(3 * time.Minute)}},
	})

	result, err := f.manager.Grade(ctx, "")
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if len(result.Responses) != 1 || result.Responses[0].ChosenIndex != 1 {
		t.Fatalf("expected option 2 for userA, got %+v", result.Responses)
	}
}

func TestGradeFetchFailureReopensSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	session, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	f.gateway.fetchErr = errors.New("timeout")
	if _, err := f.manager.Grade(ctx, ""); !errors.Is(err, domain.ErrPostingFailed) {
		t.Fatalf("expected posting failure, got %v", err)
	}
	after, _ := f.store.GetSession(ctx, session.ID)
	if after.State != domain.SessionActive {
		t.Fatalf("expected session reopened, got %s", after.State)
	}

	f.gateway.fetchErr = nil
	if _, err := f.manager.Grade(ctx, ""); err != nil {
		t.Fatalf("retry grade failed: %v", err)
	}
}

func TestPublishCancelledDuringPostFailsSession(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.setHooks(func(callCtx context.Context) error {
		cancel()
		<-callCtx.Done()
		return callCtx.Err()
	}, nil)

	if _, err := f.manager.Publish(ctx, app.PublishOptions{}); !errors.Is(err, domain.ErrPostingFailed) {
		t.Fatalf("expected posting failure, got %v", err)
	}

	bg := context.Background()
	if _, ok, _ := f.store.GetActiveSession(bg); ok {
		t.Fatalf("expected no active session after cancelled publish")
	}
	failed, err := f.store.ListSessions(bg, domain.SessionFailed)
	if err != nil || len(failed) != 1 {
		t.Fatalf("expected one failed session, got %+v err=%v", failed, err)
	}
}

func TestGradeCancelledDuringFetchRestoresActive(t *testing.T) {
	f := newFixture()
	bg := context.Background()

	session, err := f.manager.Publish(bg, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	f.gateway.setReactions(session.ChannelMessageID, domain.ReactionSnapshot{"three": {{UserID: "userX"}}})

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	f.gateway.setHooks(nil, func(callCtx context.Context) error {
		cancel()
		<-callCtx.Done()
		return callCtx.Err()
	})

	if _, err := f.manager.Grade(ctx, ""); !errors.Is(err, domain.ErrPostingFailed) {
		t.Fatalf("expected posting failure, got %v", err)
	}

	after, err := f.store.GetSession(bg, session.ID)
	if err != nil || after.State != domain.SessionActive {
		t.Fatalf("expected session back to active, got %s err=%v", after.State, err)
	}
	if responses, _ := f.store.ListResponses(bg, session.ID); len(responses) != 0 {
		t.Fatalf("expected no responses written, got %+v", responses)
	}
	if board, _ := f.store.Leaderboard(bg, 0); len(board) != 0 {
		t.Fatalf("expected no stats written, got %+v", board)
	}
}

func TestAbortedGradeFailsSessionWhenAnotherIsActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish first: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gateway.setHooks(nil, func(context.Context) error {
		close(entered)
		<-release
		return errors.New("fetch timeout")
	})

	gradeErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Grade(ctx, first.ID)
		gradeErr <- err
	}()
	<-entered

	second, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish second while first is grading: %v", err)
	}
	close(release)
	if err := <-gradeErr; !errors.Is(err, domain.ErrPostingFailed) {
		t.Fatalf("expected posting failure, got %v", err)
	}

	after, _ := f.store.GetSession(ctx, first.ID)
	if after.State != domain.SessionFailed {
		t.Fatalf("expected first session failed, got %s", after.State)
	}
	if _, err := f.manager.Grade(ctx, first.ID); errors.Is(err, domain.ErrAlreadyGraded) || err == nil {
		t.Fatalf("expected first session to be ungradable but not reported graded, got %v", err)
	}
	active, ok, _ := f.store.GetActiveSession(ctx)
	if !ok || active.ID != second.ID {
		t.Fatalf("expected second session to stay active, got %+v ok=%v", active, ok)
	}
}

func TestRecoverFailsGradingSessionWhenAnotherIsActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if ok, _ := f.store.TransitionSession(ctx, first.ID, domain.SessionActive, domain.SessionGrading); !ok {
		t.Fatalf("transition failed")
	}
	second, err := f.manager.Publish(ctx, app.PublishOptions{})
	if err != nil {
		t.Fatalf("publish second: %v", err)
	}

	if err := f.manager.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	after, _ := f.store.GetSession(ctx, first.ID)
	if after.State != domain.SessionFailed {
		t.Fatalf("expected stranded session failed, got %s", after.State)
	}
	if still, _ := f.store.GetSession(ctx, second.ID); still.State != domain.SessionActive {
		t.Fatalf("expected second session untouched, got %s", still.State)
	}
}

func TestRecoverRepairsStrandedSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	published := now.Add(-time.Hour)

	quiz := domain.Quiz{ID: "q1", Type: domain.QuizTypeCodebase, Difficulty: domain.DifficultyMedium,
		Question: "Q", Options: [domain.OptionCount]string{"A", "B", "C", "D"}}
	grading := domain.QuizSession{ID: "s1", State: domain.SessionActive, CreatedAt: published}
	if err := store.CreateQuizAndSession(ctx, quiz, grading); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.AttachMessage(ctx, "s1", "m1", published); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if ok, _ := store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionGrading); !ok {
		t.Fatalf("transition failed")
	}

	manager := app.NewManager(store, &fakeGenerator{}, newFakeGateway(), app.ManagerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return now },
	})
	if err := manager.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	s1, _ := store.GetSession(ctx, "s1")
	if s1.State != domain.SessionActive {
		t.Fatalf("expected grading session reopened, got %s", s1.State)
	}

	// An unposted session past the posting window is failed.
	if ok, _ := store.TransitionSession(ctx, "s1", domain.SessionActive, domain.SessionCompleted); !ok {
		t.Fatalf("transition failed")
	}
	quiz.ID = "q2"
	if err := store.CreateQuizAndSession(ctx, quiz, domain.QuizSession{ID: "s2", State: domain.SessionActive, CreatedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := manager.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	s2, _ := store.GetSession(ctx, "s2")
	if s2.State != domain.SessionFailed {
		t.Fatalf("expected unposted session failed, got %s", s2.State)
	}
}

func TestPostLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	stats, err := f.manager.PostLeaderboard(ctx, 10)
	if err != nil || len(stats) != 0 {
		t.Fatalf("expected empty leaderboard, got %v %v", stats, err)
	}
	if len(f.gateway.posted) != 0 {
		t.Fatalf("expected nothing posted for empty leaderboard")
	}

	if _, err := f.manager.Publish(ctx, app.PublishOptions{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	f.gateway.setReactions("m1", domain.ReactionSnapshot{"three": {{UserID: "u1"}}, "two": {{UserID: "u2"}}})
	if _, err := f.manager.Grade(ctx, ""); err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	stats, err = f.manager.PostLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(stats) != 2 || stats[0].UserID != "u1" {
		t.Fatalf("expected u1 to lead, got %+v", stats)
	}
	if len(f.gateway.posted) != 2 {
		t.Fatalf("expected leaderboard post, got %d posts", len(f.gateway.posted))
	}
}

func TestEventsAreBroadcast(t *testing.T) {
	ctx := context.Background()
	events := app.NewBroadcaster()
	ch, cancel := events.Subscribe()
	defer cancel()

	store := memory.NewSessionStore()
	gateway := newFakeGateway()
	manager := app.NewManager(store, &fakeGenerator{out: sampleQuiz(0)}, gateway, app.ManagerConfig{
		PostRetryDelay: time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:         events,
	})

	if _, err := manager.Publish(ctx, app.PublishOptions{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, err := manager.Grade(ctx, ""); err != nil {
		t.Fatalf("grade failed: %v", err)
	}

	if e := <-ch; e.Type != app.EventPublished {
		t.Fatalf("expected published event, got %+v", e)
	}
	if e := <-ch; e.Type != app.EventGraded || e.State != domain.SessionCompleted {
		t.Fatalf("expected graded event, got %+v", e)
	}
}

func TestSatisfied(t *testing.T) {
	if !app.Satisfied(fmt.Errorf("wrap: %w", domain.ErrNoActiveSession)) {
		t.Fatalf("expected no active session to be satisfied")
	}
	if app.Satisfied(domain.ErrPostingFailed) {
		t.Fatalf("posting failure must not be satisfied")
	}
}
