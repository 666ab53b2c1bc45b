package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	defaultGeneratorTimeout = 3 * time.Minute
	defaultGatewayTimeout   = 10 * time.Second
	defaultPostRetryDelay   = 2 * time.Second
)

// ManagerConfig tunes timeouts and injects collaborators that tests replace.
// Zero values fall back to defaults.
type ManagerConfig struct {
	GeneratorTimeout time.Duration
	GatewayTimeout   time.Duration
	PostRetryDelay   time.Duration

	Logger *slog.Logger
	Events EventSink
	Now    func() time.Time
	Rand   *rand.Rand
	NewID  func() string
}

// Manager owns the quiz session state machine. It keeps no session state of
// its own: every operation reads the store and moves sessions with
// compare-and-swap transitions, so scheduled and manual invocations share the
// same guarantees.
type Manager struct {
	store     SessionStore
	generator ContentGenerator
	gateway   MessagingGateway

	log              *slog.Logger
	events           EventSink
	generatorTimeout time.Duration
	gatewayTimeout   time.Duration
	postRetryDelay   time.Duration
	now              func() time.Time
	newID            func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewManager(store SessionStore, generator ContentGenerator, gateway MessagingGateway, cfg ManagerConfig) *Manager {
	m := &Manager{
		store:            store,
		generator:        generator,
		gateway:          gateway,
		log:              cfg.Logger,
		events:           cfg.Events,
		generatorTimeout: cfg.GeneratorTimeout,
		gatewayTimeout:   cfg.GatewayTimeout,
		postRetryDelay:   cfg.PostRetryDelay,
		now:              cfg.Now,
		newID:            cfg.NewID,
		rnd:              cfg.Rand,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.events == nil {
		m.events = discardEvents{}
	}
	if m.generatorTimeout <= 0 {
		m.generatorTimeout = defaultGeneratorTimeout
	}
	if m.gatewayTimeout <= 0 {
		m.gatewayTimeout = defaultGatewayTimeout
	}
	if m.postRetryDelay <= 0 {
		m.postRetryDelay = defaultPostRetryDelay
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.rnd == nil {
		m.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return m
}

// PublishOptions selects quiz content. Zero values mean a random type and
// medium difficulty.
type PublishOptions struct {
	Type       domain.QuizType
	Difficulty domain.Difficulty
}

// GradingResult summarizes a completed grading pass.
type GradingResult struct {
	Session   domain.QuizSession    `json:"session"`
	Responses []domain.UserResponse `json:"responses"`
	Stats     []domain.UserStat     `json:"stats"`
	Excluded  []string              `json:"excluded,omitempty"`
}

// Satisfied reports whether err only means that a trigger's goal already
// holds (nothing to grade, a quiz is already running, already graded).
func Satisfied(err error) bool {
	return errors.Is(err, domain.ErrNoActiveSession) ||
		errors.Is(err, domain.ErrSessionConflict) ||
		errors.Is(err, domain.ErrAlreadyGraded)
}

// Publish generates a quiz, persists it as the active session and posts it.
func (m *Manager) Publish(ctx context.Context, opts PublishOptions) (domain.QuizSession, error) {
	active, ok, err := m.store.GetActiveSession(ctx)
	if err != nil {
		return domain.QuizSession{}, storeError("get active session", err)
	}
	if ok {
		return domain.QuizSession{}, fmt.Errorf("%w: session %s", domain.ErrSessionConflict, active.ID)
	}

	req := domain.GenerationRequest{Type: opts.Type, Difficulty: opts.Difficulty}
	if req.Type == "" {
		req.Type = m.randomType()
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.DifficultyMedium
	}
	log := m.log.With("quiz_type", req.Type, "difficulty", req.Difficulty)

	log.Info("generating quiz")
	quiz, err := m.generate(ctx, req)
	if err != nil {
		log.Error("quiz generation failed", "error", err)
		return domain.QuizSession{}, err
	}

	session := domain.QuizSession{
		ID:        m.newID(),
		Quiz:      quiz,
		State:     domain.SessionActive,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateQuizAndSession(ctx, quiz, session); err != nil {
		if errors.Is(err, domain.ErrSessionConflict) {
			return domain.QuizSession{}, err
		}
		return domain.QuizSession{}, storeError("create session", err)
	}
	log = log.With("session_id", session.ID)

	messageID, err := m.post(ctx, formatQuizMessage(session), domain.OptionEmojis[:])
	if err != nil {
		m.fail(ctx, session.ID, err)
		return domain.QuizSession{}, fmt.Errorf("%w: post quiz: %w", domain.ErrPostingFailed, err)
	}

	publishedAt := m.now()
	if err := m.store.AttachMessage(context.WithoutCancel(ctx), session.ID, messageID, publishedAt); err != nil {
		m.fail(ctx, session.ID, err)
		return domain.QuizSession{}, storeError("attach message", err)
	}
	session.ChannelMessageID = messageID
	session.PublishedAt = &publishedAt

	log.Info("quiz published", "message_id", messageID)
	m.events.Publish(Event{Type: EventPublished, SessionID: session.ID, State: session.State, At: publishedAt})
	return session, nil
}

// Grade reads the reaction snapshot of a session, scores it and completes
// the session. An empty sessionID targets the active session.
func (m *Manager) Grade(ctx context.Context, sessionID string) (GradingResult, error) {
	session, err := m.gradingTarget(ctx, sessionID)
	if err != nil {
		return GradingResult{}, err
	}
	log := m.log.With("session_id", session.ID)

	ok, err := m.store.TransitionSession(ctx, session.ID, domain.SessionActive, domain.SessionGrading)
	if err != nil {
		return GradingResult{}, storeError("begin grading", err)
	}
	if !ok {
		return GradingResult{}, fmt.Errorf("%w: session %s", domain.ErrAlreadyGraded, session.ID)
	}

	snapshot, err := m.fetchReactions(ctx, session.ChannelMessageID)
	if err != nil {
		m.reopen(ctx, session.ID)
		return GradingResult{}, fmt.Errorf("%w: fetch reactions: %w", domain.ErrPostingFailed, err)
	}

	gradedAt := m.now()
	responses, excluded := resolveResponses(session.Quiz, session.ID, snapshot, gradedAt)
	for _, userID := range excluded {
		log.Warn("excluding user from scoring", "user_id", userID, "error", domain.ErrAmbiguousResponse)
	}

	current := make(map[string]domain.UserStat, len(responses))
	for _, r := range responses {
		stat, err := m.store.GetOrInitUserStat(ctx, r.UserID)
		if err != nil {
			m.reopen(ctx, session.ID)
			return GradingResult{}, storeError("load user stat", err)
		}
		current[r.UserID] = stat
	}
	stats := Score(current, responses, session.Quiz.Difficulty.Points())

	if err := m.store.CompleteSession(ctx, session.ID, gradedAt, responses, stats); err != nil {
		if errors.Is(err, domain.ErrAlreadyGraded) {
			return GradingResult{}, err
		}
		m.reopen(ctx, session.ID)
		return GradingResult{}, storeError("complete session", err)
	}
	session.State = domain.SessionCompleted
	session.GradedAt = &gradedAt

	result := GradingResult{Session: session, Responses: responses, Stats: stats, Excluded: excluded}
	log.Info("quiz graded", "responses", len(responses), "correct", countCorrect(responses), "excluded", len(excluded))
	m.events.Publish(Event{Type: EventGraded, SessionID: session.ID, State: session.State, At: gradedAt})

	// Grading is durable at this point; the announcement is best effort.
	if err := m.postResults(ctx, session, responses); err != nil {
		log.Error("failed to post results", "error", err)
		return result, fmt.Errorf("%w: post results: %w", domain.ErrPostingFailed, err)
	}
	return result, nil
}

// PostLeaderboard posts the top users by points. Nothing is posted when no
// one has answered yet.
func (m *Manager) PostLeaderboard(ctx context.Context, limit int) ([]domain.UserStat, error) {
	stats, err := m.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, storeError("load leaderboard", err)
	}
	if len(stats) == 0 {
		return stats, nil
	}
	if _, err := m.post(ctx, formatLeaderboardMessage(stats), nil); err != nil {
		return stats, fmt.Errorf("%w: post leaderboard: %w", domain.ErrPostingFailed, err)
	}
	return stats, nil
}

// Recover repairs sessions stranded by a crash: grading sessions go back to
// active so the next grade re-reads their reactions, and active sessions that
// never got a message id past the posting window are failed.
func (m *Manager) Recover(ctx context.Context) error {
	grading, err := m.store.ListSessions(ctx, domain.SessionGrading)
	if err != nil {
		return storeError("list grading sessions", err)
	}
	for _, s := range grading {
		state, err := m.releaseGrading(ctx, s.ID, "stranded in grading")
		if err != nil {
			return storeError("reopen session", err)
		}
		if state == domain.SessionActive {
			m.log.Warn("reopened session stranded in grading", "session_id", s.ID)
		}
	}

	active, err := m.store.ListSessions(ctx, domain.SessionActive)
	if err != nil {
		return storeError("list active sessions", err)
	}
	window := 2*m.gatewayTimeout + m.postRetryDelay
	for _, s := range active {
		if s.Published() || m.now().Sub(s.CreatedAt) < window {
			continue
		}
		if _, err := m.store.TransitionSession(ctx, s.ID, domain.SessionActive, domain.SessionFailed); err != nil {
			return storeError("fail unpublished session", err)
		}
		m.log.Warn("failed session that was never posted", "session_id", s.ID)
		m.events.Publish(Event{Type: EventFailed, SessionID: s.ID, State: domain.SessionFailed, At: m.now(), Detail: "never posted"})
	}
	return nil
}

func (m *Manager) gradingTarget(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	var session domain.QuizSession
	if sessionID == "" {
		active, ok, err := m.store.GetActiveSession(ctx)
		if err != nil {
			return domain.QuizSession{}, storeError("get active session", err)
		}
		if !ok {
			return domain.QuizSession{}, domain.ErrNoActiveSession
		}
		session = active
	} else {
		found, err := m.store.GetSession(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.QuizSession{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return domain.QuizSession{}, storeError("get session", err)
		}
		session = found
	}

	switch session.State {
	case domain.SessionActive:
	case domain.SessionGrading, domain.SessionCompleted:
		return domain.QuizSession{}, fmt.Errorf("%w: session %s is %s", domain.ErrAlreadyGraded, session.ID, session.State)
	default:
		return domain.QuizSession{}, fmt.Errorf("%w: session %s is %s", domain.ErrNoActiveSession, session.ID, session.State)
	}
	if !session.Published() {
		return domain.QuizSession{}, fmt.Errorf("%w: session %s is still being published", domain.ErrSessionConflict, session.ID)
	}
	return session, nil
}

func (m *Manager) generate(ctx context.Context, req domain.GenerationRequest) (domain.Quiz, error) {
	genCtx, cancel := context.WithTimeout(ctx, m.generatorTimeout)
	defer cancel()

	out, err := m.generator.Generate(genCtx, req)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}
	quiz := domain.Quiz{
		ID:           m.newID(),
		Type:         req.Type,
		Difficulty:   req.Difficulty,
		Question:     out.Question,
		Options:      out.Options,
		CorrectIndex: out.CorrectIndex,
		Explanation:  out.Explanation,
		SourceFile:   out.SourceFile,
		CreatedAt:    m.now(),
	}
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}
	return quiz, nil
}

// post sends a message with one transparent retry.
func (m *Manager) post(ctx context.Context, text string, seed []string) (string, error) {
	var messageID string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, m.gatewayTimeout)
		defer cancel()

		id, err := m.gateway.Post(callCtx, text, seed)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			m.log.Warn("post attempt failed", "attempt", attempt, "error", err)
			return err
		}
		messageID = id
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.postRetryDelay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return messageID, nil
}

func (m *Manager) fetchReactions(ctx context.Context, messageID string) (domain.ReactionSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.gatewayTimeout)
	defer cancel()
	return m.gateway.FetchReactions(callCtx, messageID)
}

func (m *Manager) postResults(ctx context.Context, session domain.QuizSession, responses []domain.UserResponse) error {
	callCtx, cancel := context.WithTimeout(ctx, m.gatewayTimeout)
	defer cancel()
	return m.gateway.PostResults(callCtx, session.ChannelMessageID, formatResultsMessage(session, responses))
}

// fail moves a session that could not be posted out of the active state. It
// runs on a non-cancelled context so an interrupted publish never leaves an
// active session behind.
func (m *Manager) fail(ctx context.Context, sessionID string, cause error) {
	ok, err := m.store.TransitionSession(context.WithoutCancel(ctx), sessionID, domain.SessionActive, domain.SessionFailed)
	if err != nil {
		m.log.Error("failed to mark session failed", "session_id", sessionID, "error", err, "cause", cause)
		return
	}
	if ok {
		m.log.Warn("session failed", "session_id", sessionID, "cause", cause)
		m.events.Publish(Event{Type: EventFailed, SessionID: sessionID, State: domain.SessionFailed, At: m.now(), Detail: cause.Error()})
	}
}

// reopen returns a session whose grading pass aborted to the active state.
func (m *Manager) reopen(ctx context.Context, sessionID string) {
	if _, err := m.releaseGrading(context.WithoutCancel(ctx), sessionID, "grading aborted"); err != nil {
		m.log.Error("failed to reopen session", "session_id", sessionID, "error", err)
	}
}

// releaseGrading moves a session out of grading and reports where it landed.
// It goes back to active when it can; if a newer session took the active
// slot meanwhile, it is failed instead so it never stays in grading.
func (m *Manager) releaseGrading(ctx context.Context, sessionID, reason string) (domain.SessionState, error) {
	ok, err := m.store.TransitionSession(ctx, sessionID, domain.SessionGrading, domain.SessionActive)
	if err != nil {
		return domain.SessionGrading, err
	}
	if ok {
		return domain.SessionActive, nil
	}

	ok, err = m.store.TransitionSession(ctx, sessionID, domain.SessionGrading, domain.SessionFailed)
	if err != nil {
		return domain.SessionGrading, err
	}
	if !ok {
		// Someone else already moved it.
		session, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return session.State, nil
	}
	detail := reason + "; another session is active"
	m.log.Warn("failed session that could not be reopened", "session_id", sessionID, "reason", detail)
	m.events.Publish(Event{Type: EventFailed, SessionID: sessionID, State: domain.SessionFailed, At: m.now(), Detail: detail})
	return domain.SessionFailed, nil
}

func (m *Manager) randomType() domain.QuizType {
	m.rndMu.Lock()
	defer m.rndMu.Unlock()
	return domain.QuizTypes[m.rnd.Intn(len(domain.QuizTypes))]
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func countCorrect(responses []domain.UserResponse) int {
	n := 0
	for _, r := range responses {
		if r.IsCorrect {
			n++
		}
	}
	return n
}
