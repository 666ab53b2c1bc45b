package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. A single
// mutex makes every method atomic, which is all the compare-and-swap
// contract needs inside one process.
type SessionStore struct {
	mu        sync.RWMutex
	quizzes   map[string]domain.Quiz
	sessions  map[string]domain.QuizSession
	order     []string
	responses map[string]map[string]domain.UserResponse
	stats     map[string]domain.UserStat
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		quizzes:   make(map[string]domain.Quiz),
		sessions:  make(map[string]domain.QuizSession),
		responses: make(map[string]map[string]domain.UserResponse),
		stats:     make(map[string]domain.UserStat),
	}
}

func (s *SessionStore) GetActiveSession(_ context.Context) (domain.QuizSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.activeLocked()
	return session, ok, nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) ListSessions(_ context.Context, state domain.SessionState) ([]domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.QuizSession
	for _, id := range s.order {
		if session := s.sessions[id]; session.State == state {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *SessionStore) CreateQuizAndSession(_ context.Context, quiz domain.Quiz, session domain.QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.State == domain.SessionActive {
		if _, ok := s.activeLocked(); ok {
			return domain.ErrSessionConflict
		}
	}
	session.Quiz = quiz
	s.quizzes[quiz.ID] = quiz
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	return nil
}

func (s *SessionStore) AttachMessage(_ context.Context, id, messageID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.State != domain.SessionActive {
		return domain.ErrSessionNotFound
	}
	session.ChannelMessageID = messageID
	session.PublishedAt = &publishedAt
	s.sessions[id] = session
	return nil
}

func (s *SessionStore) TransitionSession(_ context.Context, id string, from, to domain.SessionState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.State != from {
		return false, nil
	}
	if to == domain.SessionActive {
		if _, busy := s.activeLocked(); busy {
			return false, nil
		}
	}
	session.State = to
	s.sessions[id] = session
	return true, nil
}

func (s *SessionStore) SaveResponses(_ context.Context, sessionID string, responses []domain.UserResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveResponsesLocked(sessionID, responses)
	return nil
}

func (s *SessionStore) GetOrInitUserStat(_ context.Context, userID string) (domain.UserStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat, ok := s.stats[userID]
	if !ok {
		stat = domain.UserStat{UserID: userID}
		s.stats[userID] = stat
	}
	return stat, nil
}

func (s *SessionStore) SaveUserStats(_ context.Context, stats []domain.UserStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveStatsLocked(stats)
	return nil
}

func (s *SessionStore) CompleteSession(_ context.Context, id string, gradedAt time.Time, responses []domain.UserResponse, stats []domain.UserStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.State != domain.SessionGrading {
		return domain.ErrAlreadyGraded
	}
	s.saveResponsesLocked(id, responses)
	s.saveStatsLocked(stats)
	session.State = domain.SessionCompleted
	session.GradedAt = &gradedAt
	s.sessions[id] = session
	return nil
}

func (s *SessionStore) ListResponses(_ context.Context, sessionID string) ([]domain.UserResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserResponse, 0, len(s.responses[sessionID]))
	for _, r := range s.responses[sessionID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *SessionStore) Leaderboard(_ context.Context, limit int) ([]domain.UserStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserStat, 0, len(s.stats))
	for _, stat := range s.stats {
		if stat.TotalAnswered > 0 {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SessionStore) activeLocked() (domain.QuizSession, bool) {
	for _, session := range s.sessions {
		if session.State == domain.SessionActive {
			return session, true
		}
	}
	return domain.QuizSession{}, false
}

func (s *SessionStore) saveResponsesLocked(sessionID string, responses []domain.UserResponse) {
	bySession, ok := s.responses[sessionID]
	if !ok {
		bySession = make(map[string]domain.UserResponse)
		s.responses[sessionID] = bySession
	}
	// One row per (session, user); a later write replaces the earlier one.
	for _, r := range responses {
		bySession[r.UserID] = r
	}
}

func (s *SessionStore) saveStatsLocked(stats []domain.UserStat) {
	for _, stat := range stats {
		s.stats[stat.UserID] = stat
	}
}
