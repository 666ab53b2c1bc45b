package domain

import (
	"fmt"
	"strings"
	"time"
)

// OptionCount is the fixed number of answer options per quiz.
const OptionCount = 4

// QuizType is the closed set of quiz categories.
type QuizType string

const (
	QuizTypeCodebase     QuizType = "codebase"
	QuizTypeLibrary      QuizType = "library"
	QuizTypeRecentChange QuizType = "recent_change"
)

// QuizTypes lists every supported type in a stable order.
var QuizTypes = []QuizType{QuizTypeCodebase, QuizTypeLibrary, QuizTypeRecentChange}

// ParseQuizType validates a user or config supplied type name.
func ParseQuizType(raw string) (QuizType, error) {
	t := QuizType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range QuizTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown quiz type %q", raw)
}

// Difficulty of a quiz.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates a difficulty name.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(raw))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", raw)
	}
}

// Points awarded for a correct answer at this difficulty.
func (d Difficulty) Points() int {
	switch d {
	case DifficultyEasy:
		return 10
	case DifficultyHard:
		return 30
	default:
		return 20
	}
}

// Stars renders the difficulty for chat messages.
func (d Difficulty) Stars() string {
	return strings.Repeat("⭐", d.Points()/10)
}

// Quiz is a single four-option question. Immutable once created.
type Quiz struct {
	ID           string              `json:"id"`
	Type         QuizType            `json:"type"`
	Difficulty   Difficulty          `json:"difficulty"`
	Question     string              `json:"question"`
	Options      [OptionCount]string `json:"options"`
	CorrectIndex int                 `json:"correctIndex"`
	Explanation  string              `json:"explanation,omitempty"`
	SourceFile   string              `json:"sourceFile,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// Validate checks the content shape shared by generator output and stored quizzes.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: empty question", ErrInvalidQuiz)
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidQuiz, i+1)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= OptionCount {
		return fmt.Errorf("%w: correct index %d out of range", ErrInvalidQuiz, q.CorrectIndex)
	}
	return nil
}

// SessionState is the lifecycle state of a QuizSession.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionGrading   SessionState = "grading"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// QuizSession is one quiz's instance from publish to grade.
type QuizSession struct {
	ID               string       `json:"id"`
	Quiz             Quiz         `json:"quiz"`
	State            SessionState `json:"state"`
	ChannelMessageID string       `json:"channelMessageId,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	PublishedAt      *time.Time   `json:"publishedAt,omitempty"`
	GradedAt         *time.Time   `json:"gradedAt,omitempty"`
}

// Published reports whether the quiz message has been posted and recorded.
func (s QuizSession) Published() bool {
	return s.ChannelMessageID != ""
}

// UserResponse is a user's resolved answer for one session.
type UserResponse struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	ChosenIndex int       `json:"chosenIndex"`
	IsCorrect   bool      `json:"isCorrect"`
	RespondedAt time.Time `json:"respondedAt"`
}

// UserStat is the cumulative scoring record of one user.
type UserStat struct {
	UserID         string     `json:"userId"`
	TotalAnswered  int        `json:"totalAnswered"`
	TotalCorrect   int        `json:"totalCorrect"`
	CurrentStreak  int        `json:"currentStreak"`
	BestStreak     int        `json:"bestStreak"`
	TotalPoints    int        `json:"totalPoints"`
	LastAnsweredAt *time.Time `json:"lastAnsweredAt,omitempty"`
}

// Reaction is one user's emoji on a message. A zero At means the transport
// did not report when the reaction was made.
type Reaction struct {
	UserID string
	At     time.Time
}

// ReactionSnapshot maps emoji name to the reactions carrying it.
type ReactionSnapshot map[string][]Reaction

// GenerationRequest is what the content generator is asked for.
type GenerationRequest struct {
	Type       QuizType
	Difficulty Difficulty
}

// GeneratedQuiz is raw generator output before it becomes a Quiz.
type GeneratedQuiz struct {
	Question     string              `json:"question"`
	Options      [OptionCount]string `json:"options"`
	CorrectIndex int                 `json:"correctIndex"`
	Explanation  string              `json:"explanation,omitempty"`
	SourceFile   string              `json:"sourceFile,omitempty"`
}
