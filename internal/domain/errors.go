package domain

import "errors"

var (
	// ErrSessionConflict is returned when a publish would create a second active session.
	ErrSessionConflict = errors.New("another quiz session is active")
	// ErrNoActiveSession is returned when grading finds nothing to grade.
	ErrNoActiveSession = errors.New("no active quiz session")
	// ErrAlreadyGraded is returned when a session has already been (or is being) graded.
	ErrAlreadyGraded = errors.New("quiz session already graded")
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrGenerationFailed wraps content generator errors, timeouts and malformed output.
	ErrGenerationFailed = errors.New("quiz generation failed")
	// ErrPostingFailed wraps messaging gateway errors and timeouts.
	ErrPostingFailed = errors.New("messaging gateway failed")
	// ErrAmbiguousResponse marks a user whose reactions cannot be resolved to one option.
	ErrAmbiguousResponse = errors.New("ambiguous response")
	// ErrStoreUnavailable wraps durable storage errors.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrInvalidQuiz indicates quiz content that violates the four-option shape.
	ErrInvalidQuiz = errors.New("invalid quiz")
)
