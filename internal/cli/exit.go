package cli

import (
	"errors"

	"daily-quiz-bot/internal/domain"
)

// Process exit codes per error kind.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConflict      = 3
	ExitNoActive      = 4
	ExitAlreadyGraded = 5
	ExitGeneration    = 6
	ExitPosting       = 7
	ExitStore         = 8
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrSessionConflict):
		return ExitConflict
	case errors.Is(err, domain.ErrNoActiveSession), errors.Is(err, domain.ErrSessionNotFound):
		return ExitNoActive
	case errors.Is(err, domain.ErrAlreadyGraded):
		return ExitAlreadyGraded
	case errors.Is(err, domain.ErrGenerationFailed):
		return ExitGeneration
	case errors.Is(err, domain.ErrPostingFailed):
		return ExitPosting
	case errors.Is(err, domain.ErrStoreUnavailable):
		return ExitStore
	default:
		return ExitFailure
	}
}
