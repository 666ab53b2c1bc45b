package app

import (
	"sort"
	"time"

	"daily-quiz-bot/internal/domain"
)

type pick struct {
	index int
	at    time.Time
}

// resolveResponses turns a reaction snapshot into one response per user.
// A user with several option reactions is resolved to the latest one; users
// whose choice cannot be ordered (missing timestamps, or a tie on the latest
// timestamp across different options) are returned in ambiguous instead.
func resolveResponses(quiz domain.Quiz, sessionID string, snapshot domain.ReactionSnapshot, fallback time.Time) ([]domain.UserResponse, []string) {
	picks := make(map[string][]pick)
	for emoji, reactions := range snapshot {
		index, ok := domain.OptionIndex(emoji)
		if !ok {
			continue
		}
		for _, r := range reactions {
			if r.UserID == "" {
				continue
			}
			picks[r.UserID] = append(picks[r.UserID], pick{index: index, at: r.At})
		}
	}

	responses := make([]domain.UserResponse, 0, len(picks))
	var ambiguous []string
	for userID, choices := range picks {
		choice, ok := latestPick(choices)
		if !ok {
			ambiguous = append(ambiguous, userID)
			continue
		}
		respondedAt := choice.at
		if respondedAt.IsZero() {
			respondedAt = fallback
		}
		responses = append(responses, domain.UserResponse{
			SessionID:   sessionID,
			UserID:      userID,
			ChosenIndex: choice.index,
			IsCorrect:   choice.index == quiz.CorrectIndex,
			RespondedAt: respondedAt,
		})
	}

	sort.Slice(responses, func(i, j int) bool { return responses[i].UserID < responses[j].UserID })
	sort.Strings(ambiguous)
	return responses, ambiguous
}

func latestPick(choices []pick) (pick, bool) {
	distinct := make(map[int]struct{}, len(choices))
	for _, c := range choices {
		distinct[c.index] = struct{}{}
	}
	// Repeated reactions on the same option are not a conflict.
	if len(distinct) == 1 {
		best := choices[0]
		for _, c := range choices[1:] {
			if c.at.After(best.at) {
				best = c
			}
		}
		return best, true
	}

	best := choices[0]
	tied := false
	for _, c := range choices {
		if c.at.IsZero() {
			return pick{}, false
		}
	}
	for _, c := range choices[1:] {
		switch {
		case c.at.After(best.at):
			best, tied = c, false
		case c.at.Equal(best.at) && c.index != best.index:
			tied = true
		}
	}
	if tied {
		return pick{}, false
	}
	return best, true
}
