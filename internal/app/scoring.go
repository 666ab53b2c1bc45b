package app

import (
	"sort"

	"daily-quiz-bot/internal/domain"
)

// Score applies graded responses to the users' current stats and returns the
// updated stats of every responder. Users without a response are not touched,
// so skipping a quiz never breaks a streak. The result does not depend on the
// order of responses.
func Score(current map[string]domain.UserStat, responses []domain.UserResponse, points int) []domain.UserStat {
	updated := make([]domain.UserStat, 0, len(responses))
	for _, response := range responses {
		stat, ok := current[response.UserID]
		if !ok {
			stat = domain.UserStat{UserID: response.UserID}
		}

		stat.TotalAnswered++
		if response.IsCorrect {
			stat.TotalCorrect++
			stat.CurrentStreak++
			stat.TotalPoints += points
			if stat.CurrentStreak > stat.BestStreak {
				stat.BestStreak = stat.CurrentStreak
			}
		} else {
			stat.CurrentStreak = 0
		}
		answeredAt := response.RespondedAt
		stat.LastAnsweredAt = &answeredAt

		updated = append(updated, stat)
	}

	sort.Slice(updated, func(i, j int) bool { return updated[i].UserID < updated[j].UserID })
	return updated
}
