package app

import (
	"fmt"
	"strings"

	"daily-quiz-bot/internal/domain"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━"

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatQuizMessage(session domain.QuizSession) string {
	quiz := session.Quiz
	var b strings.Builder
	fmt.Fprintf(&b, "### 📚 Daily Quiz #%s | %s (%s) | %s\n", shortID(session.ID), quiz.Difficulty.Stars(), quiz.Difficulty, quiz.Type)
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "**❓ %s**\n\n", quiz.Question)
	for i, opt := range quiz.Options {
		fmt.Fprintf(&b, "%s %s\n", domain.OptionKeycap(i), opt)
	}
	b.WriteString("\n" + rule + "\n")
	b.WriteString("✋ Answer by reacting to this message with 1️⃣ 2️⃣ 3️⃣ 4️⃣. Your latest reaction counts.")
	return b.String()
}

func formatResultsMessage(session domain.QuizSession, responses []domain.UserResponse) string {
	quiz := session.Quiz
	var correct, wrong []string
	for _, r := range responses {
		if r.IsCorrect {
			correct = append(correct, r.UserID)
		} else {
			wrong = append(wrong, r.UserID)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### ✅ Daily Quiz #%s results\n", shortID(session.ID))
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "**Answer: %s %s**\n", domain.OptionKeycap(quiz.CorrectIndex), quiz.Options[quiz.CorrectIndex])
	if quiz.Explanation != "" {
		fmt.Fprintf(&b, "\n📖 **Explanation:**\n%s\n", quiz.Explanation)
	}
	if quiz.SourceFile != "" {
		fmt.Fprintf(&b, "\n📁 Source: `%s`\n", quiz.SourceFile)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "🏆 **Correct (+%d):** %s\n", quiz.Difficulty.Points(), joinOrNone(correct))
	fmt.Fprintf(&b, "❌ **Incorrect:** %s\n", joinOrNone(wrong))
	accuracy := 0
	if len(responses) > 0 {
		accuracy = len(correct) * 100 / len(responses)
	}
	fmt.Fprintf(&b, "📊 **Accuracy:** %d%% (%d/%d)\n", accuracy, len(correct), len(responses))
	b.WriteString(rule)
	return b.String()
}

func formatLeaderboardMessage(stats []domain.UserStat) string {
	medals := []string{"🥇", "🥈", "🥉"}
	var b strings.Builder
	b.WriteString("### 🏆 Leaderboard\n")
	b.WriteString(rule + "\n\n")
	for i, s := range stats {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&b, "%s %s - %d pts (%d/%d correct, 🔥 %d, best %d)\n",
			rank, s.UserID, s.TotalPoints, s.TotalCorrect, s.TotalAnswered, s.CurrentStreak, s.BestStreak)
	}
	b.WriteString("\n" + rule)
	return b.String()
}

func joinOrNone(users []string) string {
	if len(users) == 0 {
		return "none"
	}
	return strings.Join(users, ", ")
}
