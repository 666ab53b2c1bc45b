package cli

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"daily-quiz-bot/internal/app"
	"daily-quiz-bot/internal/domain"
	"github.com/spf13/cobra"
)

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var quizType, difficulty string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Generate a quiz and post it as the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			publishOpts, err := parseQuizFlags(quizType, difficulty)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.manager.Publish(cmd.Context(), publishOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published session %s (%s, %s) as message %s\n",
				session.ID, session.Quiz.Type, session.Quiz.Difficulty, session.ChannelMessageID)
			return nil
		},
	}
	cmd.Flags().StringVar(&quizType, "type", "", "quiz type: codebase, library or recent_change (random if empty)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "easy, medium or hard (default medium)")
	return cmd
}

func newGradeCmd(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade the active session (or --session-id) from its reactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.manager.Grade(cmd.Context(), sessionID)
			if result.Session.ID != "" {
				correct := 0
				for _, r := range result.Responses {
					if r.IsCorrect {
						correct++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "graded session %s: %d responses, %d correct, %d excluded\n",
					result.Session.ID, len(result.Responses), correct, len(result.Excluded))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to grade (default: the active session)")
	return cmd
}

func newLeaderboardCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Post the leaderboard of top users by points",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Leaderboard.Limit
			}
			rt, err := newRuntime(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.manager.PostLeaderboard(cmd.Context(), limit)
			if len(stats) == 0 && err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no answers recorded yet")
			}
			for i, s := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s %d pts (%d/%d correct, best streak %d)\n",
					i+1, s.UserID, s.TotalPoints, s.TotalCorrect, s.TotalAnswered, s.BestStreak)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of users to show (default leaderboard.limit)")
	return cmd
}

// newGenerateCmd previews generated quizzes without creating a session.
func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var quizType, difficulty string
	var count int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Preview generated quizzes without publishing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			publishOpts, err := parseQuizFlags(quizType, difficulty)
			if err != nil {
				return err
			}
			if publishOpts.Difficulty == "" {
				publishOpts.Difficulty = domain.DifficultyMedium
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := setupLogger(cfg, os.Stderr)
			client := newRedisClient(cfg)
			if client != nil {
				defer client.Close()
			}
			gen := newGenerator(cfg, log, client)
			rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for i := 0; i < count; i++ {
				req := domain.GenerationRequest{Type: publishOpts.Type, Difficulty: publishOpts.Difficulty}
				if req.Type == "" {
					req.Type = domain.QuizTypes[rnd.Intn(len(domain.QuizTypes))]
				}
				quiz, err := gen.Generate(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
				}
				if err := enc.Encode(struct {
					Type       domain.QuizType   `json:"type"`
					Difficulty domain.Difficulty `json:"difficulty"`
					domain.GeneratedQuiz
				}{req.Type, req.Difficulty, quiz}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&quizType, "type", "", "quiz type (random per quiz if empty)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "easy, medium or hard (default medium)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of quizzes to generate")
	return cmd
}

func parseQuizFlags(quizType, difficulty string) (app.PublishOptions, error) {
	var opts app.PublishOptions
	if quizType != "" {
		t, err := domain.ParseQuizType(quizType)
		if err != nil {
			return opts, err
		}
		opts.Type = t
	}
	if difficulty != "" {
		d, err := domain.ParseDifficulty(difficulty)
		if err != nil {
			return opts, err
		}
		opts.Difficulty = d
	}
	return opts, nil
}
