// Package generator writes quiz content with the Claude CLI from facts
// gathered out of a local repository checkout.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
)

// ContextLoader supplies repository facts for a quiz type. RepoAnalyzer
// implements it, optionally behind a memory or Redis cache.
type ContextLoader interface {
	LoadContext(ctx context.Context, quizType domain.QuizType) (string, error)
}

var topics = map[domain.QuizType][]string{
	domain.QuizTypeCodebase: {
		"directory and package layout",
		"responsibilities of the main components",
		"routing and entry points",
		"state and data ownership",
		"how external APIs are called",
		"build and deployment setup",
		"how tests are organized",
	},
	domain.QuizTypeLibrary: {
		"basic API usage",
		"advanced features",
		"configuration and options",
		"common mistakes and how to fix them",
		"performance tips",
		"type safety",
		"best practices",
		"comparison with alternative libraries",
	},
	domain.QuizTypeRecentChange: {
		"the business purpose behind the change",
		"how behavior differs before and after the change",
		"impact on users",
		"the technical problem the change solves",
		"the design decision behind the change",
		"project conventions the change follows",
		"how data flow changed",
	},
}

// Claude generates quizzes by running `claude -p <prompt> --output-format json`.
type Claude struct {
	path     string
	workdir  string
	contexts ContextLoader
	runner   Runner
	log      *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewClaude(path, workdir string, contexts ContextLoader, runner Runner, log *slog.Logger) *Claude {
	if path == "" {
		path = "claude"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Claude{
		path:     path,
		workdir:  workdir,
		contexts: contexts,
		runner:   runner,
		log:      log.With("component", "generator"),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Claude) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedQuiz, error) {
	repoContext, err := c.contexts.LoadContext(ctx, req.Type)
	if err != nil {
		return domain.GeneratedQuiz{}, fmt.Errorf("load %s context: %w", req.Type, err)
	}
	topic := c.pickTopic(req.Type)
	c.log.Info("generating quiz", "quiz_type", req.Type, "difficulty", req.Difficulty, "topic", topic)

	out, err := c.runner.Run(ctx, c.workdir, c.path, "-p", buildPrompt(req, repoContext, topic), "--output-format", "json")
	if err != nil {
		return domain.GeneratedQuiz{}, fmt.Errorf("run claude: %w", err)
	}
	quiz, err := parseOutput(out)
	if err != nil {
		c.log.Warn("unusable generator output", "error", err)
		return domain.GeneratedQuiz{}, err
	}
	return quiz, nil
}

func (c *Claude) pickTopic(t domain.QuizType) string {
	list := topics[t]
	if len(list) == 0 {
		return "general knowledge"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return list[c.rnd.Intn(len(list))]
}

func buildPrompt(req domain.GenerationRequest, repoContext, topic string) string {
	var focus string
	switch req.Type {
	case domain.QuizTypeCodebase:
		focus = "Ask about how this project is structured or how its parts work together."
	case domain.QuizTypeLibrary:
		focus = "Pick ONE library from the dependency list and ask a practical question about using it."
	case domain.QuizTypeRecentChange:
		focus = "Pick ONE of the commits with a diff. Start the question with \"Commit <short sha> (<subject>):\". " +
			"Avoid shallow questions like which file changed; answering must require understanding the change."
	}

	var b strings.Builder
	b.WriteString("You write multiple-choice quizzes for a software team, based on the context below.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(repoContext)
	fmt.Fprintf(&b, "\nQuiz type: %s\nDifficulty: %s\nTopic: %s\n\n", req.Type, req.Difficulty, topic)
	b.WriteString("Requirements:\n")
	b.WriteString("1. Exactly one question with exactly 4 options and one correct answer.\n")
	b.WriteString("2. Test knowledge that is useful in day-to-day work.\n")
	b.WriteString("3. Include a clear explanation.\n")
	fmt.Fprintf(&b, "4. %s\n\n", focus)
	b.WriteString("Reply with JSON only, no other text, in this exact shape:\n")
	fmt.Fprintf(&b, `{"type":"%s","difficulty":"%s","question":"...","options":{"1":"...","2":"...","3":"...","4":"..."},"answer":"<1-4>","explanation":"...","source_file":"<related file path>"}`,
		req.Type, req.Difficulty)
	return b.String()
}
