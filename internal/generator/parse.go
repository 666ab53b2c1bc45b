package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"daily-quiz-bot/internal/domain"
)

var errNoJSON = errors.New("no JSON object in generator output")

// envelope is the wrapper printed by `claude --output-format json`.
type envelope struct {
	Type    string `json:"type"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

type quizPayload struct {
	Question    string            `json:"question"`
	Options     map[string]string `json:"options"`
	Answer      json.RawMessage   `json:"answer"`
	Explanation string            `json:"explanation"`
	SourceFile  string            `json:"source_file"`
}

// parseOutput turns raw CLI output into a validated quiz.
func parseOutput(raw []byte) (domain.GeneratedQuiz, error) {
	text := strings.TrimSpace(string(raw))

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err == nil && env.Result != "" {
		if env.IsError {
			return domain.GeneratedQuiz{}, fmt.Errorf("generator reported an error: %s", truncate(env.Result, 200))
		}
		text = env.Result
	}

	obj, err := extractJSON(text)
	if err != nil {
		return domain.GeneratedQuiz{}, err
	}

	var payload quizPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return domain.GeneratedQuiz{}, fmt.Errorf("decode quiz payload: %w", err)
	}
	return payload.toQuiz()
}

// extractJSON finds the quiz object in free text: a ```json block, any
// fenced block, or the outermost braces.
func extractJSON(text string) (string, error) {
	candidates := make([]string, 0, 3)
	if start := strings.Index(text, "```json"); start >= 0 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end > 0 {
			candidates = append(candidates, strings.TrimSpace(rest[:end]))
		}
	}
	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end > 0 {
			candidates = append(candidates, strings.TrimSpace(rest[:end]))
		}
	}
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errNoJSON, truncate(text, 200))
}

func (p quizPayload) toQuiz() (domain.GeneratedQuiz, error) {
	quiz := domain.GeneratedQuiz{
		Question:    strings.TrimSpace(p.Question),
		Explanation: strings.TrimSpace(p.Explanation),
		SourceFile:  strings.TrimSpace(p.SourceFile),
	}
	if quiz.Question == "" {
		return domain.GeneratedQuiz{}, errors.New("quiz has no question")
	}
	if len(p.Options) != domain.OptionCount {
		return domain.GeneratedQuiz{}, fmt.Errorf("quiz has %d options, want %d", len(p.Options), domain.OptionCount)
	}
	for i := 0; i < domain.OptionCount; i++ {
		opt, ok := p.Options[strconv.Itoa(i+1)]
		if !ok || strings.TrimSpace(opt) == "" {
			return domain.GeneratedQuiz{}, fmt.Errorf("quiz option %d is missing", i+1)
		}
		quiz.Options[i] = strings.TrimSpace(opt)
	}

	answer, err := parseAnswer(p.Answer)
	if err != nil {
		return domain.GeneratedQuiz{}, err
	}
	quiz.CorrectIndex = answer - 1
	return quiz, nil
}

// parseAnswer accepts "3" or 3.
func parseAnswer(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("invalid answer %s", string(raw))
		}
		s = strconv.Itoa(n)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > domain.OptionCount {
		return 0, fmt.Errorf("answer %q is not between 1 and %d", s, domain.OptionCount)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
