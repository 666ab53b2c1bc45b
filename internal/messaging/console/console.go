// Package console is a messaging gateway that prints messages instead of
// sending them. It is used when no chat server is configured.
package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"daily-quiz-bot/internal/domain"
	"github.com/google/uuid"
)

type Gateway struct {
	mu  sync.Mutex
	out io.Writer
}

func New(out io.Writer) *Gateway {
	return &Gateway{out: out}
}

func (g *Gateway) Post(_ context.Context, text string, _ []string) (string, error) {
	id := "console-" + uuid.NewString()
	if err := g.write(id, "", text); err != nil {
		return "", err
	}
	return id, nil
}

// FetchReactions always returns an empty snapshot: nobody can react to
// console output.
func (g *Gateway) FetchReactions(_ context.Context, _ string) (domain.ReactionSnapshot, error) {
	return domain.ReactionSnapshot{}, nil
}

func (g *Gateway) PostResults(_ context.Context, messageID, text string) error {
	return g.write(messageID, messageID, text)
}

func (g *Gateway) write(id, rootID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	header := "----- " + id
	if rootID != "" {
		header = "----- reply to " + rootID
	}
	_, err := fmt.Fprintf(g.out, "%s\n%s\n\n", header, text)
	return err
}
