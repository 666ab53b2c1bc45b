// Package mattermost is a messaging gateway backed by the Mattermost REST API
// (v4). Quiz answers are read back from the reactions on the quiz post.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"daily-quiz-bot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Config locates the server, the bot credentials and the quiz channel.
type Config struct {
	URL       string
	Token     string
	ChannelID string
}

type Client struct {
	baseURL   string
	token     string
	channelID string
	http      *http.Client
	log       *slog.Logger

	sf    singleflight.Group
	botID string
}

func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("mattermost url, token and channel id are required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid mattermost url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/") + "/api/v4",
		token:     cfg.Token,
		channelID: cfg.ChannelID,
		http:      httpClient,
		log:       log.With("component", "mattermost"),
	}, nil
}

type post struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
	RootID    string `json:"root_id,omitempty"`
}

type reaction struct {
	UserID    string `json:"user_id"`
	PostID    string `json:"post_id"`
	EmojiName string `json:"emoji_name"`
	CreateAt  int64  `json:"create_at,omitempty"`
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Post creates a channel post and seeds it with the given reactions so users
// can answer with one click. Seeding failures are logged, not returned.
func (c *Client) Post(ctx context.Context, text string, seedReactions []string) (string, error) {
	var created post
	if err := c.do(ctx, http.MethodPost, "/posts", post{ChannelID: c.channelID, Message: text}, &created); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create post: empty post id in response")
	}

	if len(seedReactions) > 0 {
		botID, err := c.me(ctx)
		if err != nil {
			c.log.Warn("failed to resolve bot user, skipping seed reactions", "error", err)
			return created.ID, nil
		}
		for _, emoji := range seedReactions {
			r := reaction{UserID: botID, PostID: created.ID, EmojiName: emoji}
			if err := c.do(ctx, http.MethodPost, "/reactions", r, nil); err != nil {
				c.log.Warn("failed to add reaction", "emoji", emoji, "post_id", created.ID, "error", err)
			}
		}
	}
	return created.ID, nil
}

// FetchReactions returns the current reactions on a post, grouped by emoji.
// The bot's own seed reactions are left out.
func (c *Client) FetchReactions(ctx context.Context, messageID string) (domain.ReactionSnapshot, error) {
	botID, err := c.me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve bot user: %w", err)
	}

	var reactions []reaction
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(messageID)+"/reactions", nil, &reactions); err != nil {
		return nil, fmt.Errorf("get reactions: %w", err)
	}

	snapshot := make(domain.ReactionSnapshot)
	for _, r := range reactions {
		if r.UserID == "" || r.EmojiName == "" || r.UserID == botID {
			continue
		}
		var at time.Time
		if r.CreateAt > 0 {
			at = time.UnixMilli(r.CreateAt).UTC()
		}
		snapshot[r.EmojiName] = append(snapshot[r.EmojiName], domain.Reaction{UserID: r.UserID, At: at})
	}
	return snapshot, nil
}

// PostResults replies in the thread of the quiz post.
func (c *Client) PostResults(ctx context.Context, messageID, text string) error {
	if err := c.do(ctx, http.MethodPost, "/posts", post{ChannelID: c.channelID, Message: text, RootID: messageID}, nil); err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	return nil
}

const meLookupTimeout = 10 * time.Second

// me resolves the bot's own user id once; concurrent callers share the call.
// The shared lookup is detached from any one caller's cancellation.
func (c *Client) me(ctx context.Context) (string, error) {
	ch := c.sf.DoChan("me", func() (interface{}, error) {
		if c.botID != "" {
			return c.botID, nil
		}
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), meLookupTimeout)
		defer cancel()

		var u user
		if err := c.do(lookupCtx, http.MethodGet, "/users/me", nil, &u); err != nil {
			return "", err
		}
		if u.ID == "" {
			return "", fmt.Errorf("empty user id for bot")
		}
		c.botID = u.ID
		return u.ID, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type apiError struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("mattermost %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("mattermost %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
