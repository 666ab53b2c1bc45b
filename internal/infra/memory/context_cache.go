package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ContextLoader produces the repository context a quiz of the given type is
// generated from (e.g., a git checkout analysis).
type ContextLoader interface {
	LoadContext(ctx context.Context, quizType domain.QuizType) (string, error)
}

// ContextCache caches loaded context per quiz type with TTL to avoid
// re-walking the repository on every generation.
type ContextCache struct {
	loader ContextLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[domain.QuizType]cachedContext
}

type cachedContext struct {
	text      string
	expiresAt time.Time
}

func NewContextCache(loader ContextLoader, ttl time.Duration) *ContextCache {
	return &ContextCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.QuizType]cachedContext),
	}
}

func (c *ContextCache) LoadContext(ctx context.Context, quizType domain.QuizType) (string, error) {
	if text, ok := c.lookup(quizType); ok {
		return text, nil
	}

	result, err, _ := c.sf.Do(string(quizType), func() (interface{}, error) {
		if text, ok := c.lookup(quizType); ok {
			return text, nil
		}

		text, err := c.loader.LoadContext(ctx, quizType)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.cache[quizType] = cachedContext{
			text:      text,
			expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ContextCache) lookup(quizType domain.QuizType) (string, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[quizType]; ok && entry.expiresAt.After(now) {
		return entry.text, true
	}
	return "", false
}

func (c *ContextCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
