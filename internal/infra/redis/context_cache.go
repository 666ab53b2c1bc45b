package redis

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"daily-quiz-bot/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ContextLoader produces the repository context a quiz of the given type is
// generated from.
type ContextLoader interface {
	LoadContext(ctx context.Context, quizType domain.QuizType) (string, error)
}

// ContextCache caches repository context in Redis so that instances sharing
// a checkout do not each re-analyze it. Keys are {prefix}:context:{type}.
type ContextCache struct {
	client *redis.Client
	loader ContextLoader
	ttl    time.Duration
	prefix string
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewContextCache(client *redis.Client, loader ContextLoader, ttl time.Duration, prefix string) *ContextCache {
	if prefix == "" {
		prefix = "quizbot"
	}
	return &ContextCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		prefix: prefix,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContextCache) LoadContext(ctx context.Context, quizType domain.QuizType) (string, error) {
	key := c.key(quizType)
	if text, err := c.client.Get(ctx, key).Result(); err == nil {
		return text, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		text, err := c.client.Get(ctx, key).Result()
		if err == nil {
			return text, nil
		}
		cacheDown := !errors.Is(err, redis.Nil)

		text, err = c.loader.LoadContext(ctx, quizType)
		if err != nil {
			return "", err
		}
		if !cacheDown {
			_ = c.client.Set(ctx, key, text, c.ttlWithJitter()).Err()
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ContextCache) key(quizType domain.QuizType) string {
	return c.prefix + ":context:" + string(quizType)
}

func (c *ContextCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
