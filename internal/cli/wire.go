package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"daily-quiz-bot/internal/app"
	"daily-quiz-bot/internal/config"
	"daily-quiz-bot/internal/domain"
	"daily-quiz-bot/internal/generator"
	"daily-quiz-bot/internal/infra/memory"
	"daily-quiz-bot/internal/infra/postgres"
	"daily-quiz-bot/internal/infra/postgres/migrations"
	redisinfra "daily-quiz-bot/internal/infra/redis"
	"daily-quiz-bot/internal/infra/sqlite"
	"daily-quiz-bot/internal/messaging/console"
	"daily-quiz-bot/internal/messaging/mattermost"
	"daily-quiz-bot/internal/scheduler"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
)

// runtime holds everything a command needs, built from config.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	store   app.SessionStore
	ledger  scheduler.Ledger
	events  *app.Broadcaster
	manager *app.Manager
	redis   *redis.Client
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newRuntime opens storage, the optional Redis client, the generator and the
// messaging gateway, and assembles the session manager.
func newRuntime(ctx context.Context, cfg config.Config, out io.Writer) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		log:    setupLogger(cfg, os.Stderr),
		events: app.NewBroadcaster(),
	}
	rt.redis = newRedisClient(cfg)
	if rt.redis != nil {
		rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })
	}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.redis != nil {
		rt.ledger = redisinfra.NewTriggerLedger(rt.redis, cfg.Redis.Prefix)
	}

	gateway, err := newGateway(cfg, rt.log, out)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.manager = app.NewManager(rt.store, newGenerator(cfg, rt.log, rt.redis), gateway, app.ManagerConfig{
		GeneratorTimeout: config.Duration(cfg.Timeouts.Generator, 3*time.Minute),
		GatewayTimeout:   config.Duration(cfg.Timeouts.Gateway, 10*time.Second),
		PostRetryDelay:   config.Duration(cfg.Timeouts.PostRetryDelay, 2*time.Second),
		Logger:           rt.log.With("component", "manager"),
		Events:           rt.events,
	})
	return rt, nil
}

func (r *runtime) openStore(ctx context.Context) error {
	switch driver := r.cfg.StorageDriver(); driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(r.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("%w: open sqlite %s: %w", domain.ErrStoreUnavailable, r.cfg.Storage.SQLitePath, err)
		}
		r.closers = append(r.closers, func() { _ = store.Close() })
		r.store, r.ledger = store, store
	case config.DriverPostgres:
		applied, err := migrations.Apply(ctx, r.cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("%w: apply migrations: %w", domain.ErrStoreUnavailable, err)
		}
		if len(applied) > 0 {
			r.log.Info("migrations applied", "migrations", applied)
		}
		pool, err := pgxpool.Connect(ctx, r.cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("%w: connect postgres: %w", domain.ErrStoreUnavailable, err)
		}
		r.closers = append(r.closers, pool.Close)
		store := postgres.NewStore(pool)
		r.store, r.ledger = store, store
	case config.DriverMemory:
		r.log.Warn("using in-memory storage; sessions and stats are lost on exit")
		r.store, r.ledger = memory.NewSessionStore(), memory.NewTriggerLedger()
	default:
		return fmt.Errorf("unknown storage driver %q", driver)
	}
	return nil
}

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newGenerator builds the Claude generator on top of a cached repository
// analyzer. The cache lives in Redis when a client is given.
func newGenerator(cfg config.Config, log *slog.Logger, client *redis.Client) *generator.Claude {
	repoPath := cfg.Generator.RepoPath
	if abs, err := filepath.Abs(repoPath); err == nil {
		repoPath = abs
	}
	runner := generator.ExecRunner{}
	analyzer := generator.NewRepoAnalyzer(repoPath, cfg.Generator.RepoName, cfg.Generator.GitPull, runner, log)

	ttl := config.Duration(cfg.Generator.ContextTTL, 10*time.Minute)
	var contexts generator.ContextLoader
	if client != nil {
		contexts = redisinfra.NewContextCache(client, analyzer, ttl, cfg.Redis.Prefix)
	} else {
		contexts = memory.NewContextCache(analyzer, ttl)
	}
	return generator.NewClaude(cfg.Generator.ClaudePath, repoPath, contexts, runner, log)
}

func newGateway(cfg config.Config, log *slog.Logger, out io.Writer) (app.MessagingGateway, error) {
	if !cfg.MattermostEnabled() {
		log.Warn("mattermost not configured; printing messages to stdout")
		return console.New(out), nil
	}
	httpClient := &http.Client{Timeout: config.Duration(cfg.Timeouts.Gateway, 10*time.Second)}
	client, err := mattermost.NewClient(mattermost.Config{
		URL:       cfg.Mattermost.URL,
		Token:     cfg.Mattermost.Token,
		ChannelID: cfg.Mattermost.ChannelID,
	}, httpClient, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}
