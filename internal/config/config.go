package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Schedule struct {
		Publish      string `yaml:"publish"`
		Grade        string `yaml:"grade"`
		Timezone     string `yaml:"timezone"`
		MisfireGrace string `yaml:"misfire_grace"`
	} `yaml:"schedule"`
	Timeouts struct {
		Generator      string `yaml:"generator"`
		Gateway        string `yaml:"gateway"`
		PostRetryDelay string `yaml:"post_retry_delay"`
	} `yaml:"timeouts"`
	Mattermost struct {
		URL       string `yaml:"url"`
		Token     string `yaml:"token"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"mattermost"`
	Generator struct {
		ClaudePath string `yaml:"claude_path"`
		RepoPath   string `yaml:"repo_path"`
		RepoName   string `yaml:"repo_name"`
		GitPull    bool   `yaml:"git_pull"`
		ContextTTL string `yaml:"context_ttl"`
	} `yaml:"generator"`
	Leaderboard struct {
		Limit int `yaml:"limit"`
	} `yaml:"leaderboard"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Storage.SQLitePath = "quizbot.db"
	cfg.Redis.Prefix = "quizbot"
	cfg.Schedule.Publish = "0 10 * * 1-5"
	cfg.Schedule.Grade = "0 16 * * 1-5"
	cfg.Schedule.MisfireGrace = "15m"
	cfg.Timeouts.Generator = "3m"
	cfg.Timeouts.Gateway = "10s"
	cfg.Timeouts.PostRetryDelay = "2s"
	cfg.Generator.ClaudePath = "claude"
	cfg.Generator.RepoPath = "."
	cfg.Generator.ContextTTL = "10m"
	cfg.Leaderboard.Limit = 5
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotenv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	setString(&cfg.Schedule.Timezone, "SCHEDULE_TIMEZONE")
	setString(&cfg.Mattermost.URL, "MATTERMOST_URL")
	setString(&cfg.Mattermost.Token, "MATTERMOST_TOKEN")
	setString(&cfg.Mattermost.ChannelID, "MATTERMOST_CHANNEL_ID")
	setString(&cfg.Generator.ClaudePath, "CLAUDE_CODE_PATH")
	setString(&cfg.Generator.RepoPath, "TARGET_REPO_PATH")
	setString(&cfg.Generator.RepoName, "TARGET_REPO_NAME")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// StorageDriver resolves the store to use: explicit driver, else postgres
// when a URL is configured, else sqlite.
func (c Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return strings.ToLower(c.Storage.Driver)
	}
	if c.Postgres.URL != "" {
		return DriverPostgres
	}
	return DriverSQLite
}

// MattermostEnabled reports whether the chat gateway is fully configured.
func (c Config) MattermostEnabled() bool {
	return c.Mattermost.URL != "" && c.Mattermost.Token != "" && c.Mattermost.ChannelID != ""
}

func (c Config) Validate() error {
	switch c.StorageDriver() {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("storage driver postgres needs postgres.url or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if strings.TrimSpace(c.Schedule.Publish) == "" || strings.TrimSpace(c.Schedule.Grade) == "" {
		return fmt.Errorf("schedule.publish and schedule.grade are required")
	}
	for name, raw := range map[string]string{
		"schedule.misfire_grace":    c.Schedule.MisfireGrace,
		"timeouts.generator":        c.Timeouts.Generator,
		"timeouts.gateway":          c.Timeouts.Gateway,
		"timeouts.post_retry_delay": c.Timeouts.PostRetryDelay,
		"generator.context_ttl":     c.Generator.ContextTTL,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
