package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"daily-quiz-bot/internal/config"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

type rootOptions struct {
	configPath string
	envFile    string
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "quizbot",
		Short:        "Daily team quiz bot generated from a code repository",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config (default "+defaultConfigPath+" if present)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading config")
	cmd.AddCommand(
		newServeCmd(opts),
		newPublishCmd(opts),
		newGradeCmd(opts),
		newLeaderboardCmd(opts),
		newGenerateCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// load reads the dotenv file and the config. Without an explicit path the
// default file is used only when it exists.
func (o *rootOptions) load() (config.Config, error) {
	if err := config.LoadDotenv(o.envFile); err != nil {
		return config.Config{}, err
	}
	path := o.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}
