package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"daily-quiz-bot/internal/app"
	"daily-quiz-bot/internal/config"
	"daily-quiz-bot/internal/scheduler"
	transport "daily-quiz-bot/internal/transport/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the publish and grade triggers and the operator event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, cmd *cobra.Command) error {
	rt, err := newRuntime(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.manager.Recover(ctx); err != nil {
		return err
	}

	sched, err := newScheduler(rt)
	if err != nil {
		return err
	}
	for name, next := range sched.Next() {
		rt.log.Info("next fire", "job", name, "at", next)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     transport.NewMux(transport.NewWSHandler(rt.events, rt.store, rt.log.With("component", "ws"))),
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		rt.log.Info("starting quiz bot", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newScheduler(rt *runtime) (*scheduler.Scheduler, error) {
	cfg := rt.cfg
	publishAt, err := scheduler.ParseSchedule(cfg.Schedule.Publish, cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.publish: %w", err)
	}
	gradeAt, err := scheduler.ParseSchedule(cfg.Schedule.Grade, cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.grade: %w", err)
	}

	return scheduler.New(rt.ledger, scheduler.Options{
		MisfireGrace: config.Duration(cfg.Schedule.MisfireGrace, 15*time.Minute),
		Satisfied:    app.Satisfied,
		Logger:       rt.log.With("component", "scheduler"),
	},
		scheduler.Job{Name: "publish", Schedule: publishAt, Run: func(ctx context.Context) error {
			_, err := rt.manager.Publish(ctx, app.PublishOptions{})
			return err
		}},
		scheduler.Job{Name: "grade", Schedule: gradeAt, Run: func(ctx context.Context) error {
			_, err := rt.manager.Grade(ctx, "")
			return err
		}},
	), nil
}
