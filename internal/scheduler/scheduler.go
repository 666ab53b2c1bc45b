// Package scheduler turns cron expressions into publish and grade triggers.
// Each fire is claimed in a durable ledger before it runs, so restarts and
// concurrent instances never run the same fire twice.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Ledger records the last consumed fire per trigger name.
type Ledger interface {
	// Claim reports true only if fireAt is newer than the stored fire.
	Claim(ctx context.Context, name string, fireAt time.Time) (bool, error)
}

// Job is one named trigger.
type Job struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
}

// Options tunes a Scheduler. Zero values fall back to defaults.
type Options struct {
	// MisfireGrace is how far back a missed fire is still run at startup.
	MisfireGrace time.Duration
	// Satisfied marks job errors that only mean there was nothing to do.
	Satisfied func(error) bool
	Logger    *slog.Logger
	Now       func() time.Time
}

type Scheduler struct {
	jobs      []Job
	ledger    Ledger
	grace     time.Duration
	satisfied func(error) bool
	log       *slog.Logger
	now       func() time.Time
}

func New(ledger Ledger, opts Options, jobs ...Job) *Scheduler {
	s := &Scheduler{
		jobs:      jobs,
		ledger:    ledger,
		grace:     opts.MisfireGrace,
		satisfied: opts.Satisfied,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.satisfied == nil {
		s.satisfied = func(error) bool { return false }
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ParseSchedule parses a standard 5-field cron expression, evaluated in the
// named IANA timezone when tz is set (local time otherwise).
func ParseSchedule(expr, tz string) (cron.Schedule, error) {
	spec := expr
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		spec = "CRON_TZ=" + tz + " " + expr
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	// robfig reports a schedule with no reachable time as the zero time.
	if schedule.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("cron expression %q never fires", expr)
	}
	return schedule, nil
}

// Run drives every job until ctx is cancelled. A job's run blocks only its
// own trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.catchUp(ctx, job)
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

// Next reports the upcoming fire time of each job.
func (s *Scheduler) Next() map[string]time.Time {
	now := s.now()
	out := make(map[string]time.Time, len(s.jobs))
	for _, job := range s.jobs {
		out[job.Name] = job.Schedule.Next(now)
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	next := job.Schedule.Next(s.now())
	s.log.Info("trigger scheduled", "job", job.Name, "next", next)
	for {
		if next.IsZero() {
			s.log.Error("trigger has no upcoming fire, stopping", "job", job.Name)
			return
		}
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, job, next)

		// A long run skips the fires it overlapped instead of replaying them.
		from := s.now()
		if next.After(from) {
			from = next
		}
		next = job.Schedule.Next(from)
	}
}

// catchUp runs the most recent fire inside the misfire grace window, if the
// ledger has not seen it yet.
func (s *Scheduler) catchUp(ctx context.Context, job Job) {
	if s.grace <= 0 {
		return
	}
	now := s.now()
	var missed time.Time
	for t := job.Schedule.Next(now.Add(-s.grace)); !t.IsZero() && !t.After(now); t = job.Schedule.Next(t) {
		missed = t
	}
	if missed.IsZero() {
		return
	}
	s.log.Info("running missed fire", "job", job.Name, "fire_at", missed)
	s.fire(ctx, job, missed)
}

func (s *Scheduler) fire(ctx context.Context, job Job, fireAt time.Time) {
	log := s.log.With("job", job.Name, "fire_at", fireAt)

	claimed, err := s.ledger.Claim(ctx, job.Name, fireAt)
	if err != nil {
		log.Error("trigger ledger unavailable, skipping fire", "error", err)
		return
	}
	if !claimed {
		log.Info("fire already handled")
		return
	}

	start := s.now()
	err = s.run(ctx, job)
	switch {
	case err == nil:
		log.Info("job finished", "duration", s.now().Sub(start))
	case s.satisfied(err):
		log.Info("job had nothing to do", "reason", err)
	default:
		log.Error("job failed", "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
