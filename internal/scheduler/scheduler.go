// Package scheduler drives the Gateway's in-process periodic tasks —
// observer tick, config pull, daily battery report — with the guarantee
// that a task never overlaps itself (§4.8). The beacon has its own
// loop in gatewaylink and is not scheduled here.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Logger is the minimal logging surface Scheduler needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Scheduler wraps a gocron.Scheduler, logging and swallowing any panic
// or error from an individual task so the remaining tasks keep firing
// (§5 "Fault isolation": an unhandled exception inside a periodic task
// must not take down the process).
type Scheduler struct {
	sched gocron.Scheduler
	log   Logger
}

// New builds a Scheduler. Call Start to begin firing registered jobs.
func New(logger Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: new: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{sched: s, log: logger}, nil
}

// EveryDuration registers a task to run every d, dropping a tick if
// the previous run of the same task is still executing (singleton
// mode with LimitModeReschedule).
func (s *Scheduler) EveryDuration(name string, d time.Duration, task func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(func() { s.runGuarded(name, task) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	return nil
}

// DailyAt registers a task to run once a day at hour:minute:second.
func (s *Scheduler) DailyAt(name string, hour, minute, second int, task func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(hour), uint(minute), uint(second)))),
		gocron.NewTask(func() { s.runGuarded(name, task) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) runGuarded(name string, task func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Printf("scheduler: task %s panicked: %v", name, r)
		}
	}()
	if err := task(context.Background()); err != nil {
		s.log.Printf("scheduler: task %s: %v", name, err)
	}
}

// Start begins firing registered jobs. Non-blocking.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop blocks until all in-flight jobs finish, then shuts the
// scheduler down (§4.8 SIGTERM/SIGHUP orderly shutdown).
func (s *Scheduler) Stop() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}
