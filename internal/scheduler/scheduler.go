// Package scheduler triggers automatic backups on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/config"
	"github.com/kebairia/portalbackup/internal/ledger"
	"github.com/kebairia/portalbackup/internal/logger"
)

// Runner performs one backup. *backup.Orchestrator implements it.
type Runner interface {
	PerformBackup(ctx context.Context, origin ledger.Origin, opts backup.Options) (*ledger.Record, error)
}

type Option func(*Scheduler)

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// WithLocation evaluates the schedule in loc instead of local time.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// Scheduler runs automatic backups until stopped. A failed or rejected run
// is logged and the next tick stays armed.
type Scheduler struct {
	runner   Runner
	opts     backup.Options
	spec     string
	log      logger.Logger
	location *time.Location
	cron     *cron.Cron
	entry    cron.EntryID

	mu  sync.Mutex
	ctx context.Context
}

// New parses schedule (hourly, daily, weekly or a cron expression) and
// returns a stopped Scheduler.
func New(runner Runner, schedule string, opts backup.Options, options ...Option) (*Scheduler, error) {
	spec, err := config.CronSpec(schedule)
	if err != nil {
		return nil, err
	}
	if spec == "" {
		return nil, errors.New("no backup schedule configured")
	}

	s := &Scheduler{
		runner:   runner,
		opts:     opts,
		spec:     spec,
		log:      logger.Nop(),
		location: time.Local,
		ctx:      context.Background(),
	}
	for _, opt := range options {
		opt(s)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.entry, err = s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("add schedule %q: %w", spec, err)
	}
	return s, nil
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Next returns the time of the next scheduled run, or the zero time when
// the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Start arms the schedule. Runs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("Scheduler started", "spec", s.spec, "next_run", s.Next())
}

// Stop disarms the schedule and returns a context that is done once the
// running backup, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("Scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_ = s.RunOnce(ctx)
}

// RunOnce performs one automatic backup and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	rec, err := s.runner.PerformBackup(ctx, ledger.OriginAutomatic, s.opts)
	switch {
	case errors.Is(err, backup.ErrInProgress):
		s.log.Warn("Scheduled backup skipped, another operation is running")
	case err != nil:
		s.log.Error("Scheduled backup failed", "error", err)
	default:
		s.log.Info("Scheduled backup completed", "backup_id", rec.ID, "size_bytes", rec.SizeBytes)
	}
	return err
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
