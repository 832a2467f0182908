// Package schedule hosts the recurring crawl and dead-letter inspection runs on a cron timetable.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	_ "time/tzdata" // Asia/Tokyo must resolve on minimal images.

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultTimezone is where the job site publishes its listings.
	DefaultTimezone = "Asia/Tokyo"
	// DefaultCrawlSpec runs the crawl early every Monday.
	DefaultCrawlSpec = "0 3 * * MON"
	// DefaultInspectSpec inspects dead letters on weekday mornings.
	DefaultInspectSpec = "0 9 * * MON-FRI"
)

// Config is the timetable.
type Config struct {
	Timezone string `mapstructure:"timezone"`
	Crawl    string `mapstructure:"crawl"`
	Inspect  string `mapstructure:"inspect"`
}

// Validate reports whether spec is a standard five-field cron expression or descriptor.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Func is one scheduled task.
type Func func(ctx context.Context) error

// Entry describes a registered task.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// ErrStillRunning is returned by Trigger when the task's previous run has not returned yet.
var ErrStillRunning = errors.New("task still running")

// Scheduler runs registered tasks. A task whose previous run is still going is skipped, whether
// the new run comes from the timetable or from Trigger.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	ids     map[string]cron.EntryID
	specs   map[string]string
	funcs   map[string]Func
	running map[string]bool
}

// New builds a scheduler in the given timezone, DefaultTimezone when empty.
func New(timezone string, logger *zap.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("schedule")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:  logger,
		ctx:     context.Background(),
		ids:     make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		funcs:   make(map[string]Func),
		running: make(map[string]bool),
	}, nil
}

// Add registers fn under name.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.ids[name] = id
	s.specs[name] = spec
	s.funcs[name] = fn
	return nil
}

// Trigger runs the named task immediately on the caller's goroutine. It returns ErrStillRunning
// without running anything when a run of the task is in progress.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.funcs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %q is not registered", name)
	}
	return s.invoke(ctx, name, fn)
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	ctx, fn := s.ctx, s.funcs[name]
	s.mu.Unlock()
	_ = s.invoke(ctx, name, fn)
}

func (s *Scheduler) invoke(ctx context.Context, name string, fn Func) error {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Info("scheduled task skipped, previous run still going", zap.String("task", name))
		return ErrStillRunning
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	start := time.Now()
	s.logger.Info("scheduled task started", zap.String("task", name))
	err := fn(ctx)
	if err != nil {
		s.logger.Error("scheduled task failed", zap.String("task", name),
			zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled task finished", zap.String("task", name), zap.Duration("duration", time.Since(start)))
	return nil
}

// Entries lists registered tasks by name with their next activation.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.ids))
	for name, id := range s.ids {
		out = append(out, Entry{Name: name, Spec: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts the timetable and blocks until ctx ends, then waits for running tasks to return.
// Tasks receive ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if len(s.ids) == 0 {
		s.mu.Unlock()
		return errors.New("no tasks registered")
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, e := range s.Entries() {
		s.logger.Info("task scheduled", zap.String("task", e.Name), zap.String("spec", e.Spec), zap.Time("next", e.Next))
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
