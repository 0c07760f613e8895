package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"

	"classroomhub/internal/logging"
	"classroomhub/pkg/interfaces"
)

var _ interfaces.Scheduler = (*Scheduler)(nil)

// onceSchedule fires a single time at at. An instant already in the past
// fires as soon as the cron loop sees it.
type onceSchedule struct {
	mu   sync.Mutex
	at   time.Time
	used bool
}

// Next is consulted once when the entry is added and once after it runs.
func (s *onceSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return time.Time{}
	}
	s.used = true
	if s.at.After(t) {
		return s.at
	}
	return t
}

type scheduled struct {
	id      cron.EntryID
	trigger interfaces.Trigger
}

// Scheduler invokes callbacks at wall-clock instants or on daily cron
// patterns. Task ids are unique: scheduling an existing id is a no-op.
// TECHNICAL DISCOVERY: xsync keeps Exists and Tasks lock-free; mu only
// orders Schedule, Remove and one-shot retirement against each other
type Scheduler struct {
	cron    *cron.Cron
	entries *xsync.Map[string, *scheduled]
	mu      sync.Mutex
	logger  *slog.Logger
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// NewScheduler creates a scheduler evaluating daily patterns in loc.
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logging.OrDiscard(logger)
	cl := slogAdapter{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		entries: xsync.NewMap[string, *scheduled](),
		logger:  logger,
	}
}

// Schedule registers fn under taskID. It returns false, logging a warning,
// when taskID is already scheduled or the trigger is invalid.
func (s *Scheduler) Schedule(taskID string, trigger interfaces.Trigger, fn func()) bool {
	var sched cron.Schedule
	if trigger.Recurring() {
		spec, err := cron.ParseStandard(trigger.Daily)
		if err != nil {
			s.logger.Error("invalid recurring trigger", "task_id", taskID, "pattern", trigger.Daily, "error", err)
			return false
		}
		sched = spec
	} else {
		sched = &onceSchedule{at: trigger.At}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries.Load(taskID); exists {
		s.logger.Warn("task already scheduled", "task_id", taskID)
		return false
	}

	e := &scheduled{trigger: trigger}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(taskID, e, fn) }))
	s.entries.Store(taskID, e)

	s.logger.Debug("task scheduled", "task_id", taskID, "at", trigger.At, "daily", trigger.Daily)
	return true
}

// fire runs fn for e. A one-shot is retired before fn runs so fn may
// schedule the same id again.
func (s *Scheduler) fire(taskID string, e *scheduled, fn func()) {
	if !e.trigger.Recurring() {
		s.mu.Lock()
		current, ok := s.entries.Load(taskID)
		if !ok || current != e {
			s.mu.Unlock()
			return
		}
		s.entries.Delete(taskID)
		s.cron.Remove(e.id)
		s.mu.Unlock()
	}
	fn()
}

// Exists reports whether taskID is scheduled.
func (s *Scheduler) Exists(taskID string) bool {
	_, ok := s.entries.Load(taskID)
	return ok
}

// Remove cancels taskID if scheduled.
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries.LoadAndDelete(taskID); ok {
		s.cron.Remove(e.id)
	}
}

// Tasks returns the scheduled task ids in sorted order.
func (s *Scheduler) Tasks() []string {
	ids := make([]string, 0, s.entries.Size())
	s.entries.Range(func(id string, _ *scheduled) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Start begins firing tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing tasks and waits for running callbacks, or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
