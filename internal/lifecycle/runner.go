package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
)

// RetryPolicy bounds how often a failing task is attempted. The delay
// doubles after every failed attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy tries three times, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Second}
}

// Failure is a task that exhausted its attempts.
type Failure struct {
	Task     Task
	Err      error
	Attempts int
	At       time.Time
}

// Runner executes tasks under a RetryPolicy.
// FUNCTIONAL DISCOVERY: Exhausted tasks are kept as failures instead of being
// dropped, so an operator or a later sweep can run them again
type Runner struct {
	policy  RetryPolicy
	logger  *slog.Logger
	metrics metrics.Collector
	now     func() time.Time

	mu     sync.Mutex
	failed []Failure
}

// NewRunner creates a runner.
func NewRunner(policy RetryPolicy, logger *slog.Logger, collector metrics.Collector) *Runner {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &Runner{
		policy:  policy,
		logger:  logging.OrDiscard(logger),
		metrics: metrics.OrNop(collector),
		now:     time.Now,
	}
}

// Run executes fn for task, retrying with backoff. The last error is
// returned when every attempt fails; ctx cancellation stops retrying.
func (r *Runner) Run(ctx context.Context, task Task, fn func(context.Context) error) error {
	kind := string(task.Kind)
	delay := r.policy.Delay

	var err error
	attempt := 0
	for attempt < r.policy.Attempts {
		attempt++
		if err = call(ctx, fn); err == nil {
			r.metrics.TaskRun(kind, metrics.TaskSucceeded)
			if attempt > 1 {
				r.logger.Info("task succeeded after retry", "task_id", task.ID, "attempt", attempt)
			}
			return nil
		}
		if attempt == r.policy.Attempts || ctx.Err() != nil {
			break
		}

		r.metrics.TaskRun(kind, metrics.TaskRetried)
		r.logger.Warn("task failed, retrying",
			"task_id", task.ID,
			"kind", kind,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if waitErr := sleep(ctx, delay); waitErr != nil {
			break
		}
		delay *= 2
	}

	r.metrics.TaskRun(kind, metrics.TaskFailed)
	r.logger.Error("task failed",
		"task_id", task.ID,
		"kind", kind,
		"classroom_id", task.ClassroomID,
		"session_id", task.SessionID,
		"section_id", task.SectionID,
		"attempts", attempt,
		"error", err)

	r.mu.Lock()
	r.failed = append(r.failed, Failure{Task: task, Err: err, Attempts: attempt, At: r.now()})
	r.mu.Unlock()
	return err
}

// Failed returns the tasks that exhausted their attempts, oldest first.
func (r *Runner) Failed() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Failure, len(r.failed))
	copy(out, r.failed)
	return out
}

// TakeFailed returns and forgets the failed tasks.
func (r *Runner) TakeFailed() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.failed
	r.failed = nil
	return out
}

// call runs fn, turning a panic into an error.
func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
