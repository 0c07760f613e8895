package interfaces

import "time"

// Trigger describes when a scheduled task fires: either once at an absolute
// instant, or on a recurring daily cron pattern.
type Trigger struct {
	At    time.Time
	Daily string
}

// Recurring reports whether the trigger repeats.
func (t Trigger) Recurring() bool {
	return t.Daily != ""
}

// Scheduler invokes callbacks at wall-clock times.
type Scheduler interface {
	// Schedule registers fn under taskID. Re-registering an existing id is a
	// no-op that returns false.
	Schedule(taskID string, trigger Trigger, fn func()) bool

	// Exists reports whether taskID is currently scheduled.
	Exists(taskID string) bool

	// Remove cancels taskID if scheduled.
	Remove(taskID string)
}
