// Package metrics exposes the counters and gauges the coordination core reports.
package metrics

// Join outcomes reported through Collector.JoinCompleted.
const (
	JoinCreated  = "created"
	JoinJoined   = "joined"
	JoinRejoined = "rejoined"
	JoinRejected = "rejected"
)

// Lifecycle task outcomes reported through Collector.TaskRun.
const (
	TaskSucceeded = "succeeded"
	TaskRetried   = "retried"
	TaskFailed    = "failed"
)

// Collector receives instrumentation events. Implementations must be safe for
// concurrent use.
type Collector interface {
	JoinCompleted(outcome string)
	SessionCreated()
	SessionEnded()
	ConnectionOpened()
	ConnectionClosed()
	ScoreFlush(ok bool, rows int)
	TaskRun(kind, outcome string)
	BookingSlotsExhausted()
	EventRejected(reason string)
}
