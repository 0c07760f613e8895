package metrics

// NopMetrics discards every metric. Used in tests and when metrics are disabled.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) JoinCompleted(_ string)   {}
func (n *NopMetrics) SessionCreated()          {}
func (n *NopMetrics) SessionEnded()            {}
func (n *NopMetrics) ConnectionOpened()        {}
func (n *NopMetrics) ConnectionClosed()        {}
func (n *NopMetrics) ScoreFlush(_ bool, _ int) {}
func (n *NopMetrics) TaskRun(_, _ string)      {}
func (n *NopMetrics) BookingSlotsExhausted()   {}
func (n *NopMetrics) EventRejected(_ string)   {}

// OrNop returns c, or a no-op collector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NewNop()
	}
	return c
}
