package solver

import "time"

// Metrics receives the outcome of every allocation run.
type Metrics interface {
	ObserveAllocation(elapsed time.Duration, students, seated, unassigned int)
	AddOptimizerMoves(n int)
	AddDuplicates(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) ObserveAllocation(time.Duration, int, int, int) {}
func (NopMetrics) AddOptimizerMoves(int)                          {}
func (NopMetrics) AddDuplicates(int)                              {}
