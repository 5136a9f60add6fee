// Package metrics exports allocation outcomes to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"seating/solver"
)

// Collector implements solver.Metrics on top of Prometheus collectors.
type Collector struct {
	runs       prometheus.Counter
	duration   prometheus.Histogram
	students   prometheus.Counter
	seated     prometheus.Counter
	unassigned prometheus.Gauge
	moves      prometheus.Counter
	duplicates prometheus.Counter
}

var _ solver.Metrics = (*Collector)(nil)

// New registers the allocation metrics on reg under namespace. A nil reg
// means prometheus.DefaultRegisterer; an empty namespace means "seating".
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "seating"
	}

	c := &Collector{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "runs_total",
			Help:      "Allocation runs completed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "duration_seconds",
			Help:      "Wall time of one allocation run.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		students: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "students_total",
			Help:      "Students submitted for seating.",
		}),
		seated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "seated_total",
			Help:      "Seats filled.",
		}),
		unassigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "last_unassigned",
			Help:      "Students left without a seat by the most recent run.",
		}),
		moves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "moves_total",
			Help:      "Students seated by the optimizer after the greedy pass.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "duplicate_seats_total",
			Help:      "Students found seated more than once.",
		}),
	}

	for _, col := range []prometheus.Collector{c.runs, c.duration, c.students, c.seated, c.unassigned, c.moves, c.duplicates} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveAllocation(elapsed time.Duration, students, seated, unassigned int) {
	c.runs.Inc()
	c.duration.Observe(elapsed.Seconds())
	c.students.Add(float64(students))
	c.seated.Add(float64(seated))
	c.unassigned.Set(float64(unassigned))
}

func (c *Collector) AddOptimizerMoves(n int) { c.moves.Add(float64(n)) }

func (c *Collector) AddDuplicates(n int) { c.duplicates.Add(float64(n)) }
