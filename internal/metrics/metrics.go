package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.
const (
	OutcomeFound  = "found"
	OutcomeAbsent = "absent"
	OutcomeFailed = "failed"
)

// Collector holds the tracker's Prometheus collectors. A nil *Collector is
// valid and records nothing.
type Collector struct {
	events      *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	fetchTime   prometheus.Histogram
	stale       *prometheus.CounterVec
	cacheHits   prometheus.Counter
	machines    prometheus.Gauge
	notified    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machined",
			Name:      "events_total",
			Help:      "Lifecycle events handled, by kind and phase.",
		}, []string{"kind", "phase"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machined",
			Name:      "resolutions_total",
			Help:      "Machine identity resolutions, by outcome.",
		}, []string{"outcome"}),
		fetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "machined",
			Name:      "workspace_fetch_seconds",
			Help:      "Latency of workspace snapshot fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machined",
			Name:      "stale_completions_total",
			Help:      "Asynchronous completions dropped because a later operation superseded them.",
		}, []string{"op"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machined",
			Name:      "selection_cache_hits_total",
			Help:      "Selections served from the machine cache.",
		}),
		machines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "machined",
			Name:      "registry_machines",
			Help:      "Machines currently known to the registry.",
		}),
		notified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machined",
			Name:      "notifications_total",
			Help:      "Notifications emitted, by severity.",
		}, []string{"severity"}),
	}
	if reg != nil {
		reg.MustRegister(c.events, c.resolutions, c.fetchTime, c.stale, c.cacheHits, c.machines, c.notified)
	}
	return c
}

func (c *Collector) Event(kind, phase string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind, phase).Inc()
}

func (c *Collector) Resolution(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(outcome).Inc()
	c.fetchTime.Observe(took.Seconds())
}

func (c *Collector) Stale(op string) {
	if c == nil {
		return
	}
	c.stale.WithLabelValues(op).Inc()
}

func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

func (c *Collector) Machines(n int) {
	if c == nil {
		return
	}
	c.machines.Set(float64(n))
}

func (c *Collector) Notified(severity string) {
	if c == nil {
		return
	}
	c.notified.WithLabelValues(severity).Inc()
}

// StaleCount is the dropped completion count for op. Used by tests.
func (c *Collector) StaleCount(op string) prometheus.Counter {
	return c.stale.WithLabelValues(op)
}

// CacheHits exposes the cache hit counter. Used by tests.
func (c *Collector) CacheHits() prometheus.Counter {
	return c.cacheHits
}

// ResolutionsVec exposes the resolution counter. Used by tests.
func (c *Collector) ResolutionsVec() *prometheus.CounterVec {
	return c.resolutions
}
