package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime"

const (
	ActiveClients     = "active_clients"
	OnlineUsers       = "online_users"
	EventsDropped     = "events_dropped"
	MessagesDelivered = "messages_delivered"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

// counterMetrics only ever go up and are exported as counters, everything
// else is a gauge.
var counterMetrics = map[string]bool{
	EventsDropped:     true,
	MessagesDelivered: true,
}

type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewStatsUpdater creates a stats updater and serves its registry on
// GET /metrics of the given mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}

	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	su.initializeMetrics()

	mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	))
}

// RegisterMetric declares a gauge, or a counter for names in counterMetrics.
// Registering the same name twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}
	if _, ok := su.counters[name]; ok {
		return
	}

	if counterMetrics[name] {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name + "_total",
			Help:      "Total number of " + name + ".",
		})
		su.registry.MustRegister(c)
		su.counters[name] = c
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      "Number of " + name + ".",
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) Incr(name string) {
	if c, ok := su.counter(name); ok {
		c.Inc()
		return
	}
	su.gauge(name).Inc()
}

// Decr panics for counters, they cannot go down.
func (su *StatsUpdater) Decr(name string) {
	if _, ok := su.counter(name); ok {
		panic("cannot decrement counter: " + name)
	}
	su.gauge(name).Dec()
}

func (su *StatsUpdater) counter(name string) (prometheus.Counter, bool) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	c, ok := su.counters[name]
	return c, ok
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}
