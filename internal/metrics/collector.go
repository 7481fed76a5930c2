// Package metrics provides Prometheus metrics for go-backend-launcher.
//
// Every metric lives on the registry passed to NewCollector, so several
// collectors (one per test) can coexist in a process.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "launcher"

// Collector records backend lifecycle events.
//
// Its methods are called from supervisor callbacks and from the health
// probe (ObserveProbe implements health.Observer). All methods are safe for
// concurrent use.
type Collector struct {
	info           *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	up             prometheus.Gauge
	launches       prometheus.Counter
	startupSeconds prometheus.Histogram
	failures       *prometheus.CounterVec
	probes         *prometheus.CounterVec
	probeSeconds   prometheus.Histogram
	exits          *prometheus.CounterVec
	uptimeSeconds  prometheus.Histogram
	crashes        prometheus.Counter
	forceKills     prometheus.Counter
	pipelineLines  *prometheus.GaugeVec

	mu           sync.Mutex
	startTime    time.Time
	launchedAt   time.Time
	probeDigest  *tdigest.TDigest
	currentState string
	totals       Summary
	exitCodes    map[int]int64
}

// NewCollector creates a collector and registers its metrics with registry.
func NewCollector(version string, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Information about the launcher (value always 1)",
		}, []string{"version"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "backend_state",
			Help:      "Current supervisor state (1 for the active state)",
		}, []string{"state"}),

		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "backend_up",
			Help:      "1 while the backend is ready",
		}),

		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_launches_total",
			Help:      "Backend processes launched",
		}),

		startupSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "backend_startup_duration_seconds",
			Help:      "Time from launch to ready",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15, 20, 30, 45, 60},
		}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_startup_failures_total",
			Help:      "Startups that did not reach ready, by cause",
		}, []string{"kind"}),

		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "health_probes_total",
			Help:      "Health probe attempts by result",
		}, []string{"result"}),

		probeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "health_probe_duration_seconds",
			Help:      "Health probe latency",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 1.0, 2.5,
			},
		}),

		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_exits_total",
			Help:      "Backend exits by category (success, error, signal)",
		}, []string{"category"}),

		uptimeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "backend_uptime_seconds",
			Help:      "Backend process lifetime at exit",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),

		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_crashes_total",
			Help:      "Backend exits after it was ready",
		}),

		forceKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_force_kills_total",
			Help:      "Stops that escalated to SIGKILL",
		}),

		pipelineLines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pipeline_lines",
			Help:      "Lines read and dropped by the output pipelines of the last launch",
		}, []string{"stream", "result"}),

		startTime:   time.Now(),
		probeDigest: tdigest.NewWithCompression(100),
		exitCodes:   make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.state,
		c.up,
		c.launches,
		c.startupSeconds,
		c.failures,
		c.probes,
		c.probeSeconds,
		c.exits,
		c.uptimeSeconds,
		c.crashes,
		c.forceKills,
		c.pipelineLines,
	)

	c.info.WithLabelValues(version).Set(1)
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SetState marks state as the active supervisor state.
func (c *Collector) SetState(state string) {
	c.state.Reset()
	c.state.WithLabelValues(state).Set(1)

	c.mu.Lock()
	c.currentState = state
	c.mu.Unlock()
}

// BackendLaunching records a launch and starts the startup clock.
func (c *Collector) BackendLaunching() {
	c.launches.Inc()

	c.mu.Lock()
	c.launchedAt = time.Now()
	c.totals.Launches++
	c.mu.Unlock()
}

// BackendReady observes the startup duration of the current launch.
func (c *Collector) BackendReady() {
	c.up.Set(1)

	c.mu.Lock()
	d := time.Since(c.launchedAt)
	c.totals.Ready++
	c.totals.LastStartup = d
	c.mu.Unlock()

	c.startupSeconds.Observe(d.Seconds())
}

// StartupFailed counts a startup that settled with an error of the given kind.
func (c *Collector) StartupFailed(kind string) {
	c.failures.WithLabelValues(kind).Inc()

	c.mu.Lock()
	c.totals.Failures++
	c.mu.Unlock()
}

// ObserveProbe records one health probe attempt.
func (c *Collector) ObserveProbe(healthy bool, d time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	c.probes.WithLabelValues(result).Inc()
	c.probeSeconds.Observe(d.Seconds())

	c.mu.Lock()
	c.probeDigest.Add(d.Seconds(), 1)
	if healthy {
		c.totals.ProbesHealthy++
	} else {
		c.totals.ProbesUnhealthy++
	}
	c.mu.Unlock()
}

// RecordExit records a backend exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.up.Set(0)

	// Categorize exit code
	category := "error"
	if exitCode == 0 {
		category = "success"
	} else if exitCode > 128 {
		category = "signal"
	}
	c.exits.WithLabelValues(category).Inc()
	c.uptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.mu.Unlock()
}

// BackendCrashed counts an exit after readiness.
func (c *Collector) BackendCrashed() {
	c.crashes.Inc()

	c.mu.Lock()
	c.totals.Crashes++
	c.mu.Unlock()
}

// ForceKilled counts a stop that needed SIGKILL.
func (c *Collector) ForceKilled() {
	c.forceKills.Inc()

	c.mu.Lock()
	c.totals.ForceKills++
	c.mu.Unlock()
}

// RecordPipeline sets the line counters for one output stream.
func (c *Collector) RecordPipeline(stream string, read, dropped int64) {
	c.pipelineLines.WithLabelValues(stream, "read").Set(float64(read))
	c.pipelineLines.WithLabelValues(stream, "dropped").Set(float64(dropped))
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for the exit summary.
type Summary struct {
	Duration        time.Duration
	State           string
	Launches        int64
	Ready           int64
	Failures        int64
	Crashes         int64
	ForceKills      int64
	ProbesHealthy   int64
	ProbesUnhealthy int64
	LastStartup     time.Duration
	ExitCodes       map[int]int64
	ProbeP50        time.Duration
	ProbeP95        time.Duration
	ProbeP99        time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.totals
	s.Duration = time.Since(c.startTime)
	s.State = c.currentState
	s.ExitCodes = make(map[int]int64, len(c.exitCodes))
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if c.probeDigest.Count() > 0 {
		s.ProbeP50 = seconds(c.probeDigest.Quantile(0.50))
		s.ProbeP95 = seconds(c.probeDigest.Quantile(0.95))
		s.ProbeP99 = seconds(c.probeDigest.Quantile(0.99))
	}

	return &s
}

// ExitCodeLabel formats an exit code for display; signalled exits show the
// signal number.
func ExitCodeLabel(code int) string {
	if code > 128 {
		return strconv.Itoa(code) + " (signal " + strconv.Itoa(code-128) + ")"
	}
	return strconv.Itoa(code)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
