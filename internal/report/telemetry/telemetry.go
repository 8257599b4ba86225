package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reportcraft/reportcraft/config"
)

// Telemetry tracks run, phase, LLM and source events plus token and cost
// accounting. Counters are mirrored to Prometheus for the /metrics endpoint.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu          sync.RWMutex
	totalRuns   int64
	failedRuns  int64
	totalCost   float64
	totalTokens int64
	modelCosts  map[string]float64
	phaseTimes  map[string]time.Duration

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	phaseDuration  *prometheus.HistogramVec
	llmTokensTotal *prometheus.CounterVec
	llmCostTotal   prometheus.Counter
	sourcesTotal   *prometheus.CounterVec
	sectionsTotal  *prometheus.CounterVec
}

var (
	promOnce sync.Once
	promSet  struct {
		runsTotal      *prometheus.CounterVec
		runDuration    prometheus.Histogram
		phaseDuration  *prometheus.HistogramVec
		llmTokensTotal *prometheus.CounterVec
		llmCostTotal   prometheus.Counter
		sourcesTotal   *prometheus.CounterVec
		sectionsTotal  *prometheus.CounterVec
	}
)

// NewTelemetry creates a telemetry instance. Prometheus collectors are
// registered once per process; subsequent instances share them.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	promOnce.Do(func() {
		promSet.runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reportcraft_runs_total",
			Help: "Completed report runs by status.",
		}, []string{"status"})
		promSet.runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "reportcraft_run_duration_seconds",
			Help:    "Wall-clock duration of report runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		})
		promSet.phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportcraft_phase_duration_seconds",
			Help:    "Duration of pipeline phases.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"})
		promSet.llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reportcraft_llm_tokens_total",
			Help: "LLM tokens consumed, by model and direction.",
		}, []string{"model", "direction"})
		promSet.llmCostTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "reportcraft_llm_cost_dollars_total",
			Help: "Estimated LLM spend in dollars.",
		})
		promSet.sourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reportcraft_sources_total",
			Help: "Source fetches by outcome.",
		}, []string{"status"})
		promSet.sectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reportcraft_sections_total",
			Help: "Section builds by outcome.",
		}, []string{"status"})
	})

	return &Telemetry{
		config:         cfg,
		logger:         log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		modelCosts:     make(map[string]float64),
		phaseTimes:     make(map[string]time.Duration),
		runsTotal:      promSet.runsTotal,
		runDuration:    promSet.runDuration,
		phaseDuration:  promSet.phaseDuration,
		llmTokensTotal: promSet.llmTokensTotal,
		llmCostTotal:   promSet.llmCostTotal,
		sourcesTotal:   promSet.sourcesTotal,
		sectionsTotal:  promSet.sectionsTotal,
	}
}

// RecordRun records a completed run.
func (t *Telemetry) RecordRun(runID string, success bool, duration time.Duration, cost float64, tokens int64) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.totalRuns++
	if !success {
		t.failedRuns++
	}
	t.totalCost += cost
	t.totalTokens += tokens
	t.mu.Unlock()

	status := "success"
	if !success {
		status = "failure"
	}
	t.runsTotal.WithLabelValues(status).Inc()
	t.runDuration.Observe(duration.Seconds())
	t.logger.Printf("run %s: success=%t duration=%v cost=$%.4f tokens=%d",
		runID, success, duration, cost, tokens)
}

// RecordPhase records a completed pipeline phase.
func (t *Telemetry) RecordPhase(phase string, duration time.Duration) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.phaseTimes[phase] += duration
	t.mu.Unlock()
	t.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordLLMCall accumulates token and cost accounting for one model call.
func (t *Telemetry) RecordLLMCall(model string, inputTokens, outputTokens int64, cost float64) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.totalTokens += inputTokens + outputTokens
	if t.config.CostTracking {
		t.totalCost += cost
		t.modelCosts[model] += cost
	}
	t.mu.Unlock()

	t.llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	if t.config.CostTracking {
		t.llmCostTotal.Add(cost)
	}
}

// RecordSource records the outcome of one source fetch.
func (t *Telemetry) RecordSource(success bool) {
	if !t.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	t.sourcesTotal.WithLabelValues(status).Inc()
}

// RecordSection records the outcome of one section build.
func (t *Telemetry) RecordSection(success bool) {
	if !t.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	t.sectionsTotal.WithLabelValues(status).Inc()
}

// Totals returns the accumulated spend and token counts.
func (t *Telemetry) Totals() (cost float64, tokens int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost, t.totalTokens
}

// Snapshot returns a loggable view of the aggregate metrics.
func (t *Telemetry) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	phases := make(map[string]string, len(t.phaseTimes))
	for phase, d := range t.phaseTimes {
		phases[phase] = d.String()
	}
	return map[string]interface{}{
		"total_runs":   t.totalRuns,
		"failed_runs":  t.failedRuns,
		"total_cost":   t.totalCost,
		"total_tokens": t.totalTokens,
		"phase_times":  phases,
	}
}
