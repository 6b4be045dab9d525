package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects per-run benchmark metrics in its own registry and writes
// them in the node_exporter textfile format.
type Recorder struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	memory      *prometheus.CounterVec
	refreshes   prometheus.Counter
	escalations prometheus.Counter
	successRate prometheus.Gauge
}

func New(benchmark, strategy string) *Recorder {
	labels := prometheus.Labels{"benchmark": benchmark, "strategy": strategy}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "prbench_turns_total",
			Help:        "Question turns by interaction mode and answer outcome.",
			ConstLabels: labels,
		}, []string{"mode", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "prbench_turn_duration_seconds",
			Help:        "Time from sending a question to its answer.",
			ConstLabels: labels,
			Buckets:     []float64{1, 5, 10, 30, 60, 120, 180, 300},
		}, []string{"mode"}),
		memory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "prbench_memory_checks_total",
			Help:        "Session memory checks by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "prbench_context_refreshes_total",
			Help:        "Context refresh messages sent.",
			ConstLabels: labels,
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "prbench_strategy_escalations_total",
			Help:        "Switches from one-shot invocations to the interactive terminal.",
			ConstLabels: labels,
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "prbench_success_rate_percent",
			Help:        "Share of questions with a usable answer.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.turns, r.latency, r.memory, r.refreshes, r.escalations, r.successRate)
	return r
}

func (r *Recorder) ObserveTurn(mode, outcome string, elapsed time.Duration) {
	r.turns.WithLabelValues(mode, outcome).Inc()
	r.latency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (r *Recorder) MemoryCheck(passed bool) {
	r.memory.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

func (r *Recorder) ContextRefresh() {
	r.refreshes.Inc()
}

func (r *Recorder) Escalation() {
	r.escalations.Inc()
}

func (r *Recorder) SetSuccessRate(pct float64) {
	r.successRate.Set(pct)
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all metrics to path, creating its directory.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
