// Package metrics records stage outcomes as Prometheus metrics.
//
// The pipeline runs as short-lived batch invocations, so metrics are pushed to a
// Pushgateway at the end of a run instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"bullion-pipeline/internal/config"
)

// Stage names used as label values.
const (
	StageSnapshot  = "snapshot"
	StageNormalize = "normalize"
	StageReport    = "report"
)

// Run outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeNoData  = "no_data"
	OutcomeError   = "error"
)

// Record outcomes used as label values.
const (
	RecordProcessed = "processed"
	RecordSkipped   = "skipped"
	RecordIgnored   = "ignored"
)

// Recorder owns a private registry with the pipeline's stage metrics.
// A nil or disabled Recorder accepts every call and records nothing.
type Recorder struct {
	enabled   bool
	namespace string
	pushURL   string
	job       string
	registry  *prometheus.Registry
	logger    zerolog.Logger

	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithPushgateway enables Push towards url under job.
func WithPushgateway(url, job string) Option {
	return func(r *Recorder) {
		r.pushURL = url
		if job != "" {
			r.job = job
		}
	}
}

// WithEnabled toggles collection.
func WithEnabled(enabled bool) Option {
	return func(r *Recorder) {
		r.enabled = enabled
	}
}

// WithLogger sets the logger used for push diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger.With().Str("component", "metrics").Logger()
	}
}

// FromConfig maps the metrics section onto options.
func FromConfig(cfg config.MetricsConfig, logger zerolog.Logger) *Recorder {
	return New(
		WithEnabled(cfg.Enabled),
		WithNamespace(cfg.Namespace),
		WithPushgateway(cfg.PushgatewayURL, cfg.Job),
		WithLogger(logger),
	)
}

// New builds a Recorder on a fresh registry.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		enabled:   true,
		namespace: "bullion",
		job:       "bullionpipe",
		registry:  prometheus.NewRegistry(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	auto := promauto.With(r.registry)
	r.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Stage invocations by outcome",
	}, []string{"stage", "status"})
	r.records = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "records_total",
		Help:      "Records handled by batch stages",
	}, []string{"stage", "outcome"})
	r.duration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a stage invocation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
	r.lastSuccess = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "pipeline",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful stage invocation",
	}, []string{"stage"})

	return r
}

func (r *Recorder) active() bool {
	return r != nil && r.enabled
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRun records one stage invocation.
func (r *Recorder) ObserveRun(stage, outcome string, elapsed time.Duration) {
	if !r.active() {
		return
	}
	r.runs.WithLabelValues(stage, outcome).Inc()
	r.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if outcome != OutcomeError {
		r.lastSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
}

// AddRecords counts n records of a stage under outcome.
func (r *Recorder) AddRecords(stage, outcome string, n int) {
	if !r.active() || n <= 0 {
		return
	}
	r.records.WithLabelValues(stage, outcome).Add(float64(n))
}

// Push sends the registry to the configured Pushgateway. It is a no-op when
// metrics are disabled or no gateway is configured.
func (r *Recorder) Push(ctx context.Context) error {
	if !r.active() || r.pushURL == "" {
		return nil
	}
	if err := push.New(r.pushURL, r.job).Gatherer(r.registry).PushContext(ctx); err != nil {
		r.logger.Warn().Err(err).Str("url", r.pushURL).Msg("pushgateway 推送失败")
		return fmt.Errorf("push metrics: %w", err)
	}
	r.logger.Debug().Str("url", r.pushURL).Str("job", r.job).Msg("metrics pushed")
	return nil
}
