// Package metrics provides Prometheus counters for pipeline, ingestion and
// discovery runs. A CLI invocation is short-lived, so the registry is written
// to a node_exporter textfile when the run ends instead of being scraped.
//
// All methods are safe to call on a nil *Recorder, which records nothing.
package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"atlas/internal/services"
)

const namespace = "atlas"

// Recorder owns a private registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec
	episodesTotal *prometheus.CounterVec
	adSeconds     prometheus.Counter
	ingestTotal   *prometheus.CounterVec
	discovery     *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of audio pipeline stages in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),
		stageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_total",
				Help:      "Audio pipeline stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		episodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_episodes_total",
				Help:      "Episodes finished by the audio pipeline, by final status",
			},
			[]string{"status"},
		),
		adSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_removed_seconds_total",
			Help:      "Seconds of advertising cut from episodes",
		}),
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_items_total",
				Help:      "Items seen by ingestion adapters, by outcome",
			},
			[]string{"content_type", "outcome"},
		),
		discovery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcript_discovery_total",
				Help:      "Transcript discovery sweeps by winning method",
			},
			[]string{"method", "outcome"},
		),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the metrics file was last written",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveStage records one stage execution. The outcome label is "ok" or the
// error kind.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	r.stageTotal.WithLabelValues(stage, outcome(err)).Inc()
}

// EpisodeFinished counts an episode reaching a terminal status.
func (r *Recorder) EpisodeFinished(status string) {
	if r == nil {
		return
	}
	r.episodesTotal.WithLabelValues(status).Inc()
}

// AdsRemoved adds cut advertising time.
func (r *Recorder) AdsRemoved(seconds float64) {
	if r == nil || seconds <= 0 {
		return
	}
	r.adSeconds.Add(seconds)
}

// Ingested counts one adapter outcome (created, updated, unchanged, failed).
func (r *Recorder) Ingested(contentType, result string) {
	if r == nil {
		return
	}
	r.ingestTotal.WithLabelValues(contentType, result).Inc()
}

// Discovery counts a discovery sweep.
func (r *Recorder) Discovery(method string, success bool) {
	if r == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	result := "miss"
	if success {
		result = "hit"
	}
	r.discovery.WithLabelValues(method, result).Inc()
}

// WriteTextfile writes the registry in text exposition format to path. An
// empty path disables export.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	r.lastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, r.registry)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := services.KindOf(err); kind != "" {
		return kind
	}
	if errors.Is(err, os.ErrNotExist) {
		return "not_found"
	}
	return "error"
}
