// Package metrics holds the Prometheus instruments for one pipeline run.
// Collectors live on a private registry, so a run can push its own numbers
// to a pushgateway without touching the global default registry.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bundles every instrument the pipeline updates.
type Metrics struct {
	Registry *prometheus.Registry

	Rounds          prometheus.Counter
	ItemsSeen       prometheus.Counter
	ItemsRejected   prometheus.Counter
	SessionDupes    prometheus.Counter
	PinsCollected   prometheus.Counter
	CleanDuplicates prometheus.Counter
	CleanDropped    prometheus.Counter
	UpsertResults   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	StoredRows      prometheus.Gauge
}

// New creates and registers a fresh set of instruments.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_collect_rounds_total",
			Help: "Scroll rounds executed by the collector.",
		}),
		ItemsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_collect_items_seen_total",
			Help: "Feed items handed to the field extractor.",
		}),
		ItemsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_collect_items_rejected_total",
			Help: "Feed items that carried neither a title nor an image.",
		}),
		SessionDupes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_collect_duplicates_total",
			Help: "Extracted pins already seen in this session.",
		}),
		PinsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_collect_pins_total",
			Help: "Distinct pins accepted by the collector.",
		}),
		CleanDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_clean_duplicates_total",
			Help: "Raw records removed as duplicates during cleaning.",
		}),
		CleanDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinharvest_clean_dropped_total",
			Help: "Records dropped for having neither title nor image.",
		}),
		UpsertResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinharvest_load_records_total",
			Help: "Records processed by the loader, by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pinharvest_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinharvest_stage_failures_total",
			Help: "Failed stage attempts.",
		}, []string{"stage"}),
		StoredRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinharvest_store_rows",
			Help: "Rows in the store after the last load.",
		}),
	}

	m.Registry.MustRegister(
		m.Rounds,
		m.ItemsSeen,
		m.ItemsRejected,
		m.SessionDupes,
		m.PinsCollected,
		m.CleanDuplicates,
		m.CleanDropped,
		m.UpsertResults,
		m.StageDuration,
		m.StageFailures,
		m.StoredRows,
	)
	return m
}

// Push sends the registry to a Prometheus pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(m.Registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
