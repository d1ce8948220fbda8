// Package pipeline wires the collect, clean and load stages together. Each
// stage reads its input from the previous stage's staged file, so any stage
// can be rerun on its own.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pinharvest/internal/cleaner"
	"pinharvest/internal/domain"
	"pinharvest/internal/metrics"
	"pinharvest/internal/scraper"
	"pinharvest/internal/staging"
	"pinharvest/internal/storage"
)

// Stage names, used in logs, metrics and the run ledger.
const (
	StageCollect = "collect"
	StageClean   = "clean"
	StageLoad    = "load"
	StageVerify  = "verify"
)

// Collector produces raw pins for a query.
type Collector interface {
	Collect(ctx context.Context, q scraper.Query) ([]domain.Pin, error)
}

// StoreOpener opens the pin store for one stage invocation.
type StoreOpener func(ctx context.Context) (storage.PinRepository, error)

// Files locates the staged files between stages.
type Files struct {
	Raw     string
	Cleaned string
}

// LoadResult is the outcome of the load stage.
type LoadResult struct {
	Upsert storage.UpsertResult
	Stats  domain.Stats
}

// Pipeline runs individual stages.
type Pipeline struct {
	collector Collector
	cleaner   *cleaner.Cleaner
	openStore StoreOpener
	files     Files
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// New creates a pipeline. The collector may be nil for invocations that never
// run the collect stage.
func New(collector Collector, c *cleaner.Cleaner, openStore StoreOpener, files Files, m *metrics.Metrics, logger logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		collector: collector,
		cleaner:   c,
		openStore: openStore,
		files:     files,
		metrics:   m,
		log:       logger.WithField("component", "pipeline"),
	}
}

// Collect gathers pins for q and writes them to the raw staged file.
func (p *Pipeline) Collect(ctx context.Context, q scraper.Query) (int, error) {
	var collected int
	err := p.stage(StageCollect, func(log logrus.FieldLogger) error {
		if p.collector == nil {
			return fmt.Errorf("no collector configured")
		}
		pins, err := p.collector.Collect(ctx, q)
		if err != nil {
			return err
		}
		if err := staging.WritePins(p.files.Raw, pins); err != nil {
			return err
		}
		collected = len(pins)
		log.WithFields(logrus.Fields{
			"pins": collected,
			"file": p.files.Raw,
		}).Info("Raw pins staged")
		return nil
	})
	return collected, err
}

// Clean reads the raw staged file, cleans it and writes the cleaned file.
func (p *Pipeline) Clean(ctx context.Context) (cleaner.Report, error) {
	var report cleaner.Report
	err := p.stage(StageClean, func(log logrus.FieldLogger) error {
		raw, err := staging.ReadRaw(p.files.Raw)
		if err != nil {
			return err
		}
		var pins []domain.Pin
		pins, report = p.cleaner.Clean(raw)
		if err := staging.WritePins(p.files.Cleaned, pins); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"pins": report.Output,
			"file": p.files.Cleaned,
		}).Info("Cleaned pins staged")
		return nil
	})
	return report, err
}

// Load upserts the cleaned staged file into the store and verifies it.
func (p *Pipeline) Load(ctx context.Context) (LoadResult, error) {
	var result LoadResult
	err := p.stage(StageLoad, func(log logrus.FieldLogger) error {
		pins, err := staging.ReadPins(p.files.Cleaned)
		if err != nil {
			return err
		}

		return p.withStore(ctx, func(store storage.PinRepository) error {
			result.Upsert, err = store.Upsert(ctx, pins)
			if err != nil {
				return err
			}
			p.metrics.UpsertResults.WithLabelValues("inserted").Add(float64(result.Upsert.Inserted))
			p.metrics.UpsertResults.WithLabelValues("updated").Add(float64(result.Upsert.Updated))
			p.metrics.UpsertResults.WithLabelValues("error").Add(float64(result.Upsert.Errors))

			result.Stats, err = store.Verify(ctx)
			if err != nil {
				return err
			}
			p.metrics.StoredRows.Set(float64(result.Stats.TotalRecords))
			return nil
		})
	})
	return result, err
}

// Verify reports store statistics without writing anything.
func (p *Pipeline) Verify(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := p.stage(StageVerify, func(log logrus.FieldLogger) error {
		return p.withStore(ctx, func(store storage.PinRepository) (err error) {
			stats, err = store.Verify(ctx)
			return err
		})
	})
	return stats, err
}

// withStore opens the store, runs fn and closes the store again.
func (p *Pipeline) withStore(ctx context.Context, fn func(storage.PinRepository) error) (err error) {
	store, err := p.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()
	return fn(store)
}

// stage wraps fn with the start, completion and failure logging and the
// duration and failure metrics every stage shares.
func (p *Pipeline) stage(name string, fn func(log logrus.FieldLogger) error) error {
	log := p.log.WithField("stage", name)
	log.Info("Stage started")
	start := time.Now()

	err := fn(log)
	took := time.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(took.Seconds())

	if err != nil {
		p.metrics.StageFailures.WithLabelValues(name).Inc()
		log.WithError(err).Error("Stage failed")
		return fmt.Errorf("%s stage: %w", name, err)
	}
	log.WithField("took", took.Round(time.Millisecond).String()).Info("Stage completed")
	return nil
}
