package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pinharvest/internal/cleaner"
	"pinharvest/internal/metrics"
	"pinharvest/internal/notify"
	"pinharvest/internal/scraper"
	"pinharvest/internal/storage"
)

var (
	// ErrRunInProgress is returned while another run holds the ledger marker.
	ErrRunInProgress = errors.New("another pipeline run is in progress")
	// ErrRecentlyCompleted is returned when a run already succeeded within
	// the run period.
	ErrRecentlyCompleted = errors.New("a pipeline run completed within the run period")
)

// Stages is the sequence a Runner drives. *Pipeline implements it.
type Stages interface {
	Collect(ctx context.Context, q scraper.Query) (int, error)
	Clean(ctx context.Context) (cleaner.Report, error)
	Load(ctx context.Context) (LoadResult, error)
}

// RunnerOptions sets the retry and scheduling policy.
type RunnerOptions struct {
	// Retries is the number of extra attempts per stage.
	Retries    int
	RetryDelay time.Duration
	// Period is the minimum time between successful runs.
	Period  time.Duration
	LockTTL time.Duration
	// PushgatewayURL enables pushing metrics after each run.
	PushgatewayURL string
}

// Runner executes full runs: collect, clean and load in order, each stage
// retried on failure, with the outcome recorded and announced.
type Runner struct {
	stages   Stages
	runs     storage.RunLog
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     RunnerOptions
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewRunner creates a runner. A nil notifier disables notifications.
func NewRunner(stages Stages, runs storage.RunLog, notifier notify.Notifier, m *metrics.Metrics, opts RunnerOptions, logger logrus.FieldLogger) *Runner {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Runner{
		stages:   stages,
		runs:     runs,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		log:      logger.WithField("component", "runner"),
	}
}

// Run performs one full pipeline run for q. Unless force is set, it refuses
// to start when a run succeeded within the run period. It never starts while
// another run is in progress.
func (r *Runner) Run(ctx context.Context, q scraper.Query, force bool) (storage.Run, error) {
	run := storage.Run{
		ID:        uuid.NewString(),
		Query:     q.Text,
		StartedAt: r.now().UTC(),
	}
	log := r.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"query":  q.Text,
	})

	if err := r.guard(ctx, force); err != nil {
		log.WithError(err).Warn("Run not started")
		return run, err
	}

	if err := r.runs.BeginRun(ctx, run.ID, r.opts.LockTTL); err != nil {
		if errors.Is(err, storage.ErrLocked) {
			log.Warn("Run not started, another run is in progress")
			return run, ErrRunInProgress
		}
		return run, fmt.Errorf("failed to begin run: %w", err)
	}
	log.Info("Run started")

	runErr := r.execute(ctx, q, &run)

	run.FinishedAt = r.now().UTC()
	run.Status = storage.RunSucceeded
	if runErr != nil {
		run.Status = storage.RunFailed
		run.Error = runErr.Error()
	}

	// Recording uses a fresh context so a cancelled run still releases the marker.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := r.runs.FinishRun(recordCtx, run); err != nil {
		log.WithError(err).Error("Failed to record run")
		if runErr == nil {
			runErr = err
		}
	}
	r.announce(recordCtx, run)
	r.pushMetrics(recordCtx)

	if runErr != nil {
		log.WithError(runErr).WithField("stage", run.Stage).Error("Run failed")
		return run, runErr
	}
	log.WithFields(logrus.Fields{
		"collected": run.Collected,
		"cleaned":   run.Cleaned,
		"inserted":  run.Load.Inserted,
		"updated":   run.Load.Updated,
		"errors":    run.Load.Errors,
	}).Info("Run completed")
	return run, nil
}

// guard enforces the at-most-once-per-period policy.
func (r *Runner) guard(ctx context.Context, force bool) error {
	if force || r.opts.Period <= 0 {
		return nil
	}
	last, err := r.runs.LastCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to read run ledger: %w", err)
	}
	if last != nil && r.now().Sub(last.FinishedAt) < r.opts.Period {
		return ErrRecentlyCompleted
	}
	return nil
}

// execute runs the stages strictly in order and stops at the first stage
// that exhausts its retries. run.Stage names the stage being attempted.
func (r *Runner) execute(ctx context.Context, q scraper.Query, run *storage.Run) error {
	run.Stage = StageCollect
	if err := r.retry(ctx, StageCollect, func() (err error) {
		run.Collected, err = r.stages.Collect(ctx, q)
		return err
	}); err != nil {
		return err
	}

	run.Stage = StageClean
	if err := r.retry(ctx, StageClean, func() error {
		report, err := r.stages.Clean(ctx)
		run.Cleaned = report.Output
		return err
	}); err != nil {
		return err
	}

	run.Stage = StageLoad
	if err := r.retry(ctx, StageLoad, func() error {
		result, err := r.stages.Load(ctx)
		run.Load, run.Stats = result.Upsert, result.Stats
		return err
	}); err != nil {
		return err
	}

	run.Stage = ""
	return nil
}

// retry calls fn until it succeeds or the retry budget is spent, waiting
// RetryDelay between attempts.
func (r *Runner) retry(ctx context.Context, stage string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.RetryDelay), uint64(r.opts.Retries)),
		ctx,
	)

	attempt := 1
	return backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"stage":   stage,
			"attempt": attempt,
			"retry":   wait.String(),
		}).Warn("Stage attempt failed, retrying")
		attempt++
	})
}

func (r *Runner) announce(ctx context.Context, run storage.Run) {
	text := FormatRun(run)
	if err := r.notifier.Notify(ctx, text); err != nil {
		r.log.WithError(err).Warn("Failed to send run notification")
	}
}

func (r *Runner) pushMetrics(ctx context.Context) {
	if r.opts.PushgatewayURL == "" {
		return
	}
	if err := r.metrics.Push(ctx, r.opts.PushgatewayURL, "pinharvest"); err != nil {
		r.log.WithError(err).Warn("Failed to push metrics")
	}
}

// FormatRun renders run as a success summary or a failure report.
func FormatRun(run storage.Run) string {
	if run.Status == storage.RunSucceeded {
		return notify.FormatSummary(run)
	}
	return notify.FormatFailure(run)
}
