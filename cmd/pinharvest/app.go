package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"pinharvest/internal/cleaner"
	"pinharvest/internal/config"
	"pinharvest/internal/logging"
	"pinharvest/internal/metrics"
	"pinharvest/internal/notify"
	"pinharvest/internal/pipeline"
	"pinharvest/internal/scraper"
	"pinharvest/internal/storage"
)

// app holds what every command needs: the loaded config, the logger and a
// metrics registry for this process.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func newApp(c *cli) (*app, error) {
	cfg, err := config.LoadConfig(c.opts.Config)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Output: c.stderr,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"db_path":     cfg.DBPath,
		"raw_file":    cfg.RawFile,
		"cleaned":     cfg.CleanedFile,
		"runlog_path": cfg.RunLogPath,
	}).Debug("Configuration loaded successfully")

	return &app{cfg: cfg, log: log, metrics: metrics.New()}, nil
}

// query applies command-line overrides on top of the configured query.
func (a *app) query(q QueryFlags) scraper.Query {
	out := scraper.Query{
		Text:      a.cfg.SearchQuery,
		Target:    a.cfg.TargetCount,
		MaxRounds: a.cfg.MaxRounds,
	}
	if q.Query != "" {
		out.Text = q.Query
	}
	if q.Target > 0 {
		out.Target = q.Target
	}
	if q.MaxRounds > 0 {
		out.MaxRounds = q.MaxRounds
	}
	return out
}

// collector builds the collection engine. A snapshot path replays saved HTML
// instead of driving a browser.
func (a *app) collector(snapshot string) (*scraper.Collector, error) {
	extractor, err := scraper.NewExtractor(a.cfg.SiteOrigin, a.log)
	if err != nil {
		return nil, err
	}

	var driver scraper.Driver
	if snapshot != "" {
		driver = scraper.NewSnapshotDriver(snapshot, a.log)
	} else {
		driver = scraper.NewRodDriver(scraper.RodOptions{
			BrowserBin:     a.cfg.BrowserBin,
			Headless:       a.cfg.Headless,
			UserAgent:      a.cfg.UserAgent,
			ViewportWidth:  a.cfg.ViewportWidth,
			ViewportHeight: a.cfg.ViewportHeight,
			NavTimeout:     a.cfg.NavTimeout,
			InitialDelay:   a.cfg.InitialDelay,
		}, a.log)
	}

	searchURL, err := url.JoinPath(a.cfg.SiteOrigin, a.cfg.SearchPath)
	if err != nil {
		return nil, fmt.Errorf("invalid search URL: %w", err)
	}
	return scraper.NewCollector(driver, extractor, scraper.CollectorOptions{
		SearchURL:        searchURL,
		SettleDelay:      a.cfg.SettleDelay,
		StagnationLimit:  a.cfg.StagnationLimit,
		DefaultMaxRounds: a.cfg.MaxRounds,
	}, a.metrics, a.log), nil
}

// pipeline wires the stages. collector may be nil for commands that do not
// collect.
func (a *app) pipeline(collector pipeline.Collector) *pipeline.Pipeline {
	openStore := func(ctx context.Context) (storage.PinRepository, error) {
		return storage.NewSQLiteRepository(ctx, a.cfg.DBPath, a.cfg.SampleSize, a.log)
	}
	return pipeline.New(
		collector,
		cleaner.New(a.cfg.MinYield, a.metrics, a.log),
		openStore,
		pipeline.Files{Raw: a.cfg.RawFile, Cleaned: a.cfg.CleanedFile},
		a.metrics,
		a.log,
	)
}

// notifier never fails the run: a Telegram client that cannot be built is
// replaced by Nop.
func (a *app) notifier() notify.Notifier {
	if !a.cfg.NotificationsEnabled() {
		return notify.Nop{}
	}
	tg, err := notify.NewTelegram(a.cfg.TelegramBotToken, a.cfg.TelegramChatID, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Notifications disabled")
		return notify.Nop{}
	}
	return tg
}

func (a *app) runnerOptions() pipeline.RunnerOptions {
	return pipeline.RunnerOptions{
		Retries:        a.cfg.StageRetries,
		RetryDelay:     a.cfg.RetryDelay,
		Period:         a.cfg.RunPeriod,
		LockTTL:        a.cfg.RunLockTTL,
		PushgatewayURL: a.cfg.PushgatewayURL,
	}
}

// pushMetrics sends the registry after a single-stage command, when configured.
func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, "pinharvest"); err != nil {
		a.log.WithError(err).Warn("Failed to push metrics")
	}
}
