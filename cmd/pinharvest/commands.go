package main

import (
	"encoding/json"
	"errors"
	"io"

	"pinharvest/internal/pipeline"
	"pinharvest/internal/storage"
)

type QueryFlags struct {
	Query     string `short:"q" long:"query" description:"Search query (default from SEARCH_QUERY)"`
	Target    int    `short:"n" long:"target" description:"Number of pins to collect (default from TARGET_COUNT)"`
	MaxRounds int    `long:"max-rounds" description:"Scroll round cap (default from MAX_ROUNDS)"`
}

type collectCommand struct {
	cli *cli
	QueryFlags
	Snapshot string `long:"snapshot" description:"Replay a saved listing page instead of launching a browser"`
}

func (c *collectCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}
	defer a.pushMetrics(ctx)

	collector, err := a.collector(c.Snapshot)
	if err != nil {
		return err
	}
	_, err = a.pipeline(collector).Collect(ctx, a.query(c.QueryFlags))
	return err
}

type cleanCommand struct {
	cli *cli
}

func (c *cleanCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}
	defer a.pushMetrics(ctx)

	_, err = a.pipeline(nil).Clean(ctx)
	return err
}

type loadCommand struct {
	cli *cli
}

func (c *loadCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}
	defer a.pushMetrics(ctx)

	result, err := a.pipeline(nil).Load(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.cli.stdout, result.Stats)
}

type verifyCommand struct {
	cli *cli
}

func (c *verifyCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}
	stats, err := a.pipeline(nil).Verify(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.cli.stdout, stats)
}

type runCommand struct {
	cli *cli
	QueryFlags
	Snapshot string `long:"snapshot" description:"Replay a saved listing page instead of launching a browser"`
	Force    bool   `long:"force" description:"Run even if a run completed within RUN_PERIOD"`
}

func (c *runCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}

	collector, err := a.collector(c.Snapshot)
	if err != nil {
		return err
	}
	runs, err := storage.NewBadgerRunLog(a.cfg.RunLogPath, a.log)
	if err != nil {
		return err
	}
	defer runs.Close()

	runner := pipeline.NewRunner(a.pipeline(collector), runs, a.notifier(), a.metrics, a.runnerOptions(), a.log)
	_, err = runner.Run(ctx, a.query(c.QueryFlags), c.Force)
	if errors.Is(err, pipeline.ErrRecentlyCompleted) || errors.Is(err, pipeline.ErrRunInProgress) {
		// Skipping is the expected outcome for an over-eager trigger.
		a.log.WithError(err).Info("Run skipped")
		return nil
	}
	return err
}

type historyCommand struct {
	cli   *cli
	Limit int `long:"limit" default:"10" description:"Number of runs to show"`
}

func (c *historyCommand) Execute([]string) error {
	ctx := c.cli.ctx
	a, err := newApp(c.cli)
	if err != nil {
		return err
	}
	runs, err := storage.NewBadgerRunLog(a.cfg.RunLogPath, a.log)
	if err != nil {
		return err
	}
	defer runs.Close()

	all, err := runs.Runs(ctx)
	if err != nil {
		return err
	}
	if c.Limit > 0 && len(all) > c.Limit {
		all = all[:c.Limit]
	}
	if all == nil {
		all = []storage.Run{}
	}
	return printJSON(c.cli.stdout, all)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
