// Package notify tells an operator how a pipeline run ended.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"pinharvest/internal/storage"
)

// Notifier delivers a plain-text message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// FormatSummary renders a successful run.
func FormatSummary(run storage.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pinharvest run %s succeeded\n", shortID(run.ID))
	fmt.Fprintf(&b, "Query: %q\n", run.Query)
	fmt.Fprintf(&b, "Collected: %s, cleaned: %s\n", count(run.Collected), count(run.Cleaned))
	fmt.Fprintf(&b, "Loaded: %s new, %s updated, %s errors\n",
		count(run.Load.Inserted), count(run.Load.Updated), count(run.Load.Errors))
	fmt.Fprintf(&b, "Store: %s pins, %s with images, %s saves on average\n",
		count(run.Stats.TotalRecords),
		count(run.Stats.RecordsWithImages),
		humanize.FormatFloat("#,###.##", run.Stats.AverageSaveCount))
	fmt.Fprintf(&b, "Took %s", elapsed(run))
	return b.String()
}

// FormatFailure renders a failed run with the stage that stopped it.
func FormatFailure(run storage.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pinharvest run %s failed in stage %s\n", shortID(run.ID), run.Stage)
	fmt.Fprintf(&b, "Query: %q\n", run.Query)
	fmt.Fprintf(&b, "Error: %s\n", run.Error)
	fmt.Fprintf(&b, "Took %s", elapsed(run))
	return b.String()
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func elapsed(run storage.Run) string {
	if run.StartedAt.IsZero() || run.FinishedAt.Before(run.StartedAt) {
		return "0s"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
