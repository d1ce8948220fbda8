package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pinharvest/internal/domain"
	"pinharvest/internal/metrics"
)

// itemSelectors locate feed items, most specific first.
var itemSelectors = []string{
	`[data-test-id="pin"]`,
	`div[role="listitem"]`,
	`[class*="pin"]`,
}

// CollectorOptions tunes the scroll loop.
type CollectorOptions struct {
	// SearchURL is the listing endpoint; the query is added as ?q=.
	SearchURL string
	// SettleDelay is waited after every scroll command.
	SettleDelay time.Duration
	// StagnationLimit ends collection after this many stagnant signals.
	StagnationLimit int
	// DefaultMaxRounds applies when a Query carries no round cap.
	DefaultMaxRounds int
}

// Query selects what to collect.
type Query struct {
	Text      string
	Target    int
	MaxRounds int
}

// Collector drives a scrolling feed and accumulates distinct pins.
type Collector struct {
	driver    Driver
	extractor *Extractor
	opts      CollectorOptions
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// NewCollector creates a new collection engine.
func NewCollector(driver Driver, extractor *Extractor, opts CollectorOptions, m *metrics.Metrics, logger logrus.FieldLogger) *Collector {
	if opts.StagnationLimit <= 0 {
		opts.StagnationLimit = 3
	}
	if opts.DefaultMaxRounds <= 0 {
		opts.DefaultMaxRounds = 20
	}
	return &Collector{
		driver:    driver,
		extractor: extractor,
		opts:      opts,
		metrics:   m,
		log:       logger.WithField("component", "collector"),
	}
}

// SearchURL builds the listing URL for query.
func (c *Collector) SearchURL(query string) string {
	sep := "?"
	if strings.Contains(c.opts.SearchURL, "?") {
		sep = "&"
	}
	return c.opts.SearchURL + sep + url.Values{"q": {query}}.Encode()
}

// pinSet is the session accumulator, keyed by permalink and image URL.
type pinSet struct {
	pins   []domain.Pin
	links  map[string]struct{}
	images map[string]struct{}
}

func newPinSet() *pinSet {
	return &pinSet{
		links:  make(map[string]struct{}),
		images: make(map[string]struct{}),
	}
}

// add appends pin unless its permalink or image was already seen.
func (s *pinSet) add(pin domain.Pin) bool {
	if _, ok := s.links[pin.PinLink]; ok && pin.PinLink != "" {
		return false
	}
	if _, ok := s.images[pin.ImageURL]; ok && pin.ImageURL != "" {
		return false
	}
	if pin.PinLink != "" {
		s.links[pin.PinLink] = struct{}{}
	}
	if pin.ImageURL != "" {
		s.images[pin.ImageURL] = struct{}{}
	}
	s.pins = append(s.pins, pin)
	return true
}

// Collect scrolls the listing for q until the target is reached, the round
// cap is hit, or the feed stops growing. Rounds always run to completion and
// the result is truncated to the target afterwards. Any page error aborts
// the whole collection; the page is released either way.
func (c *Collector) Collect(ctx context.Context, q Query) (_ []domain.Pin, err error) {
	maxRounds := q.MaxRounds
	if maxRounds <= 0 {
		maxRounds = c.opts.DefaultMaxRounds
	}
	log := c.log.WithFields(logrus.Fields{
		"query":      q.Text,
		"target":     q.Target,
		"max_rounds": maxRounds,
	})

	target := c.SearchURL(q.Text)
	log.WithField("url", target).Info("Starting collection")

	page, err := c.driver.Open(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to release page: %w", closeErr)
		}
	}()

	set := newPinSet()
	lastHeight := 0
	stagnant := 0

	for round := 0; len(set.pins) < q.Target && round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before := len(set.pins)
		if err := c.harvest(page, set); err != nil {
			return nil, err
		}

		if len(set.pins) == before {
			stagnant++
		} else {
			stagnant = 0
		}

		if err := page.ScrollToBottom(); err != nil {
			return nil, fmt.Errorf("round %d: %w", round+1, err)
		}
		if err := c.settle(ctx); err != nil {
			return nil, err
		}

		height, err := page.ContentHeight()
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round+1, err)
		}
		c.metrics.Rounds.Inc()

		if height == lastHeight {
			stagnant++
		} else {
			stagnant = 0
		}
		lastHeight = height

		log.WithFields(logrus.Fields{
			"round":     round + 1,
			"collected": len(set.pins),
			"height":    height,
			"stagnant":  stagnant,
		}).Info("Round complete")

		if stagnant >= c.opts.StagnationLimit {
			log.Info("No more content loading, stopping scroll")
			break
		}
	}

	pins := set.pins
	if q.Target > 0 && len(pins) > q.Target {
		pins = pins[:q.Target]
	}
	log.WithField("collected", len(pins)).Info("Collection completed")
	return pins, nil
}

// harvest extracts every visible item into set.
func (c *Collector) harvest(page Page, set *pinSet) error {
	items, err := c.visibleItems(page)
	if err != nil {
		return err
	}

	for _, item := range items {
		c.metrics.ItemsSeen.Inc()

		pin, ok := c.extractor.Extract(item)
		if !ok {
			c.metrics.ItemsRejected.Inc()
			continue
		}
		if !set.add(pin) {
			c.metrics.SessionDupes.Inc()
			continue
		}
		c.metrics.PinsCollected.Inc()
		c.log.WithFields(logrus.Fields{
			"count": len(set.pins),
			"title": truncate(pin.Title, 50),
		}).Debug("Collected pin")
	}
	return nil
}

// visibleItems returns the matches of the first item selector that finds any.
func (c *Collector) visibleItems(page Page) ([]Element, error) {
	for _, selector := range itemSelectors {
		items, err := page.Items(selector)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	return nil, nil
}

func (c *Collector) settle(ctx context.Context) error {
	if c.opts.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
