package cleaner

import (
	"maps"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"pinharvest/internal/domain"
	"pinharvest/internal/metrics"
	"pinharvest/internal/staging"
)

// Raw record fields.
const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldImageURL    = "image_url"
	fieldPinLink     = "pin_link"
	fieldBoardName   = "board_name"
	fieldAuthor      = "author"
	fieldSaveCount   = "save_count"
	fieldScrapedAt   = "scraped_at"
)

var textFields = []string{fieldTitle, fieldDescription, fieldBoardName, fieldAuthor}

// timestampLayouts are the ISO-8601 forms accepted for scraped_at.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Report summarises one cleaning pass.
type Report struct {
	Input      int
	Duplicates int
	Dropped    int
	Output     int
	// BelowMinimum is advisory; the pipeline continues regardless.
	BelowMinimum bool
}

// Cleaner normalises raw records into pins ready for loading.
type Cleaner struct {
	minYield int
	now      func() time.Time
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// New creates a cleaner that warns when fewer than minYield records survive.
func New(minYield int, m *metrics.Metrics, logger logrus.FieldLogger) *Cleaner {
	return &Cleaner{
		minYield: minYield,
		now:      time.Now,
		metrics:  m,
		log:      logger.WithField("component", "cleaner"),
	}
}

// Clean deduplicates, defaults, normalises, coerces and filters raw. It never
// fails; the worst outcome for a malformed record is defaulted values or
// being dropped. Order is preserved for the records that are kept.
func (c *Cleaner) Clean(raw []staging.RawPin) ([]domain.Pin, Report) {
	report := Report{Input: len(raw)}
	c.log.WithField("records", len(raw)).Info("Starting data cleaning")

	if len(raw) == 0 {
		c.log.Warn("No data to clean")
	}

	unique := Deduplicate(raw)
	report.Duplicates = len(raw) - len(unique)
	c.metrics.CleanDuplicates.Add(float64(report.Duplicates))
	c.log.WithField("duplicates", report.Duplicates).Info("Removed duplicate records")

	pins := make([]domain.Pin, 0, len(unique))
	for _, record := range unique {
		record = fillDefaults(record)
		normalize(record)
		pin := c.coerce(record)

		if !keep(pin) {
			report.Dropped++
			continue
		}
		pins = append(pins, pin)
	}
	c.metrics.CleanDropped.Add(float64(report.Dropped))

	report.Output = len(pins)
	c.log.WithFields(logrus.Fields{
		"records": report.Output,
		"dropped": report.Dropped,
	}).Info("Data cleaning completed")

	if report.Output < c.minYield {
		report.BelowMinimum = true
		c.log.WithFields(logrus.Fields{
			"records": report.Output,
			"minimum": c.minYield,
		}).Warn("Cleaned yield is below the minimum")
	}

	return pins, report
}

// Deduplicate keeps the first record per permalink and per image URL.
// Applying it twice gives the same result as applying it once.
func Deduplicate(records []staging.RawPin) []staging.RawPin {
	seenLinks := make(map[string]struct{})
	seenImages := make(map[string]struct{})
	unique := make([]staging.RawPin, 0, len(records))

	for _, r := range records {
		link := cast.ToString(r[fieldPinLink])
		image := cast.ToString(r[fieldImageURL])

		if _, ok := seenLinks[link]; ok && link != "" {
			continue
		}
		if _, ok := seenImages[image]; ok && image != "" {
			continue
		}
		if link != "" {
			seenLinks[link] = struct{}{}
		}
		if image != "" {
			seenImages[image] = struct{}{}
		}
		unique = append(unique, r)
	}
	return unique
}

// fillDefaults returns a copy of r with blank fields replaced.
func fillDefaults(r staging.RawPin) staging.RawPin {
	out := make(staging.RawPin, len(r)+8)
	maps.Copy(out, r)

	orDefault := func(field string, def any) {
		if blank(out[field]) {
			out[field] = def
		}
	}
	orDefault(fieldTitle, domain.DefaultTitle)
	orDefault(fieldDescription, "")
	orDefault(fieldImageURL, "")
	orDefault(fieldPinLink, "")
	orDefault(fieldBoardName, domain.DefaultBoard)
	orDefault(fieldAuthor, domain.DefaultAuthor)
	if _, ok := out[fieldSaveCount]; !ok {
		out[fieldSaveCount] = 0
	}
	return out
}

func normalize(r staging.RawPin) {
	for _, field := range textFields {
		r[field] = NormalizeText(cast.ToString(r[field]))
	}
}

// coerce converts a defaulted record into a typed pin.
func (c *Cleaner) coerce(r staging.RawPin) domain.Pin {
	saves, err := cast.ToIntE(r[fieldSaveCount])
	if err != nil || saves < 0 {
		saves = 0
	}

	scrapedAt := cast.ToString(r[fieldScrapedAt])
	if !validTimestamp(scrapedAt) {
		scrapedAt = c.now().UTC().Format(time.RFC3339Nano)
	}

	// Whitespace-only values pass the blank check but normalise to "".
	return domain.Pin{
		Title:       nonEmpty(cast.ToString(r[fieldTitle]), domain.DefaultTitle),
		Description: cast.ToString(r[fieldDescription]),
		ImageURL:    cast.ToString(r[fieldImageURL]),
		PinLink:     cast.ToString(r[fieldPinLink]),
		BoardName:   nonEmpty(cast.ToString(r[fieldBoardName]), domain.DefaultBoard),
		Author:      nonEmpty(cast.ToString(r[fieldAuthor]), domain.DefaultAuthor),
		SaveCount:   saves,
		ScrapedAt:   scrapedAt,
	}
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// keep reports whether pin carries a real title or an image.
func keep(pin domain.Pin) bool {
	return (pin.Title != "" && pin.Title != domain.DefaultTitle) || pin.ImageURL != ""
}

func validTimestamp(s string) bool {
	if s == "" {
		return false
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// blank mirrors JSON falsiness: null, "", 0, false and empty containers.
func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
