package cleaner

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinharvest/internal/domain"
	"pinharvest/internal/logging"
	"pinharvest/internal/metrics"
	"pinharvest/internal/staging"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestCleaner(minYield int) (*Cleaner, *metrics.Metrics) {
	m := metrics.New()
	c := New(minYield, m, logging.Discard())
	c.now = func() time.Time { return fixedNow }
	return c, m
}

func TestDeduplicate(t *testing.T) {
	records := []staging.RawPin{
		{"pin_link": "https://p/1", "image_url": "https://i/1.jpg", "save_count": 1.0},
		{"pin_link": "https://p/1", "image_url": "https://i/other.jpg", "save_count": 2.0},
		{"pin_link": "https://p/2", "image_url": "https://i/1.jpg"},
		{"pin_link": "", "image_url": "https://i/3.jpg"},
		{"pin_link": "", "image_url": "https://i/3.jpg"},
		{"title": "no keys"},
		{"title": "no keys either"},
	}

	once := Deduplicate(records)
	require.Len(t, once, 4)
	assert.Equal(t, 1.0, once[0]["save_count"], "first seen wins")
	assert.Equal(t, "https://i/3.jpg", once[1]["image_url"])
	assert.Equal(t, "no keys", once[2]["title"])
	assert.Equal(t, "no keys either", once[3]["title"], "records without any key are never duplicates")

	assert.Equal(t, once, Deduplicate(once), "deduplication is idempotent")
}

func TestClean_DefaultsAndCoercion(t *testing.T) {
	c, _ := newTestCleaner(0)
	raw := []staging.RawPin{{
		"title":       "  Deep\tlearning \n cheat\u0000sheet ",
		"description": nil,
		"image_url":   "https://i/1.jpg",
		"pin_link":    "https://p/1",
		"board_name":  "",
		"save_count":  "42",
		"scraped_at":  "2024-03-01T10:00:00Z",
	}}

	pins, report := c.Clean(raw)
	require.Len(t, pins, 1)

	pin := pins[0]
	assert.Equal(t, "Deep learning cheatsheet", pin.Title)
	assert.Equal(t, "", pin.Description)
	assert.Equal(t, domain.DefaultBoard, pin.BoardName)
	assert.Equal(t, domain.DefaultAuthor, pin.Author)
	assert.Equal(t, 42, pin.SaveCount)
	assert.Equal(t, "2024-03-01T10:00:00Z", pin.ScrapedAt, "valid timestamps are kept as is")
	assert.Equal(t, Report{Input: 1, Output: 1}, report)
}

func TestClean_MalformedRecordsNeverFail(t *testing.T) {
	c, _ := newTestCleaner(0)
	raw := []staging.RawPin{
		nil,
		{},
		{"title": 12.0, "save_count": "1.2K", "scraped_at": "yesterday"},
		{"title": true, "image_url": "https://i/2.jpg", "save_count": -4.0, "scraped_at": 17.0},
		{"title": map[string]any{"nested": 1}, "image_url": []any{"x"}, "save_count": nil},
		{"title": "Floaty", "save_count": 12.9, "scraped_at": "2024-03-01 10:00:00.123456"},
		{"title": "   ", "image_url": "https://i/3.jpg", "author": "\t"},
	}

	var pins []domain.Pin
	assert.NotPanics(t, func() { pins, _ = c.Clean(raw) })

	for _, pin := range pins {
		assert.NotEmpty(t, pin.Title)
		assert.NotEmpty(t, pin.BoardName)
		assert.NotEmpty(t, pin.Author)
		assert.NotEmpty(t, pin.ScrapedAt)
		assert.GreaterOrEqual(t, pin.SaveCount, 0)
		assert.True(t, (pin.Title != domain.DefaultTitle) || pin.ImageURL != "", "filter postcondition")
	}

	require.Len(t, pins, 4)

	assert.Equal(t, "12", pins[0].Title)
	assert.Equal(t, 0, pins[0].SaveCount)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), pins[0].ScrapedAt, "invalid timestamp is re-stamped")

	assert.Equal(t, "true", pins[1].Title)
	assert.Equal(t, 0, pins[1].SaveCount, "negative counts are clamped")

	assert.Equal(t, "Floaty", pins[2].Title)
	assert.Equal(t, 12, pins[2].SaveCount)
	assert.Equal(t, "2024-03-01 10:00:00.123456", pins[2].ScrapedAt)

	assert.Equal(t, domain.DefaultTitle, pins[3].Title)
	assert.Equal(t, domain.DefaultAuthor, pins[3].Author)
}

func TestClean_LargeSaveCountsKept(t *testing.T) {
	c, _ := newTestCleaner(0)
	raw := []staging.RawPin{
		{"title": "Viral", "image_url": "https://i/1.jpg", "save_count": 3_000_000_000.0},
		{"title": "Also viral", "image_url": "https://i/2.jpg", "save_count": "2200000000"},
	}

	pins, _ := c.Clean(raw)
	require.Len(t, pins, 2)
	assert.Equal(t, 3_000_000_000, pins[0].SaveCount)
	assert.Equal(t, 2_200_000_000, pins[1].SaveCount)
}

func TestClean_NullTitleScenarios(t *testing.T) {
	c, _ := newTestCleaner(0)
	raw := []staging.RawPin{
		{"title": nil, "image_url": ""},
		{"title": nil, "image_url": "http://x/y.jpg"},
	}

	pins, report := c.Clean(raw)
	require.Len(t, pins, 1)
	assert.Equal(t, "Untitled", pins[0].Title)
	assert.Equal(t, "http://x/y.jpg", pins[0].ImageURL)
	assert.Equal(t, 1, report.Dropped)
}

func TestClean_KeepsFirstOfDuplicateLinks(t *testing.T) {
	c, m := newTestCleaner(0)
	raw := []staging.RawPin{
		{"title": "A", "pin_link": "https://p/1", "save_count": 10.0},
		{"title": "B", "pin_link": "https://p/2"},
		{"title": "A again", "pin_link": "https://p/1", "save_count": 99.0},
	}

	pins, report := c.Clean(raw)
	require.Len(t, pins, 2)
	assert.Equal(t, "A", pins[0].Title)
	assert.Equal(t, 10, pins[0].SaveCount)
	assert.Equal(t, "B", pins[1].Title)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanDuplicates))
}

func TestClean_MinimumYieldIsAdvisory(t *testing.T) {
	c, _ := newTestCleaner(100)
	pins, report := c.Clean([]staging.RawPin{{"title": "Only one"}})

	assert.Len(t, pins, 1)
	assert.True(t, report.BelowMinimum)

	pins, report = c.Clean(nil)
	assert.Empty(t, pins)
	assert.True(t, report.BelowMinimum)
}

func TestNormalizeText(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"  a  b  ":              "a b",
		"line\nbreak\r\ntabs\t": "line break tabs",
		"bell\aand\x7fdel":      "bellanddel",
		"a \x00 b":              "a b",
		"naïve café":            "naïve café",
		"\u00a0nbsp\u00a0":      "nbsp",
	}
	for in, want := range cases {
		got := NormalizeText(in)
		assert.Equal(t, want, got, "input %q", in)
		assert.Equal(t, got, NormalizeText(got), "stable for %q", in)
	}
}

func TestValidTimestamp(t *testing.T) {
	valid := []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01T10:00:00.123456789+02:00",
		"2024-03-01T10:00:00.123456",
		"2024-03-01T10:00:00",
		"2024-03-01 10:00:00",
		"2024-03-01",
	}
	for _, s := range valid {
		assert.True(t, validTimestamp(s), s)
	}

	invalid := []string{"", "yesterday", "2024-13-01", "01/03/2024", "17"}
	for _, s := range invalid {
		assert.False(t, validTimestamp(s), s)
	}
}
