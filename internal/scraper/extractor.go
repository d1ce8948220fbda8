package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pinharvest/internal/domain"
)

// authorPathMarker must appear in the href of an author link.
const authorPathMarker = "/@"

// matcher tries one strategy against an item and reports the resolved text.
type matcher func(item Element) (string, bool)

var (
	titleSelectors = []string{
		`[data-test-id="pinrep-title"]`,
		`h3`,
		`[class*="title"]`,
		`[class*="Title"]`,
	}
	descriptionSelectors = []string{
		`[data-test-id="pinrep-description"]`,
		`[class*="description"]`,
		`[class*="Description"]`,
		`p`,
	}
	boardSelectors = []string{
		`[data-test-id="board-name"]`,
		`[class*="board"]`,
		`[class*="Board"]`,
	}
	authorSelectors = []string{
		`[data-test-id="username"]`,
		`[class*="username"]`,
		`[class*="Username"]`,
		`[class*="user"]`,
		`a[href*="/"]`,
	}
	saveCountSelectors = []string{
		`[data-test-id="save-count"]`,
		`[class*="save"]`,
		`[class*="Save"]`,
	}
	permalinkSelectors = []string{
		`a[href*="/pin/"]`,
		`a`,
	}
)

// Extractor turns one feed item into a Pin using ordered selector fallbacks.
type Extractor struct {
	origin *url.URL
	now    func() time.Time
	log    logrus.FieldLogger

	title       []matcher
	description []matcher
	board       []matcher
	author      []matcher
	permalink   []matcher
}

// NewExtractor creates an extractor that resolves relative links against origin.
func NewExtractor(origin string, logger logrus.FieldLogger) (*Extractor, error) {
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid site origin %q", origin)
	}

	e := &Extractor{
		origin: base,
		now:    time.Now,
		log:    logger.WithField("component", "extractor"),
	}
	e.title = textMatchers(titleSelectors)
	e.description = textMatchers(descriptionSelectors)
	e.board = textMatchers(boardSelectors)
	e.author = authorMatchers(authorSelectors)
	e.permalink = hrefMatchers(permalinkSelectors)
	return e, nil
}

// Extract resolves every field of item. It reports false when the item has
// neither a title nor an image, which is the normal outcome for decorative
// or sponsored tiles.
func (e *Extractor) Extract(item Element) (domain.Pin, bool) {
	var pin domain.Pin
	pin.Title = firstMatch(item, e.title)
	pin.Description = firstMatch(item, withoutValue(e.description, pin.Title))
	pin.ImageURL = e.imageURL(item)
	pin.PinLink = e.resolve(firstMatch(item, e.permalink))
	pin.BoardName = firstMatch(item, e.board)
	pin.Author = firstMatch(item, e.author)
	pin.SaveCount = e.saveCount(item)

	if pin.Title == "" && pin.ImageURL == "" {
		return domain.Pin{}, false
	}
	pin.ScrapedAt = e.now().UTC().Format(time.RFC3339Nano)
	return pin, true
}

// imageURL prefers src, falls back to the lazy-load attribute and strips the
// size query string.
func (e *Extractor) imageURL(item Element) string {
	img, ok, err := item.Find("img")
	if err != nil || !ok {
		return ""
	}

	src := attr(img, "src")
	if src == "" {
		src = attr(img, "data-src")
	}
	if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}
	return src
}

// resolve turns a relative href into an absolute permalink.
func (e *Extractor) resolve(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		e.log.WithError(err).WithField("href", href).Debug("Unparseable permalink")
		return ""
	}
	return e.origin.ResolveReference(ref).String()
}

// saveCount stops at the first strategy that yields a positive count. A
// parsed zero moves on to the next selector.
func (e *Extractor) saveCount(item Element) int {
	for _, selector := range saveCountSelectors {
		el, ok, err := item.Find(selector)
		if err != nil || !ok {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		if n := ParseSaveCount(strings.TrimSpace(text)); n > 0 {
			return n
		}
	}
	return 0
}

// firstMatch runs matchers in order and returns the first non-empty result.
func firstMatch(item Element, matchers []matcher) string {
	for _, m := range matchers {
		if v, ok := m(item); ok {
			return v
		}
	}
	return ""
}

// textMatchers yields the trimmed text of the first element per selector.
func textMatchers(selectors []string) []matcher {
	matchers := make([]matcher, 0, len(selectors))
	for _, selector := range selectors {
		matchers = append(matchers, func(item Element) (string, bool) {
			el, ok, err := item.Find(selector)
			if err != nil || !ok {
				return "", false
			}
			text, err := el.Text()
			if err != nil {
				return "", false
			}
			text = strings.TrimSpace(text)
			return text, text != ""
		})
	}
	return matchers
}

// authorMatchers only accept candidates that link to a profile.
func authorMatchers(selectors []string) []matcher {
	matchers := make([]matcher, 0, len(selectors))
	for _, selector := range selectors {
		matchers = append(matchers, func(item Element) (string, bool) {
			el, ok, err := item.Find(selector)
			if err != nil || !ok {
				return "", false
			}
			text, err := el.Text()
			if err != nil {
				return "", false
			}
			text = strings.TrimSpace(text)
			if text == "" || !strings.Contains(attr(el, "href"), authorPathMarker) {
				return "", false
			}
			return text, true
		})
	}
	return matchers
}

// hrefMatchers yield the href of the first anchor per selector.
func hrefMatchers(selectors []string) []matcher {
	matchers := make([]matcher, 0, len(selectors))
	for _, selector := range selectors {
		matchers = append(matchers, func(item Element) (string, bool) {
			el, ok, err := item.Find(selector)
			if err != nil || !ok {
				return "", false
			}
			href := strings.TrimSpace(attr(el, "href"))
			return href, href != ""
		})
	}
	return matchers
}

// withoutValue wraps matchers so that a result equal to reject is skipped.
func withoutValue(matchers []matcher, reject string) []matcher {
	if reject == "" {
		return matchers
	}
	wrapped := make([]matcher, 0, len(matchers))
	for _, m := range matchers {
		wrapped = append(wrapped, func(item Element) (string, bool) {
			v, ok := m(item)
			if !ok || v == reject {
				return "", false
			}
			return v, true
		})
	}
	return wrapped
}

func attr(el Element, name string) string {
	v, ok, err := el.Attr(name)
	if err != nil || !ok {
		return ""
	}
	return v
}
