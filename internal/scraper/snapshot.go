package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// SnapshotDriver replays a saved HTML page instead of driving a browser.
// The page never grows, so a collection over it ends through stagnation.
type SnapshotDriver struct {
	path string
	log  logrus.FieldLogger
}

// NewSnapshotDriver creates a driver serving the HTML file at path.
func NewSnapshotDriver(path string, logger logrus.FieldLogger) *SnapshotDriver {
	return &SnapshotDriver{
		path: path,
		log:  logger.WithField("component", "snapshot_driver"),
	}
}

// Open parses the snapshot. url is only logged.
func (d *SnapshotDriver) Open(ctx context.Context, url string) (Page, error) {
	log := d.log.WithFields(logrus.Fields{"url": url, "snapshot": d.path})
	log.Info("Opening page snapshot")

	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	return NewHTMLPage(f)
}

// HTMLPage is a static Page backed by a goquery document.
type HTMLPage struct {
	doc    *goquery.Document
	height int
}

// NewHTMLPage parses r into a static page.
func NewHTMLPage(r io.Reader) (*HTMLPage, error) {
	var buf bytes.Buffer
	doc, err := goquery.NewDocumentFromReader(io.TeeReader(r, &buf))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &HTMLPage{doc: doc, height: buf.Len()}, nil
}

// Items implements Page.
func (p *HTMLPage) Items(selector string) ([]Element, error) {
	var items []Element
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		items = append(items, htmlElement{s})
	})
	return items, nil
}

// ScrollToBottom implements Page. A static page has nothing more to load.
func (p *HTMLPage) ScrollToBottom() error { return nil }

// ContentHeight implements Page using the document size as the extent.
func (p *HTMLPage) ContentHeight() (int, error) { return p.height, nil }

// Close implements Page.
func (p *HTMLPage) Close() error { return nil }

// htmlElement adapts a goquery selection to Element.
type htmlElement struct {
	sel *goquery.Selection
}

func (e htmlElement) Find(selector string) (Element, bool, error) {
	found := e.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, false, nil
	}
	return htmlElement{found}, true, nil
}

func (e htmlElement) Text() (string, error) {
	return e.sel.Text(), nil
}

func (e htmlElement) Attr(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}
