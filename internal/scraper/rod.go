package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// ErrBrowserNotFound is returned when no browser executable can be located.
var ErrBrowserNotFound = errors.New("rod browser dependency not found")

// RodOptions configures the browser launched for each session.
type RodOptions struct {
	BrowserBin     string
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
	// InitialDelay lets client-side rendering finish after the load event.
	InitialDelay time.Duration
}

// RodDriver implements Driver with a fresh headless browser per session.
type RodDriver struct {
	opts RodOptions
	log  logrus.FieldLogger
}

// NewRodDriver creates a new rod-backed driver.
func NewRodDriver(opts RodOptions, logger logrus.FieldLogger) *RodDriver {
	return &RodDriver{
		opts: opts,
		log:  logger.WithField("component", "rod_driver"),
	}
}

// Open launches a browser, navigates to url and waits for the page to load.
// On any failure the browser is torn down before returning.
func (d *RodDriver) Open(ctx context.Context, url string) (_ Page, err error) {
	log := d.log.WithField("url", url)
	log.Info("Launching browser")

	path := d.opts.BrowserBin
	if path == "" {
		var exists bool
		path, exists = launcher.LookPath()
		if !exists {
			log.Error("Cannot find browser executable for rod")
			return nil, ErrBrowserNotFound
		}
	}

	l := launcher.New().Bin(path).Headless(d.opts.Headless)
	u, err := l.Launch()
	if err != nil {
		log.WithError(err).Error("Failed to launch browser")
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err = browser.Connect(); err != nil {
		l.Kill()
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		if err != nil {
			if closeErr := browser.Close(); closeErr != nil {
				log.WithError(closeErr).Error("Error closing rod browser instance")
			}
			l.Cleanup()
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		log.WithError(err).Error("Failed to create rod page")
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  d.opts.ViewportWidth,
		Height: d.opts.ViewportHeight,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	if d.opts.UserAgent != "" {
		if err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.opts.UserAgent}); err != nil {
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	nav := page.Timeout(d.opts.NavTimeout)
	defer nav.CancelTimeout()
	if err = nav.Navigate(url); err != nil {
		log.WithError(err).Error("Navigation failed")
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err = nav.WaitLoad(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.WithError(err).Warn("Navigation timed out")
			return nil, fmt.Errorf("navigation timed out for %s: %w", url, err)
		}
		log.WithError(err).Error("Failed to wait for page load")
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}

	if d.opts.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return nil, err
		case <-time.After(d.opts.InitialDelay):
		}
	}

	log.Info("Page loaded")
	return &rodPage{
		page: page,
		session: session{
			page:    page,
			browser: browser,
			cleanup: l.Cleanup,
			log:     log,
		},
	}, nil
}

// rodPage owns the page, the browser it was opened in and the launched
// browser process.
type rodPage struct {
	page *rod.Page
	session
}

func (p *rodPage) Items(selector string) ([]Element, error) {
	found, err := p.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	items := make([]Element, 0, len(found))
	for _, el := range found {
		items = append(items, rodElement{el})
	}
	return items, nil
}

func (p *rodPage) ScrollToBottom() error {
	if _, err := p.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (p *rodPage) ContentHeight() (int, error) {
	res, err := p.page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("failed to read scroll height: %w", err)
	}
	return res.Value.Int(), nil
}

// session tears down a browser session in order: page, browser, then the
// launcher's process and user data dir. Cleanup runs even when a close fails.
type session struct {
	page    io.Closer
	browser io.Closer
	cleanup func()
	log     logrus.FieldLogger
}

// Close returns the first error encountered.
func (s session) Close() error {
	var firstErr error
	if err := s.page.Close(); err != nil {
		s.log.WithError(err).Error("Error closing rod page")
		firstErr = fmt.Errorf("error closing page: %w", err)
	} else {
		s.log.Debug("Rod page closed")
	}
	if err := s.browser.Close(); err != nil {
		s.log.WithError(err).Error("Error closing rod browser instance")
		if firstErr == nil {
			firstErr = fmt.Errorf("error closing browser: %w", err)
		}
	} else {
		s.log.Debug("Rod browser instance closed")
	}
	if s.cleanup != nil {
		s.cleanup()
		s.log.Debug("Browser process cleaned up")
	}
	return firstErr
}

// rodElement adapts *rod.Element. Lookups use Has so that a missing field
// resolves immediately instead of waiting for it to appear.
type rodElement struct {
	el *rod.Element
}

func (e rodElement) Find(selector string) (Element, bool, error) {
	ok, found, err := e.el.Has(selector)
	if err != nil || !ok {
		return nil, false, err
	}
	return rodElement{found}, true, nil
}

func (e rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e rodElement) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}
