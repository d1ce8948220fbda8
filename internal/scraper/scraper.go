package scraper

import "context"

// Driver opens rendering sessions. Each Open acquires a session that the
// returned Page owns until Close.
type Driver interface {
	// Open navigates to url and returns once the page is ready for queries.
	Open(ctx context.Context, url string) (Page, error)
}

// Page is a rendered, scrollable listing.
type Page interface {
	// Items returns every element matching selector. No match is not an error.
	Items(selector string) ([]Element, error)

	// ScrollToBottom asks the page to extend its content.
	ScrollToBottom() error

	// ContentHeight reports the current scrollable extent.
	ContentHeight() (int, error)

	// Close releases the page and its underlying session.
	Close() error
}

// Element is one node of the page, opaque beyond its queryable children.
type Element interface {
	// Find returns the first descendant matching selector; ok is false
	// when nothing matches.
	Find(selector string) (el Element, ok bool, err error)

	// Text returns the rendered text of the element.
	Text() (string, error)

	// Attr returns the value of an attribute; ok is false when it is absent.
	Attr(name string) (value string, ok bool, err error)
}
