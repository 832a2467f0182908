// Package browser abstracts the live browser page the crawler drives.
//
// The page state machine and the extractors only speak to the Page interface; Chrome (chromedp) is the
// production implementation and browsertest provides a scripted fake for tests.
package browser

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a selector matches no element.
	ErrNotFound = errors.New("element not found")
	// ErrOptionNotFound is returned when a select element has no option with the requested label.
	ErrOptionNotFound = errors.New("option not found")
)

// Page is one live browser tab. Every method may block until the browser reports completion or the
// session's action timeout elapses.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// ClickNavigate clicks the first element matching selector and waits for the resulting document load.
	ClickNavigate(ctx context.Context, selector string) error
	// Click clicks the first element matching selector without waiting for navigation.
	Click(ctx context.Context, selector string) error
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// WaitURL polls the location until match accepts it.
	WaitURL(ctx context.Context, match func(string) bool) (string, error)
	// Text returns the trimmed text content of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// Texts returns the trimmed text content of every match, in document order.
	Texts(ctx context.Context, selector string) ([]string, error)
	// Count returns the number of matches.
	Count(ctx context.Context, selector string) (int, error)
	// Exists reports whether at least one element matches.
	Exists(ctx context.Context, selector string) (bool, error)
	// SetValue sets the value of an input element.
	SetValue(ctx context.Context, selector, value string) error
	// SelectByLabel selects the option whose visible label equals label.
	SelectByLabel(ctx context.Context, selector, label string) error
	// Check ticks a checkbox or radio button.
	Check(ctx context.Context, selector string) error
	// RemoveAttribute strips an attribute from the first match.
	RemoveAttribute(ctx context.Context, selector, name string) error
	// HTML returns the full serialized document.
	HTML(ctx context.Context) (string, error)
}

// Session is a Page that owns browser resources.
type Session interface {
	Page
	// Close releases the page, its browsing context and the browser, in that order.
	Close() error
}

// Launcher starts isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
