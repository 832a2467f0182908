// Package browsertest provides a scripted, in-memory browser for tests.
//
// A Site is a set of static HTML documents keyed by URL plus the click transitions between them. Pages
// are parsed with goquery, so selectors behave like they do in a real DOM, and every interaction is
// recorded for assertions. Launcher hands out sessions over a Site and counts how many were closed.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/hellowork-crawler/internal/browser"
)

// Operation names accepted by Site.Fail.
const (
	OpNavigate        = "Navigate"
	OpClickNavigate   = "ClickNavigate"
	OpClick           = "Click"
	OpURL             = "URL"
	OpText            = "Text"
	OpTexts           = "Texts"
	OpCount           = "Count"
	OpExists          = "Exists"
	OpSetValue        = "SetValue"
	OpSelectByLabel   = "SelectByLabel"
	OpCheck           = "Check"
	OpRemoveAttribute = "RemoveAttribute"
	OpHTML            = "HTML"
)

// Site is the static web the fake browser can reach. It is safe for concurrent use once built.
type Site struct {
	mu       sync.RWMutex
	pages    map[string]string
	links    map[string]Route
	failures map[string]error
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		pages:    make(map[string]string),
		links:    make(map[string]Route),
		failures: make(map[string]error),
	}
}

// Page serves html at url.
func (s *Site) Page(url, html string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = html
	return s
}

// Route computes a click's destination from the values typed into the page so far, keyed by selector.
type Route func(values map[string]string) string

// Link makes a click on selector while at from load the document at to.
func (s *Site) Link(from, selector, to string) *Site {
	return s.LinkFunc(from, selector, func(map[string]string) string { return to })
}

// LinkFunc makes a click on selector while at from load the document route picks.
func (s *Site) LinkFunc(from, selector string, route Route) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey(from, selector)] = route
	return s
}

// Fail makes op on target return err. Target is the selector, or the URL for Navigate, or "" for
// URL and HTML.
func (s *Site) Fail(op, target string, err error) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+" "+target] = err
	return s
}

func linkKey(from, selector string) string { return from + "\x00" + selector }

func (s *Site) document(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	html, ok := s.pages[url]
	return html, ok
}

func (s *Site) link(from, selector string, values map[string]string) (string, bool) {
	s.mu.RLock()
	route, ok := s.links[linkKey(from, selector)]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	return route(values), true
}

func (s *Site) failure(op, target string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures[op+" "+target]
}

// Page is one fake tab over a Site.
type Page struct {
	site *Site

	mu       sync.Mutex
	url      string
	doc      *goquery.Document
	values   map[string]string
	selected map[string]string
	checked  []string
	clicks   []string
	visited  []string
}

var _ browser.Page = (*Page)(nil)

// NewPage opens a blank tab.
func NewPage(site *Site) *Page {
	return &Page{
		site:     site,
		values:   make(map[string]string),
		selected: make(map[string]string),
	}
}

func (p *Page) load(url string) error {
	html, ok := p.site.document(url)
	if !ok {
		return fmt.Errorf("no document at %s", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse document at %s: %w", url, err)
	}
	p.url = url
	p.doc = doc
	p.visited = append(p.visited, url)
	return nil
}

func (p *Page) find(selector string) (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("%w: %s (blank page)", browser.ErrNotFound, selector)
	}
	sel := p.doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return sel, nil
}

func (p *Page) selection(selector string) *goquery.Selection {
	if p.doc == nil {
		return &goquery.Selection{}
	}
	return p.doc.Find(selector)
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.guard(ctx, OpNavigate, url); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(url)
}

// ClickNavigate implements browser.Page.
func (p *Page) ClickNavigate(ctx context.Context, selector string) error {
	if err := p.guard(ctx, OpClickNavigate, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.find(selector); err != nil {
		return err
	}
	p.clicks = append(p.clicks, selector)
	to, ok := p.site.link(p.url, selector, p.values)
	if !ok {
		return fmt.Errorf("click on %s at %s did not navigate", selector, p.url)
	}
	return p.load(to)
}

// Click implements browser.Page. A click on a linked element also navigates.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.guard(ctx, OpClick, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.find(selector); err != nil {
		return err
	}
	p.clicks = append(p.clicks, selector)
	if to, ok := p.site.link(p.url, selector, p.values); ok {
		return p.load(to)
	}
	return nil
}

// URL implements browser.Page.
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.guard(ctx, OpURL, ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// WaitURL implements browser.Page. Transitions are synchronous, so the current URL either matches
// already or never will.
func (p *Page) WaitURL(ctx context.Context, match func(string) bool) (string, error) {
	current, err := p.URL(ctx)
	if err != nil {
		return "", err
	}
	if !match(current) {
		return current, fmt.Errorf("url %s never matched: %w", current, context.DeadlineExceeded)
	}
	return current, nil
}

// Text implements browser.Page.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	if err := p.guard(ctx, OpText, selector); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.find(selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

// Texts implements browser.Page.
func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	if err := p.guard(ctx, OpTexts, selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection(selector).Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text())
	}), nil
}

// Count implements browser.Page.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := p.guard(ctx, OpCount, selector); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection(selector).Length(), nil
}

// Exists implements browser.Page.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := p.guard(ctx, OpExists, selector); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection(selector).Length() > 0, nil
}

// SetValue implements browser.Page.
func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	if err := p.guard(ctx, OpSetValue, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	sel.First().SetAttr("value", value)
	p.values[selector] = value
	return nil
}

// SelectByLabel implements browser.Page.
func (p *Page) SelectByLabel(ctx context.Context, selector, label string) error {
	if err := p.guard(ctx, OpSelectByLabel, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	found := false
	sel.First().Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		if strings.TrimSpace(opt.Text()) == label {
			found = true
			return false
		}
		return true
	})
	if !found {
		return fmt.Errorf("%w: %q in %s", browser.ErrOptionNotFound, label, selector)
	}
	p.selected[selector] = label
	return nil
}

// Check implements browser.Page.
func (p *Page) Check(ctx context.Context, selector string) error {
	if err := p.guard(ctx, OpCheck, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.find(selector); err != nil {
		return err
	}
	p.checked = append(p.checked, selector)
	return nil
}

// RemoveAttribute implements browser.Page.
func (p *Page) RemoveAttribute(ctx context.Context, selector, name string) error {
	if err := p.guard(ctx, OpRemoveAttribute, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	sel.First().RemoveAttr(name)
	return nil
}

// HTML implements browser.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.guard(ctx, OpHTML, ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	html, err := p.doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

func (p *Page) guard(ctx context.Context, op, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.site.failure(op, target)
}

// Attr returns an attribute of the first element matching selector on the current document.
func (p *Page) Attr(selector, name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection(selector).First().Attr(name)
}

// Values returns every value set through SetValue, keyed by selector.
func (p *Page) Values() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Selected returns every label chosen through SelectByLabel, keyed by selector.
func (p *Page) Selected() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.selected))
	for k, v := range p.selected {
		out[k] = v
	}
	return out
}

// Checked returns the selectors ticked through Check, in order.
func (p *Page) Checked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.checked...)
}

// Clicks returns every clicked selector, in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Visited returns every URL loaded, in order.
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// Session is a fake tab that reports its closure to the launcher.
type Session struct {
	*Page
	launcher *Launcher
	closed   atomic.Bool
}

// Close implements browser.Session.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.launcher.closes.Add(1)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Launcher implements browser.Launcher over a Site.
type Launcher struct {
	Site *Site
	// Err, when set, makes every Launch fail.
	Err error

	launches atomic.Int64
	closes   atomic.Int64

	mu       sync.Mutex
	sessions []*Session
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher over site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	l.launches.Add(1)
	s := &Session{Page: NewPage(l.Site), launcher: l}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Launches returns how many sessions were started.
func (l *Launcher) Launches() int { return int(l.launches.Load()) }

// Closes returns how many sessions were closed.
func (l *Launcher) Closes() int { return int(l.closes.Load()) }

// Sessions returns every session handed out, in order.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}
