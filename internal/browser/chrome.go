package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultActionTimeout     = 10 * time.Second
	urlPollInterval          = 100 * time.Millisecond
	acceptLanguage           = "ja-JP,ja;q=0.9"
)

// ChromeConfig controls how headless Chrome is launched.
type ChromeConfig struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Chrome launches one isolated Chrome instance per session using chromedp.
type Chrome struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChrome creates a launcher. Nothing is started until Launch.
func NewChrome(cfg ChromeConfig, logger *zap.Logger) *Chrome {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chrome{cfg: cfg, logger: logger}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// Launch starts a browser, opens a fresh browsing context inside it, and opens one page in that context.
// On failure everything acquired so far is released before returning.
func (c *Chrome) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	pageCtx, pageCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	// Form labels are matched in Japanese.
	err := chromedp.Run(pageCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}),
	)
	if err != nil {
		pageCancel()
		_ = chromedp.Cancel(browserCtx)
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	c.logger.Debug("chrome session started", zap.Bool("headless", c.cfg.Headless))
	return &chromeSession{
		cfg:           c.cfg,
		logger:        c.logger,
		pageCtx:       pageCtx,
		pageCancel:    pageCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromeSession struct {
	cfg    ChromeConfig
	logger *zap.Logger

	pageCtx       context.Context
	pageCancel    context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Close releases the page (and its browsing context), then the browser process, then the allocator.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.pageCancel()
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close chrome: %w", err)
		}
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug("chrome session closed")
	})
	return s.closeErr
}

// run executes actions against the page with a bounded timeout while honoring the caller's context.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.pageCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *chromeSession) runResponse(ctx context.Context, action chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.pageCtx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	resp, err := chromedp.RunResponse(taskCtx, action)
	if err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("document responded with status %d", resp.Status)
	}
	if err := chromedp.Run(taskCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for body: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.runResponse(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) ClickNavigate(ctx context.Context, selector string) error {
	if err := s.requirePresent(ctx, selector); err != nil {
		return err
	}
	return s.runResponse(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	if err := s.requirePresent(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx, s.cfg.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (s *chromeSession) WaitURL(ctx context.Context, match func(string) bool) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()
	for {
		location, err := s.URL(waitCtx)
		if err == nil && match(location) {
			return location, nil
		}
		select {
		case <-waitCtx.Done():
			return location, fmt.Errorf("wait for url change: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

type textResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var res textResult
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el === null ? {found: false, text: ""} : {found: true, text: el.textContent};
	})()`, jsString(selector))
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return strings.TrimSpace(res.Text), nil
}

func (s *chromeSession) Texts(ctx context.Context, selector string) ([]string, error) {
	var res []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.textContent)`, jsString(selector))
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, err
	}
	for i := range res {
		res[i] = strings.TrimSpace(res[i])
	}
	return res, nil
}

func (s *chromeSession) Count(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := s.Count(ctx, selector)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *chromeSession) requirePresent(ctx context.Context, selector string) error {
	ok, err := s.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return nil
}

func (s *chromeSession) SetValue(ctx context.Context, selector, value string) error {
	if err := s.requirePresent(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx, s.cfg.ActionTimeout, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (s *chromeSession) SelectByLabel(ctx context.Context, selector, label string) error {
	var outcome string
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (el === null) return "missing";
		const opt = Array.from(el.options || []).find(o => o.textContent.trim() === %s);
		if (!opt) return "nolabel";
		el.value = opt.value;
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return "ok";
	})()`, jsString(selector), jsString(label))
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &outcome)); err != nil {
		return err
	}
	switch outcome {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	default:
		return fmt.Errorf("%w: %q in %s", ErrOptionNotFound, label, selector)
	}
}

func (s *chromeSession) Check(ctx context.Context, selector string) error {
	var found bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (el === null) return false;
		if (!el.checked) el.click();
		return true;
	})()`, jsString(selector))
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return nil
}

func (s *chromeSession) RemoveAttribute(ctx context.Context, selector, name string) error {
	if err := s.requirePresent(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx, s.cfg.ActionTimeout, chromedp.RemoveAttribute(selector, name, chromedp.ByQuery))
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}
