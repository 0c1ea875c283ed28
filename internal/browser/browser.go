// Package browser wraps headless-Chrome page access behind a narrow
// capability interface so pagination and retry logic can be unit-tested
// against a fake implementation without a real browser.
package browser

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/chromedp"
)

// Session is the minimal surface the collector and fetcher need from a
// browser. One session owns one page and its navigation state; sessions are
// never shared across goroutines.
type Session interface {
	// Navigate loads the URL and waits for the page body to render.
	Navigate(url string) error
	// ScrollTo scrolls to the given fraction of the page height to trigger
	// lazy-loaded content.
	ScrollTo(fraction float64) error
	// HTML returns the current rendered markup.
	HTML() (string, error)
	// Location returns the resolved URL after redirects.
	Location() (string, error)
	Close() error
}

// Factory creates an independent Session. Worker-pool consumers call it once
// per job so no browsing state is shared between workers.
type Factory func() (Session, error)

// Options configures Chrome startup.
type Options struct {
	Headless    bool
	UserAgent   string
	PageTimeout time.Duration
	ExecPath    string // optional explicit Chrome binary
}

// DefaultOptions mirrors the flags the site tolerates: plain headless Chrome
// with automation-control hints disabled.
func DefaultOptions() Options {
	return Options{
		Headless:    true,
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		PageTimeout: 30 * time.Second,
	}
}

// chromeSession is the chromedp-backed Session.
type chromeSession struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	timeout     time.Duration
}

// NewChromeFactory returns a Factory producing real Chrome sessions.
func NewChromeFactory(opts Options) Factory {
	return func() (Session, error) {
		return newChromeSession(opts)
	}
}

func newChromeSession(opts Options) (*chromeSession, error) {
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), flags...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a missing Chrome binary fails here, not on
	// the first navigation mid-run.
	if err := chromedp.Run(ctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := opts.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &chromeSession{ctx: ctx, cancelCtx: cancelCtx, cancelAlloc: cancelAlloc, timeout: timeout}, nil
}

func (s *chromeSession) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *chromeSession) Navigate(url string) error {
	err := s.run(
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) ScrollTo(fraction float64) error {
	script := fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight*%g);`, fraction)
	if err := s.run(chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (s *chromeSession) HTML() (string, error) {
	var html string
	if err := s.run(chromedp.OuterHTML(`html`, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract markup: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Location() (string, error) {
	var loc string
	if err := s.run(chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("resolve location: %w", err)
	}
	return loc, nil
}

func (s *chromeSession) Close() error {
	s.cancelCtx()
	s.cancelAlloc()
	return nil
}

// MustClose closes a session and logs instead of returning the error; used in
// defers where a close failure is not actionable.
func MustClose(s Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		log.Printf("[Browser] close error: %v", err)
	}
}
