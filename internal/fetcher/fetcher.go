// Package fetcher loads individual listing pages to pull data the search
// cards do not carry: the site's own price estimation and the unpublished
// banner with its removal date. Jobs run on a bounded worker pool, one
// browser session per job.
package fetcher

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cian-tracker/internal/browser"
	"cian-tracker/internal/models"
	"cian-tracker/internal/rudate"
)

// Kind selects what a detail fetch looks for.
type Kind string

const (
	KindEstimation  Kind = "estimation"
	KindUnpublished Kind = "unpublished"
)

// Request is one detail-page job.
type Request struct {
	OfferID  string
	OfferURL string
	Kind     Kind
}

// Result carries the outcome of one job. Success means the page was read and
// answered the question, including "nothing there": a listing without an
// estimation block, or still published, is a successful fetch.
type Result struct {
	OfferID string
	Kind    Kind
	Success bool
	Err     string

	Estimation      string
	EstimationValue float64

	IsUnpublished   bool
	UnpublishedDate string
}

// Fetcher runs detail-page jobs.
type Fetcher struct {
	newSession browser.Factory
	breaker    *Breaker
	workers    int
	maxRetries int
	retryDelay time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a fetcher. workers and maxRetries fall back to 4 and 3.
func New(factory browser.Factory, workers, maxRetries int, retryDelay time.Duration) *Fetcher {
	if workers < 1 {
		workers = 4
	}
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Fetcher{
		newSession: factory,
		breaker:    NewBreaker(5, 10*time.Minute),
		workers:    workers,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// FetchAll runs the jobs on the worker pool and returns one result per
// request, in completion order. Callers re-key by OfferID.
func (f *Fetcher) FetchAll(ctx context.Context, reqs []Request) []Result {
	if len(reqs) == 0 {
		return nil
	}

	jobs := make(chan Request)
	out := make(chan Result, len(reqs))

	var wg sync.WaitGroup
	workers := f.workers
	if workers > len(reqs) {
		workers = len(reqs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				out <- f.Fetch(ctx, req)
			}
		}()
	}

	for _, req := range reqs {
		jobs <- req
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]Result, 0, len(reqs))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// Fetch runs a single job with retries.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Result {
	switch req.Kind {
	case KindEstimation:
		return f.fetchEstimation(ctx, req)
	case KindUnpublished:
		return f.checkUnpublished(ctx, req)
	default:
		return Result{OfferID: req.OfferID, Kind: req.Kind, Err: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
}

func (f *Fetcher) fetchEstimation(ctx context.Context, req Request) Result {
	res := Result{OfferID: req.OfferID, Kind: KindEstimation, EstimationValue: math.NaN()}

	var lastErr error
	pageLoaded := false
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if err := f.gate(ctx); err != nil {
			res.Err = err.Error()
			return res
		}

		// Later attempts scroll more positions: the estimation block is
		// lazy-loaded and sometimes needs the page walked top to bottom.
		fractions := []float64{0.5}
		if attempt > 1 {
			fractions = []float64{0.2, 0.5, 0.8}
		}

		doc, err := f.loadPage(req.OfferURL, fractions)
		if err != nil {
			lastErr = err
			f.breaker.RecordFailure()
			log.Printf("[Fetcher] estimation attempt %d/%d failed for %s: %v", attempt, f.maxRetries, req.OfferID, err)
			f.backoff(attempt)
			continue
		}
		pageLoaded = true
		f.breaker.RecordSuccess()

		if text := extractEstimation(doc); text != "" {
			res.Success = true
			res.Estimation = text
			res.EstimationValue = models.ParsePriceValue(text)
			return res
		}
		// Page rendered without the block: maybe lazy content, maybe the
		// listing genuinely has no estimation. Retry with deeper scrolling.
	}

	if pageLoaded {
		// All loads succeeded but no estimation block anywhere: treat as a
		// listing without one.
		res.Success = true
		return res
	}
	res.Err = fmt.Sprintf("estimation fetch failed after %d attempts: %v", f.maxRetries, lastErr)
	return res
}

func (f *Fetcher) checkUnpublished(ctx context.Context, req Request) Result {
	res := Result{OfferID: req.OfferID, Kind: KindUnpublished}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if err := f.gate(ctx); err != nil {
			res.Err = err.Error()
			return res
		}

		doc, err := f.loadPage(req.OfferURL, nil)
		if err != nil {
			lastErr = err
			f.breaker.RecordFailure()
			log.Printf("[Fetcher] unpublished check attempt %d/%d failed for %s: %v", attempt, f.maxRetries, req.OfferID, err)
			f.backoff(attempt)
			continue
		}
		f.breaker.RecordSuccess()

		unpublished, date := extractUnpublished(doc, f.now())
		res.Success = true
		res.IsUnpublished = unpublished
		if unpublished {
			res.UnpublishedDate = date
			log.Printf("[Fetcher] listing %s is unpublished, date: %s", req.OfferID, date)
		}
		return res
	}

	// The page could not be read at all. Treat the listing as gone so the
	// dataset does not keep a dead offer active forever, but tag the date so
	// the uncertainty stays visible.
	res.Err = fmt.Sprintf("unpublished check failed after %d attempts: %v", f.maxRetries, lastErr)
	res.IsUnpublished = true
	res.UnpublishedDate = fmt.Sprintf("-- (connection error on %s)", f.now().Format("2006-01-02"))
	return res
}

// gate blocks jobs while the breaker is open, bailing out on context cancel.
func (f *Fetcher) gate(ctx context.Context) error {
	for !f.breaker.CanProceed() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			f.sleep(5 * time.Second)
		}
	}
	return ctx.Err()
}

// loadPage opens a fresh session, navigates, scrolls and returns the parsed
// document. The session never outlives the call.
func (f *Fetcher) loadPage(url string, scrollFractions []float64) (*goquery.Document, error) {
	sess, err := f.newSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer browser.MustClose(sess)

	if err := sess.Navigate(url); err != nil {
		return nil, err
	}
	for _, fr := range scrollFractions {
		if err := sess.ScrollTo(fr); err != nil {
			return nil, err
		}
		f.sleep(time.Second)
	}

	html, err := sess.HTML()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *Fetcher) backoff(attempt int) {
	if attempt >= f.maxRetries {
		return
	}
	delay := f.retryDelay * time.Duration(1<<(attempt-1))
	f.sleep(delay)
}

// extractEstimation returns the first non-empty estimation price text.
func extractEstimation(doc *goquery.Document) string {
	var out string
	doc.Find(`[data-testid='valuation_estimationPrice'] .a10a3f92e9--price--w7ha0 span`).
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := strings.TrimSpace(s.Text()); t != "" {
				out = t
				return false
			}
			return true
		})
	return out
}

// extractUnpublished detects the removal banner and pulls the update date
// next to it. Date defaults to "--" when the banner has no timestamp.
func extractUnpublished(doc *goquery.Document, now time.Time) (bool, string) {
	banner := false
	doc.Find(`div[data-name='OfferUnpublished']`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Объявление снято с публикации") {
			banner = true
			return false
		}
		return true
	})
	if !banner {
		return false, ""
	}

	date := models.UnpublishedDateNone
	doc.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, "Обновлено:") {
			raw := strings.TrimSpace(strings.Replace(text, "Обновлено:", "", 1))
			if raw != "" {
				date = rudate.Parse(raw, now)
			}
			return false
		}
		return true
	})
	return true, date
}
