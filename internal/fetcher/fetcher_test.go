package fetcher

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"cian-tracker/internal/browser"
)

type fakeDetailSession struct {
	html   string
	navErr error
}

func (f *fakeDetailSession) Navigate(string) error     { return f.navErr }
func (f *fakeDetailSession) ScrollTo(float64) error    { return nil }
func (f *fakeDetailSession) HTML() (string, error)     { return f.html, nil }
func (f *fakeDetailSession) Location() (string, error) { return "", nil }
func (f *fakeDetailSession) Close() error              { return nil }

func staticPage(html string) browser.Factory {
	return func() (browser.Session, error) {
		return &fakeDetailSession{html: html}, nil
	}
}

func failingPage(err error) browser.Factory {
	return func() (browser.Session, error) {
		return &fakeDetailSession{navErr: err}, nil
	}
}

func quiet(f *Fetcher) *Fetcher {
	f.sleep = func(time.Duration) {}
	return f
}

const estimationPage = `<html><body>
	<div data-testid="valuation_estimationPrice">
		<div class="a10a3f92e9--price--w7ha0"><span>92 000 ₽/мес.</span></div>
	</div>
</body></html>`

const unpublishedPage = `<html><body>
	<div data-name="OfferUnpublished">Объявление снято с публикации</div>
	<span>Обновлено: 15.03.2026</span>
</body></html>`

func TestFetchEstimationFound(t *testing.T) {
	f := quiet(New(staticPage(estimationPage), 1, 3, 0))
	res := f.Fetch(context.Background(), Request{OfferID: "1", OfferURL: "u", Kind: KindEstimation})

	if !res.Success {
		t.Fatalf("expected success, err=%s", res.Err)
	}
	if res.Estimation != "92 000 ₽/мес." {
		t.Errorf("estimation = %q", res.Estimation)
	}
	if res.EstimationValue != 92000 {
		t.Errorf("estimation value = %v", res.EstimationValue)
	}
}

func TestFetchEstimationAbsentIsSuccess(t *testing.T) {
	f := quiet(New(staticPage(`<html><body><h1>Квартира</h1></body></html>`), 1, 3, 0))
	res := f.Fetch(context.Background(), Request{OfferID: "1", OfferURL: "u", Kind: KindEstimation})

	if !res.Success {
		t.Fatalf("absent estimation must not be a failure, err=%s", res.Err)
	}
	if res.Estimation != "" {
		t.Errorf("estimation = %q, want empty", res.Estimation)
	}
	if !math.IsNaN(res.EstimationValue) {
		t.Errorf("estimation value = %v, want NaN", res.EstimationValue)
	}
}

func TestCheckUnpublishedBannerPresent(t *testing.T) {
	f := quiet(New(staticPage(unpublishedPage), 1, 3, 0))
	res := f.Fetch(context.Background(), Request{OfferID: "1", OfferURL: "u", Kind: KindUnpublished})

	if !res.Success || !res.IsUnpublished {
		t.Fatalf("success=%v unpublished=%v, want true/true", res.Success, res.IsUnpublished)
	}
	if res.UnpublishedDate != "2026-03-15 00:00:00" {
		t.Errorf("unpublished date = %q", res.UnpublishedDate)
	}
}

func TestCheckUnpublishedStillPublished(t *testing.T) {
	f := quiet(New(staticPage(`<html><body><h1>Квартира</h1></body></html>`), 1, 3, 0))
	res := f.Fetch(context.Background(), Request{OfferID: "1", OfferURL: "u", Kind: KindUnpublished})

	if !res.Success {
		t.Fatalf("expected success, err=%s", res.Err)
	}
	if res.IsUnpublished {
		t.Error("published listing flagged as unpublished")
	}
}

func TestCheckUnpublishedConnectionFallback(t *testing.T) {
	f := quiet(New(failingPage(errors.New("net down")), 1, 3, time.Second))
	f.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	var delays []time.Duration
	f.sleep = func(d time.Duration) { delays = append(delays, d) }

	res := f.Fetch(context.Background(), Request{OfferID: "1", OfferURL: "u", Kind: KindUnpublished})

	if res.Success {
		t.Fatal("expected failure after exhausted retries")
	}
	if !res.IsUnpublished {
		t.Error("exhausted retries must flag the listing as unpublished")
	}
	if res.UnpublishedDate != "-- (connection error on 2026-03-10)" {
		t.Errorf("unpublished date = %q", res.UnpublishedDate)
	}
	// Backoff doubles: 1s after the first attempt, 2s after the second.
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v", delays)
	}
}

func TestFetchAllReturnsResultForEveryRequest(t *testing.T) {
	var sessions int64
	factory := func() (browser.Session, error) {
		atomic.AddInt64(&sessions, 1)
		return &fakeDetailSession{html: estimationPage}, nil
	}
	f := quiet(New(factory, 4, 3, 0))

	reqs := []Request{
		{OfferID: "1", OfferURL: "u1", Kind: KindEstimation},
		{OfferID: "2", OfferURL: "u2", Kind: KindEstimation},
		{OfferID: "3", OfferURL: "u3", Kind: KindEstimation},
		{OfferID: "4", OfferURL: "u4", Kind: KindEstimation},
		{OfferID: "5", OfferURL: "u5", Kind: KindEstimation},
	}
	results := f.FetchAll(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("got %d results for %d requests", len(results), len(reqs))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if !r.Success {
			t.Errorf("request %s failed: %s", r.OfferID, r.Err)
		}
		seen[r.OfferID] = true
	}
	if len(seen) != len(reqs) {
		t.Errorf("results cover %d distinct offers, want %d", len(seen), len(reqs))
	}
	if sessions != int64(len(reqs)) {
		t.Errorf("opened %d sessions, want one per request (%d)", sessions, len(reqs))
	}
}
