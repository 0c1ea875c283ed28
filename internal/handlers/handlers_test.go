package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cian-tracker/internal/models"

	"github.com/gin-gonic/gin"
)

type memDataset struct {
	listings []models.Listing
	err      error
}

func (m *memDataset) Load() ([]models.Listing, error) {
	return m.listings, m.err
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	lastRun time.Time
	lastErr error
}

func (f *fakeRunner) Status() (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRun, false, f.lastErr
}

func (f *fakeRunner) RunNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func listing(id string, active bool, distance float64) models.Listing {
	l := models.NewListing(id)
	l.Title = "2-комн. квартира, 45 м²"
	l.PriceValue = 50000
	l.DistanceKm = distance
	if !active {
		l.Status = models.StatusNonActive
	}
	return l
}

func newRouter(dataset Dataset, runner RunStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(dataset, nil, runner).Register(r)
	return r
}

func TestGetListings(t *testing.T) {
	dataset := &memDataset{listings: []models.Listing{
		listing("111", true, 1.2),
		listing("222", false, math.NaN()),
		listing("333", true, 2.4),
	}}
	r := newRouter(dataset, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Listings []models.Listing `json:"listings"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 || len(body.Listings) != 3 {
		t.Fatalf("got %d listings, want 3", body.Count)
	}
	// NaN distance must serialize as null and come back as the sentinel.
	if !math.IsNaN(body.Listings[1].DistanceKm) {
		t.Errorf("missing distance not preserved: %v", body.Listings[1].DistanceKm)
	}
}

func TestGetListingsActiveFilterAndLimit(t *testing.T) {
	dataset := &memDataset{listings: []models.Listing{
		listing("111", true, 1.2),
		listing("222", false, 3.0),
		listing("333", true, 2.4),
	}}
	r := newRouter(dataset, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings?active=true&limit=1", nil))

	var body struct {
		Listings []models.Listing `json:"listings"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if body.Listings[0].OfferID != "111" {
		t.Errorf("offer = %s, want 111", body.Listings[0].OfferID)
	}
}

func TestGetListingsLoadError(t *testing.T) {
	r := newRouter(&memDataset{err: errors.New("disk gone")}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestGetStatsCountsListings(t *testing.T) {
	dataset := &memDataset{listings: []models.Listing{
		listing("111", true, 1.2),
		listing("222", false, math.NaN()),
	}}
	r := newRouter(dataset, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Listings struct {
			Total        int `json:"total"`
			Active       int `json:"active"`
			Unpublished  int `json:"unpublished"`
			WithDistance int `json:"with_distance"`
		} `json:"listings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Listings.Total != 2 || body.Listings.Active != 1 ||
		body.Listings.Unpublished != 1 || body.Listings.WithDistance != 1 {
		t.Errorf("unexpected counts: %+v", body.Listings)
	}
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{}
	r := newRouter(&memDataset{}, runner)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	// The run happens in the background.
	deadline := time.Now().Add(time.Second)
	for runner.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run never triggered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTriggerRunWithoutScheduler(t *testing.T) {
	r := newRouter(&memDataset{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
