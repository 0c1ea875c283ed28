package store

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cian-tracker/internal/models"
)

func testListing(id string) models.Listing {
	l := models.NewListing(id)
	l.OfferURL = "https://www.cian.ru/rent/flat/" + id + "/"
	l.Title = "2-комн. квартира, 54 м²"
	l.Address = "улица Льва Толстого, 16"
	l.Price = "85 000 ₽/мес."
	l.PriceValue = 85000
	l.UpdatedTime = "2026-03-10 12:30:00"
	l.DistanceKm = 1.2
	l.PriceHistory = []models.PricePoint{{Date: "2026-03-01", Price: 80000}}
	return l
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apartments.csv")
	s := NewCSVStore(path, true)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC) }

	in := []models.Listing{testListing("111"), testListing("222")}
	in[1].Status = models.StatusNonActive
	in[1].UnpublishedDate = "2026-03-05 00:00:00"
	in[1].DistanceKm = math.NaN()

	if err := s.Save(in, models.Stats{New: 1, Removed: 1, PriceChanges: 0}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	first := strings.SplitN(string(raw), "\n", 2)[0]
	if first != "# last_updated=2026-03-10 13:00:00,record_count=2" {
		t.Errorf("metadata line = %q", first)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("loaded %d listings, want 2", len(out))
	}

	got := out[0]
	if got.OfferID != "111" || got.Title != in[0].Title || got.Address != in[0].Address {
		t.Errorf("round trip mangled fields: %+v", got)
	}
	if got.DistanceKm != 1.2 {
		t.Errorf("distance = %v, want exact 1.2", got.DistanceKm)
	}
	if len(got.PriceHistory) != 1 || got.PriceHistory[0].Price != 80000 {
		t.Errorf("price history = %+v", got.PriceHistory)
	}
	if out[1].Status != models.StatusNonActive || out[1].UnpublishedDate != "2026-03-05 00:00:00" {
		t.Errorf("lifecycle fields lost: %+v", out[1])
	}
	if !math.IsNaN(out[1].DistanceKm) {
		t.Errorf("missing distance should load as NaN, got %v", out[1].DistanceKm)
	}

	// Sidecars appear next to the dataset.
	for _, name := range []string{"apartments.meta.json", "apartments.stats.json", "apartments.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing sidecar %s: %v", name, err)
		}
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewCSVStore(filepath.Join(t.TempDir(), "nope.csv"), false)
	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty dataset, got %d", len(out))
	}
}

func TestLoadSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apartments.csv")
	content := "# last_updated=2026-03-10 13:00:00,record_count=2\n" +
		"offer_id,price,status\n" +
		",missing id row,active\n" +
		"333,\"60 000 ₽/мес.\",active\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewCSVStore(path, false)
	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 1 || out[0].OfferID != "333" {
		t.Fatalf("expected only the valid row, got %+v", out)
	}
	if out[0].PriceValue != 60000 {
		t.Errorf("price value derived from price text = %v", out[0].PriceValue)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apartments.csv")
	s := NewCSVStore(path, false)

	if err := s.Save([]models.Listing{testListing("111")}, models.Stats{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}
