// Package syncer reconciles freshly collected listings with the stored
// dataset: it classifies every record, fills in distances and detail-page
// enrichments, confirms disappearances, and persists the merged result.
package syncer

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"cian-tracker/internal/fetcher"
	"cian-tracker/internal/geo"
	"cian-tracker/internal/models"
	"cian-tracker/internal/store"
)

// Collector walks search pages.
type Collector interface {
	Collect(ctx context.Context, searchURL string, maxPages int) ([]models.Listing, error)
}

// DetailFetcher runs detail-page jobs.
type DetailFetcher interface {
	FetchAll(ctx context.Context, reqs []fetcher.Request) []fetcher.Result
}

// Distancer resolves addresses and measures walking distance.
type Distancer interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
	Distance(ctx context.Context, from geo.Point, toAddress string) (float64, error)
}

// Options bound one synchronization run.
type Options struct {
	SearchURL          string
	MaxPages           int
	MaxDistanceKm      float64
	TimeFilterMinutes  int
	ReferenceAddress   string
	EstimationBackfill bool
}

// Synchronizer owns the run pipeline.
type Synchronizer struct {
	collector Collector
	fetcher   DetailFetcher
	geo       Distancer
	dataset   store.Dataset
	opts      Options
	now       func() time.Time
}

// New assembles a synchronizer from its collaborators.
func New(c Collector, f DetailFetcher, g Distancer, d store.Dataset, opts Options) *Synchronizer {
	return &Synchronizer{collector: c, fetcher: f, geo: g, dataset: d, opts: opts, now: time.Now}
}

// Run executes one full synchronization and returns the run statistics.
// Per-record problems degrade that record to its prior state; only setup
// failures (no search results, broken persistence) abort.
func (s *Synchronizer) Run(ctx context.Context) (models.Stats, error) {
	var stats models.Stats

	prior, err := s.dataset.Load()
	if err != nil {
		log.Printf("[Sync] could not load prior dataset, starting from empty: %v", err)
		prior = nil
	}
	priorByID := make(map[string]*models.Listing, len(prior))
	for i := range prior {
		priorByID[prior[i].OfferID] = &prior[i]
	}

	searchURL := s.opts.SearchURL
	if s.opts.TimeFilterMinutes > 0 {
		searchURL = fmt.Sprintf("%s&totime=%d", searchURL, s.opts.TimeFilterMinutes*60)
	}

	collected, err := s.collector.Collect(ctx, searchURL, s.opts.MaxPages)
	if err != nil {
		return stats, fmt.Errorf("collection failed: %w", err)
	}
	if len(collected) == 0 {
		log.Printf("[Sync] no listings collected, keeping dataset untouched")
		return stats, nil
	}

	session := models.NewSession()
	for i := range collected {
		session.MarkSeen(collected[i].OfferID)
	}

	// Classify and merge each collected record against its prior version.
	merged := make([]models.Listing, 0, len(collected)+len(prior))
	classes := make(map[string]Class, len(collected))
	for i := range collected {
		rec, class := s.merge(&collected[i], priorByID[collected[i].OfferID])
		classes[rec.OfferID] = class
		merged = append(merged, rec)
		switch class {
		case ClassNew:
			stats.New++
		case ClassPriceChanged:
			stats.PriceChanges++
		}
	}

	s.fillDistances(ctx, merged)

	within := make(map[string]bool, len(merged))
	for i := range merged {
		within[merged[i].OfferID] = s.withinRadius(&merged[i])
	}

	// Detail-page work: estimations for records whose price situation
	// changed, unpublish confirmation for everything that dropped out of the
	// search results.
	var jobs []fetcher.Request
	for i := range merged {
		l := &merged[i]
		if l.OfferURL == "" || !within[l.OfferID] {
			continue
		}
		switch classes[l.OfferID] {
		case ClassNew, ClassPriceChanged:
			jobs = append(jobs, fetcher.Request{OfferID: l.OfferID, OfferURL: l.OfferURL, Kind: fetcher.KindEstimation})
		case ClassEstimationMissing:
			jobs = append(jobs, fetcher.Request{OfferID: l.OfferID, OfferURL: l.OfferURL, Kind: fetcher.KindEstimation})
		}
	}

	checked := 0
	for i := range prior {
		p := &prior[i]
		if session.Seen(p.OfferID) {
			continue
		}
		// Already confirmed gone: carry unchanged, never re-check.
		if !p.IsActive() && p.HasUnpublishedDate() {
			merged = append(merged, p.Clone())
			continue
		}
		merged = append(merged, p.Clone())
		if p.OfferURL == "" {
			continue
		}
		jobs = append(jobs, fetcher.Request{OfferID: p.OfferID, OfferURL: p.OfferURL, Kind: fetcher.KindUnpublished})
		checked++
	}
	if len(jobs) > 0 {
		log.Printf("[Sync] running %d detail jobs (%d unpublish checks)", len(jobs), checked)
	}

	patches := s.buildPatches(s.fetcher.FetchAll(ctx, jobs), &stats)
	byID := make(map[string]*models.Listing, len(merged))
	for i := range merged {
		byID[merged[i].OfferID] = &merged[i]
	}
	for i := range patches {
		if l, ok := byID[patches[i].OfferID]; ok {
			patches[i].Apply(l)
		}
	}

	for i := range merged {
		s.finalize(&merged[i])
	}
	sortListings(merged)

	if err := s.dataset.Save(merged, stats); err != nil {
		return stats, fmt.Errorf("failed to persist dataset: %w", err)
	}
	log.Printf("[Sync] run complete: %d listings, %d new, %d price changes, %d removed",
		len(merged), stats.New, stats.PriceChanges, stats.Removed)
	return stats, nil
}

// fillDistances geocodes the reference point once and computes walking
// distances for records that lack a valid one. A stored valid distance is
// never touched.
func (s *Synchronizer) fillDistances(ctx context.Context, listings []models.Listing) {
	ref, err := s.geo.Geocode(ctx, s.opts.ReferenceAddress)
	if err != nil {
		log.Printf("[Sync] cannot geocode reference address %q, distances stay as-is: %v", s.opts.ReferenceAddress, err)
		return
	}

	preserved, calculated, failed := 0, 0, 0
	for i := range listings {
		l := &listings[i]
		if l.HasValidDistance() {
			preserved++
			continue
		}
		if l.Address == "" {
			failed++
			continue
		}
		d, err := s.geo.Distance(ctx, ref, fullAddress(l.Address))
		if err != nil || !models.IsValidDistance(d) {
			failed++
			continue
		}
		l.DistanceKm = round2(d)
		calculated++
	}
	log.Printf("[Sync] distances: %d preserved, %d calculated, %d failed", preserved, calculated, failed)
}

func (s *Synchronizer) withinRadius(l *models.Listing) bool {
	if s.opts.MaxDistanceKm <= 0 {
		return true
	}
	return l.HasValidDistance() && l.DistanceKm <= s.opts.MaxDistanceKm
}

// buildPatches converts fetch results into field-level patches and counts
// confirmed removals.
func (s *Synchronizer) buildPatches(results []fetcher.Result, stats *models.Stats) []models.Patch {
	var patches []models.Patch
	for _, r := range results {
		switch r.Kind {
		case fetcher.KindEstimation:
			if !r.Success || r.Estimation == "" {
				continue
			}
			patches = append(patches, models.Patch{
				OfferID:             r.OfferID,
				CianEstimation:      models.StringPtr(r.Estimation),
				CianEstimationValue: models.Float64Ptr(r.EstimationValue),
			})
		case fetcher.KindUnpublished:
			// Both a confirmed banner and an unreachable page mark the
			// listing gone; an alive page leaves it untouched.
			if !r.IsUnpublished {
				continue
			}
			patches = append(patches, models.Patch{
				OfferID:         r.OfferID,
				Status:          models.StatusPtr(models.StatusNonActive),
				UnpublishedDate: models.StringPtr(r.UnpublishedDate),
			})
			stats.Removed++
		}
	}
	return patches
}

func sortListings(listings []models.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := &listings[i], &listings[j]
		if a.IsActive() != b.IsActive() {
			return a.IsActive()
		}
		return a.UpdatedTime > b.UpdatedTime
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
