// Package store persists the listing dataset. The primary store is a flat
// CSV file with a metadata comment line and JSON sidecars; an optional
// PostgreSQL archive keeps per-run history for ad-hoc queries.
package store

import "cian-tracker/internal/models"

// Dataset is the persistence surface the synchronizer works against.
type Dataset interface {
	// Load returns the stored listings. A missing file is an empty dataset,
	// not an error.
	Load() ([]models.Listing, error)
	// Save atomically replaces the dataset and records run statistics.
	Save(listings []models.Listing, stats models.Stats) error
}

// Metadata describes the persisted dataset, written next to it as a sidecar
// and embedded in the CSV comment line.
type Metadata struct {
	LastUpdated string `json:"last_updated"`
	RecordCount int    `json:"record_count"`
}
