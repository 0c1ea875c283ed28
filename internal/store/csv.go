package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cian-tracker/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Column order follows the dashboard's reading habits: identity and the
// frequently eyeballed fields first, numeric shadow columns after.
var csvColumns = []string{
	"offer_id", "offer_url", "title", "updated_time", "price_change", "days_active",
	"price", "cian_estimation", "price_difference_value", "price_info", "address",
	"metro_station", "neighborhood", "district", "description", "status", "unpublished_date",
	"rental_period", "utilities_type", "commission_info", "deposit_info",
	"commission_value", "deposit_value", "price_value", "cian_estimation_value",
	"distance", "price_change_value", "price_history",
}

// CSVStore stores the dataset as a CSV file plus sidecars: <base>.meta.json,
// <base>.stats.json and optionally a <base>.json mirror of the full records.
type CSVStore struct {
	path       string
	jsonMirror bool
	now        func() time.Time
}

// NewCSVStore creates a store writing to path.
func NewCSVStore(path string, jsonMirror bool) *CSVStore {
	return &CSVStore{path: path, jsonMirror: jsonMirror, now: time.Now}
}

// Load reads the dataset. Comment lines are ignored; rows that fail to parse
// are skipped with a log line so one corrupt row never loses the dataset.
func (s *CSVStore) Load() ([]models.Listing, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, line)
	}

	r := csv.NewReader(strings.NewReader(strings.Join(kept, "\n")))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		log.Printf("[Store] dataset %s is corrupt, starting from empty: %v", s.path, err)
		return nil, nil
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}
	if _, ok := header["offer_id"]; !ok {
		log.Printf("[Store] dataset %s has no offer_id column, starting from empty", s.path)
		return nil, nil
	}

	var listings []models.Listing
	for n, row := range rows[1:] {
		l, err := decodeRow(header, row)
		if err != nil {
			log.Printf("[Store] skipping row %d: %v", n+2, err)
			continue
		}
		listings = append(listings, l)
	}
	log.Printf("[Store] loaded %d listings from %s", len(listings), s.path)
	return listings, nil
}

// Save writes the dataset to a temp file and renames it into place, then
// refreshes the sidecars.
func (s *CSVStore) Save(listings []models.Listing, stats models.Stats) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	now := s.now().Format(timeLayout)
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp dataset: %w", err)
	}

	fmt.Fprintf(f, "# last_updated=%s,record_count=%d\n", now, len(listings))
	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range listings {
		if err := w.Write(encodeRow(&listings[i])); err != nil {
			f.Close()
			return fmt.Errorf("failed to write row for %s: %w", listings[i].OfferID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp dataset: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	log.Printf("[Store] saved %d listings to %s", len(listings), s.path)

	base := strings.TrimSuffix(s.path, filepath.Ext(s.path))
	writeSidecar(base+".meta.json", Metadata{LastUpdated: now, RecordCount: len(listings)})
	writeSidecar(base+".stats.json", stats)
	if s.jsonMirror {
		writeSidecar(base+".json", listings)
	}
	return nil
}

// LoadMetadata reads the metadata sidecar written by the last Save.
func (s *CSVStore) LoadMetadata() (Metadata, error) {
	var meta Metadata
	base := strings.TrimSuffix(s.path, filepath.Ext(s.path))
	data, err := os.ReadFile(base + ".meta.json")
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// LoadStats reads the run statistics sidecar written by the last Save.
func (s *CSVStore) LoadStats() (models.Stats, error) {
	var stats models.Stats
	base := strings.TrimSuffix(s.path, filepath.Ext(s.path))
	data, err := os.ReadFile(base + ".stats.json")
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("failed to parse stats: %w", err)
	}
	return stats, nil
}

// writeSidecar best-effort writes auxiliary JSON; a sidecar failure never
// fails the run because the CSV is already in place.
func writeSidecar(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		log.Printf("[Store] failed to encode %s: %v", path, err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[Store] failed to write %s: %v", path, err)
	}
}

func encodeRow(l *models.Listing) []string {
	history := ""
	if len(l.PriceHistory) > 0 {
		if data, err := json.Marshal(l.PriceHistory); err == nil {
			history = string(data)
		}
	}
	days := ""
	if l.DaysActive >= 0 {
		days = strconv.Itoa(l.DaysActive)
	}
	return []string{
		l.OfferID, l.OfferURL, l.Title, l.UpdatedTime, l.PriceChange, days,
		l.Price, l.CianEstimation, formatFloat(l.PriceDifferenceValue), l.PriceInfo, l.Address,
		l.MetroStation, l.Neighborhood, l.District, l.Description, string(l.Status), l.UnpublishedDate,
		l.RentalPeriod, l.UtilitiesType, l.CommissionInfo, l.DepositInfo,
		formatFloat(l.CommissionValue), formatFloat(l.DepositValue), formatFloat(l.PriceValue), formatFloat(l.CianEstimationValue),
		formatFloat(l.DistanceKm), formatFloat(l.PriceChangeValue), history,
	}
}

func decodeRow(header map[string]int, row []string) (models.Listing, error) {
	get := func(col string) string {
		i, ok := header[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	id := get("offer_id")
	if id == "" {
		return models.Listing{}, fmt.Errorf("missing offer_id")
	}

	l := models.NewListing(id)
	l.OfferURL = get("offer_url")
	l.Title = get("title")
	l.UpdatedTime = get("updated_time")
	l.PriceChange = get("price_change")
	l.Price = get("price")
	l.CianEstimation = get("cian_estimation")
	l.PriceInfo = get("price_info")
	l.Address = get("address")
	l.MetroStation = get("metro_station")
	l.Neighborhood = get("neighborhood")
	l.District = get("district")
	l.Description = get("description")
	l.RentalPeriod = get("rental_period")
	l.UtilitiesType = get("utilities_type")
	l.CommissionInfo = get("commission_info")
	l.DepositInfo = get("deposit_info")

	if status := get("status"); status != "" {
		l.Status = models.ListingStatus(status)
	}
	if date := get("unpublished_date"); date != "" {
		l.UnpublishedDate = date
	}
	if days := get("days_active"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			l.DaysActive = n
		}
	}

	l.PriceDifferenceValue = parseFloat(get("price_difference_value"))
	l.CommissionValue = parseFloat(get("commission_value"))
	l.DepositValue = parseFloat(get("deposit_value"))
	l.PriceValue = parseFloat(get("price_value"))
	l.CianEstimationValue = parseFloat(get("cian_estimation_value"))
	l.DistanceKm = parseFloat(get("distance"))
	l.PriceChangeValue = parseFloat(get("price_change_value"))
	if math.IsNaN(l.PriceValue) {
		l.PriceValue = models.ParsePriceValue(l.Price)
	}

	if history := get("price_history"); history != "" {
		if err := json.Unmarshal([]byte(history), &l.PriceHistory); err != nil {
			log.Printf("[Store] bad price history for %s: %v", id, err)
			l.PriceHistory = nil
		}
	}
	return l, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
