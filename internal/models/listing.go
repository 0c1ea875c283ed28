package models

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ListingStatus is the publication status of a listing
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusNonActive ListingStatus = "non active"
)

// UnpublishedDateNone is the sentinel stored while a listing is still published.
const UnpublishedDateNone = "--"

// PricePoint is one entry of a listing's price history.
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// Listing is the central entity of the tracker. Numeric enrichment fields use
// NaN as the "missing" sentinel so that a zero value is never mistaken for data.
type Listing struct {
	// Identity (offer_id is unique across the persisted dataset)
	OfferID  string `json:"offer_id"`
	OfferURL string `json:"offer_url"`

	// Search-card fields
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Address      string   `json:"address,omitempty"`
	MetroStation string   `json:"metro_station,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	District     string   `json:"district,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	UpdatedTime  string   `json:"updated_time,omitempty"` // "2006-01-02 15:04:05"

	// Price
	Price        string       `json:"price,omitempty"`      // as scraped, e.g. "85 000 ₽/мес."
	PriceInfo    string       `json:"price_info,omitempty"` // raw rental-terms line
	PriceValue   float64      `json:"price_value,omitempty"`
	PriceHistory []PricePoint `json:"price_history,omitempty"`

	// Rental terms parsed from the card's price-info line
	RentalPeriod    string  `json:"rental_period,omitempty"`
	UtilitiesType   string  `json:"utilities_type,omitempty"`
	CommissionInfo  string  `json:"commission_info,omitempty"`
	DepositInfo     string  `json:"deposit_info,omitempty"`
	CommissionValue float64 `json:"commission_value,omitempty"`
	DepositValue    float64 `json:"deposit_value,omitempty"`

	// Enrichment
	CianEstimation       string  `json:"cian_estimation,omitempty"`
	CianEstimationValue  float64 `json:"cian_estimation_value,omitempty"`
	PriceDifferenceValue float64 `json:"price_difference_value,omitempty"`
	DistanceKm           float64 `json:"distance,omitempty"`

	// Change tracking
	PriceChange      string  `json:"price_change,omitempty"` // human string or "new"
	PriceChangeValue float64 `json:"price_change_value,omitempty"`
	DaysActive       int     `json:"days_active,omitempty"`

	// Lifecycle
	Status          ListingStatus `json:"status"`
	UnpublishedDate string        `json:"unpublished_date"`
}

// PriceChangeNew marks a listing seen for the first time.
const PriceChangeNew = "new"

// NewListing returns a listing with lifecycle defaults applied and all
// numeric enrichment fields set to the missing sentinel.
func NewListing(offerID string) Listing {
	return Listing{
		OfferID:              offerID,
		Status:               StatusActive,
		UnpublishedDate:      UnpublishedDateNone,
		PriceValue:           math.NaN(),
		CianEstimationValue:  math.NaN(),
		PriceDifferenceValue: math.NaN(),
		DistanceKm:           math.NaN(),
		PriceChangeValue:     math.NaN(),
		CommissionValue:      math.NaN(),
		DepositValue:         math.NaN(),
		DaysActive:           -1,
	}
}

// IsActive reports whether the listing is still published.
func (l *Listing) IsActive() bool {
	return l.Status != StatusNonActive
}

// HasValidDistance reports whether the stored distance is usable. Only a
// finite, non-NaN value counts; anything else is "missing" and eligible for
// recomputation.
func (l *Listing) HasValidDistance() bool {
	return IsValidDistance(l.DistanceKm)
}

// HasEstimation reports whether the site's price estimate has been fetched.
func (l *Listing) HasEstimation() bool {
	return !math.IsNaN(l.CianEstimationValue) && l.CianEstimationValue > 0
}

// HasUnpublishedDate reports whether a real unpublish date is recorded
// (the "--" sentinel and empty string do not count).
func (l *Listing) HasUnpublishedDate() bool {
	d := strings.TrimSpace(l.UnpublishedDate)
	return d != "" && d != UnpublishedDateNone && !strings.EqualFold(d, "nan")
}

// MarkUnpublished flips the listing to non-active with the given date.
func (l *Listing) MarkUnpublished(date string) {
	l.Status = StatusNonActive
	if date == "" {
		date = UnpublishedDateNone
	}
	l.UnpublishedDate = date
}

// AppendPricePoint records a price observation, skipping exact (date, price)
// duplicates so the history stays append-only and deduplicated.
func (l *Listing) AppendPricePoint(date string, price float64) {
	for _, p := range l.PriceHistory {
		if p.Date == date && p.Price == price {
			return
		}
	}
	l.PriceHistory = append(l.PriceHistory, PricePoint{Date: date, Price: price})
}

// Clone returns a deep copy. Slices are copied so that patching the clone
// never mutates the original record.
func (l *Listing) Clone() Listing {
	c := *l
	if l.ImageURLs != nil {
		c.ImageURLs = append([]string(nil), l.ImageURLs...)
	}
	if l.PriceHistory != nil {
		c.PriceHistory = append([]PricePoint(nil), l.PriceHistory...)
	}
	return c
}

// IsValidDistance is the shared validity rule: finite and non-NaN.
func IsValidDistance(km float64) bool {
	return !math.IsNaN(km) && !math.IsInf(km, 0)
}

var nonDigitRe = regexp.MustCompile(`[^\d]`)

// ParsePriceValue extracts the numeric value from a scraped price string such
// as "85 000 ₽/мес.". Returns NaN when no digits are present.
func ParsePriceValue(s string) float64 {
	digits := nonDigitRe.ReplaceAllString(s, "")
	if digits == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// IsEmptyValue reports whether a scraped text field carries no data.
// CSV round-trips turn missing cells into "", "--" or the literal "nan".
func IsEmptyValue(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	return t == "" || t == UnpublishedDateNone || t == "nan" || t == "n/a" || t == "none"
}
