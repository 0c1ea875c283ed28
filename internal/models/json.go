package models

import (
	"encoding/json"
	"math"
)

// listingJSON mirrors Listing with pointer numerics so that the NaN "missing"
// sentinel round-trips as null instead of breaking encoding/json.
type listingJSON struct {
	OfferID  string `json:"offer_id"`
	OfferURL string `json:"offer_url"`

	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Address      string   `json:"address,omitempty"`
	MetroStation string   `json:"metro_station,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	District     string   `json:"district,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	UpdatedTime  string   `json:"updated_time,omitempty"`

	Price        string       `json:"price,omitempty"`
	PriceInfo    string       `json:"price_info,omitempty"`
	PriceValue   *float64     `json:"price_value,omitempty"`
	PriceHistory []PricePoint `json:"price_history,omitempty"`

	RentalPeriod    string   `json:"rental_period,omitempty"`
	UtilitiesType   string   `json:"utilities_type,omitempty"`
	CommissionInfo  string   `json:"commission_info,omitempty"`
	DepositInfo     string   `json:"deposit_info,omitempty"`
	CommissionValue *float64 `json:"commission_value,omitempty"`
	DepositValue    *float64 `json:"deposit_value,omitempty"`

	CianEstimation       string   `json:"cian_estimation,omitempty"`
	CianEstimationValue  *float64 `json:"cian_estimation_value,omitempty"`
	PriceDifferenceValue *float64 `json:"price_difference_value,omitempty"`
	DistanceKm           *float64 `json:"distance,omitempty"`

	PriceChange      string   `json:"price_change,omitempty"`
	PriceChangeValue *float64 `json:"price_change_value,omitempty"`
	DaysActive       *int     `json:"days_active,omitempty"`

	Status          ListingStatus `json:"status"`
	UnpublishedDate string        `json:"unpublished_date"`
}

func numPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func numVal(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func (l Listing) MarshalJSON() ([]byte, error) {
	var days *int
	if l.DaysActive >= 0 {
		d := l.DaysActive
		days = &d
	}
	return json.Marshal(listingJSON{
		OfferID:              l.OfferID,
		OfferURL:             l.OfferURL,
		Title:                l.Title,
		Description:          l.Description,
		Address:              l.Address,
		MetroStation:         l.MetroStation,
		Neighborhood:         l.Neighborhood,
		District:             l.District,
		ImageURLs:            l.ImageURLs,
		UpdatedTime:          l.UpdatedTime,
		Price:                l.Price,
		PriceInfo:            l.PriceInfo,
		PriceValue:           numPtr(l.PriceValue),
		PriceHistory:         l.PriceHistory,
		RentalPeriod:         l.RentalPeriod,
		UtilitiesType:        l.UtilitiesType,
		CommissionInfo:       l.CommissionInfo,
		DepositInfo:          l.DepositInfo,
		CommissionValue:      numPtr(l.CommissionValue),
		DepositValue:         numPtr(l.DepositValue),
		CianEstimation:       l.CianEstimation,
		CianEstimationValue:  numPtr(l.CianEstimationValue),
		PriceDifferenceValue: numPtr(l.PriceDifferenceValue),
		DistanceKm:           numPtr(l.DistanceKm),
		PriceChange:          l.PriceChange,
		PriceChangeValue:     numPtr(l.PriceChangeValue),
		DaysActive:           days,
		Status:               l.Status,
		UnpublishedDate:      l.UnpublishedDate,
	})
}

func (l *Listing) UnmarshalJSON(data []byte) error {
	var raw listingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Listing{
		OfferID:              raw.OfferID,
		OfferURL:             raw.OfferURL,
		Title:                raw.Title,
		Description:          raw.Description,
		Address:              raw.Address,
		MetroStation:         raw.MetroStation,
		Neighborhood:         raw.Neighborhood,
		District:             raw.District,
		ImageURLs:            raw.ImageURLs,
		UpdatedTime:          raw.UpdatedTime,
		Price:                raw.Price,
		PriceInfo:            raw.PriceInfo,
		PriceValue:           numVal(raw.PriceValue),
		PriceHistory:         raw.PriceHistory,
		RentalPeriod:         raw.RentalPeriod,
		UtilitiesType:        raw.UtilitiesType,
		CommissionInfo:       raw.CommissionInfo,
		DepositInfo:          raw.DepositInfo,
		CommissionValue:      numVal(raw.CommissionValue),
		DepositValue:         numVal(raw.DepositValue),
		CianEstimation:       raw.CianEstimation,
		CianEstimationValue:  numVal(raw.CianEstimationValue),
		PriceDifferenceValue: numVal(raw.PriceDifferenceValue),
		DistanceKm:           numVal(raw.DistanceKm),
		PriceChange:          raw.PriceChange,
		PriceChangeValue:     numVal(raw.PriceChangeValue),
		DaysActive:           -1,
		Status:               raw.Status,
		UnpublishedDate:      raw.UnpublishedDate,
	}
	if raw.DaysActive != nil {
		l.DaysActive = *raw.DaysActive
	}
	if l.Status == "" {
		l.Status = StatusActive
	}
	if l.UnpublishedDate == "" {
		l.UnpublishedDate = UnpublishedDateNone
	}
	return nil
}
