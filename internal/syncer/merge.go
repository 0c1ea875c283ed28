package syncer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cian-tracker/internal/models"
	"cian-tracker/internal/rudate"
)

// Class labels what a collected record means relative to the stored dataset.
// Every record gets exactly one label; the order below is the priority when
// several would apply.
type Class int

const (
	ClassNew Class = iota
	ClassPriceChanged
	ClassDistanceInvalid
	ClassEstimationMissing
	ClassUnchanged
)

func (c Class) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassPriceChanged:
		return "price-changed"
	case ClassDistanceInvalid:
		return "distance-invalid"
	case ClassEstimationMissing:
		return "estimation-missing"
	default:
		return "unchanged"
	}
}

// merge combines a collected record with its prior version and labels it.
func (s *Synchronizer) merge(incoming, prior *models.Listing) (models.Listing, Class) {
	if prior == nil {
		rec := incoming.Clone()
		rec.PriceChange = models.PriceChangeNew
		if !math.IsNaN(rec.PriceValue) {
			rec.AppendPricePoint(s.now().Format("2006-01-02"), rec.PriceValue)
		}
		return rec, ClassNew
	}

	oldPrice := priorPrice(prior)
	newPrice := incoming.PriceValue
	if !math.IsNaN(oldPrice) && !math.IsNaN(newPrice) && oldPrice != newPrice {
		return s.mergePriceChanged(incoming, prior, oldPrice, newPrice), ClassPriceChanged
	}

	// Same price: the stored record wins, refreshed with the fields the
	// search card keeps current.
	rec := prior.Clone()
	rec.Address = incoming.Address
	rec.Price = incoming.Price
	rec.PriceValue = incoming.PriceValue
	rec.OfferURL = incoming.OfferURL

	switch {
	case !rec.HasValidDistance():
		return rec, ClassDistanceInvalid
	case s.opts.EstimationBackfill && !rec.HasEstimation() && models.IsEmptyValue(rec.CianEstimation):
		return rec, ClassEstimationMissing
	default:
		return rec, ClassUnchanged
	}
}

// mergePriceChanged starts from the fresh record and carries over everything
// the card cannot know: a valid distance (kept bit for bit), a previously
// fetched estimation, and the accumulated price history.
func (s *Synchronizer) mergePriceChanged(incoming, prior *models.Listing, oldPrice, newPrice float64) models.Listing {
	rec := incoming.Clone()

	if prior.HasValidDistance() {
		rec.DistanceKm = prior.DistanceKm
	}
	if !models.IsEmptyValue(prior.CianEstimation) && models.IsEmptyValue(rec.CianEstimation) {
		rec.CianEstimation = prior.CianEstimation
		rec.CianEstimationValue = prior.CianEstimationValue
	}

	rec.PriceHistory = append([]models.PricePoint(nil), prior.PriceHistory...)
	rec.AppendPricePoint(s.now().Format("2006-01-02"), newPrice)

	diff := newPrice - oldPrice
	rec.PriceChangeValue = diff
	rec.PriceChange = fmt.Sprintf("From %s to %s (%s ₽)",
		groupDigits(oldPrice), groupDigits(newPrice), signedGroupDigits(diff))
	return rec
}

// finalize fills the derived fields every stored record carries.
func (s *Synchronizer) finalize(l *models.Listing) {
	if math.IsNaN(l.PriceValue) {
		l.PriceValue = models.ParsePriceValue(l.Price)
	}
	if math.IsNaN(l.CianEstimationValue) && !models.IsEmptyValue(l.CianEstimation) {
		l.CianEstimationValue = models.ParsePriceValue(l.CianEstimation)
	}
	if !math.IsNaN(l.PriceValue) && !math.IsNaN(l.CianEstimationValue) {
		l.PriceDifferenceValue = l.CianEstimationValue - l.PriceValue
	}
	if l.UpdatedTime != "" {
		if ts, err := time.Parse(rudate.Layout, l.UpdatedTime); err == nil {
			if days := int(s.now().Sub(ts).Hours() / 24); days >= 0 {
				l.DaysActive = days
			}
		}
	}
	if l.Status == "" {
		l.Status = models.StatusActive
	}
	if l.UnpublishedDate == "" {
		l.UnpublishedDate = models.UnpublishedDateNone
	}
}

// priorPrice prefers the stored numeric value, falling back to re-parsing
// the price text for datasets written before the numeric column existed.
func priorPrice(l *models.Listing) float64 {
	if !math.IsNaN(l.PriceValue) {
		return l.PriceValue
	}
	return models.ParsePriceValue(l.Price)
}

// fullAddress prefixes the city when the card address omits it.
func fullAddress(address string) string {
	if strings.Contains(address, "Москва") {
		return address
	}
	return "Москва, " + address
}

// groupDigits renders 52000 as "52 000".
func groupDigits(v float64) string {
	n := int64(math.Abs(v) + 0.5)
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, " ")
}

// signedGroupDigits renders +2000 as "+2 000" and -2000 as "-2 000".
func signedGroupDigits(v float64) string {
	if v < 0 {
		return "-" + groupDigits(-v)
	}
	return "+" + groupDigits(v)
}
