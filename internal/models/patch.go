package models

// Patch is a field-level update to an existing listing. Each enrichment path
// sets only the pointers it is allowed to touch, so a distance-only,
// estimation-only or unpublished-only result can never clobber unrelated
// columns with empties.
type Patch struct {
	OfferID string

	Address             *string
	DistanceKm          *float64
	CianEstimation      *string
	CianEstimationValue *float64
	Status              *ListingStatus
	UnpublishedDate     *string
}

// Apply writes the set fields onto the listing and leaves the rest untouched.
func (p *Patch) Apply(l *Listing) {
	if p.Address != nil {
		l.Address = *p.Address
	}
	if p.DistanceKm != nil {
		l.DistanceKm = *p.DistanceKm
	}
	if p.CianEstimation != nil {
		l.CianEstimation = *p.CianEstimation
	}
	if p.CianEstimationValue != nil {
		l.CianEstimationValue = *p.CianEstimationValue
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.UnpublishedDate != nil {
		l.UnpublishedDate = *p.UnpublishedDate
	}
}

// StringPtr and Float64Ptr are small helpers for building patches.
func StringPtr(s string) *string            { return &s }
func Float64Ptr(f float64) *float64         { return &f }
func StatusPtr(s ListingStatus) *ListingStatus { return &s }
