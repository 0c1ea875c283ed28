package search

import (
	"fmt"
	"strings"

	"cian-tracker/internal/models"
)

// FilterParams describes the filters the status API exposes on top of
// the listings index.
type FilterParams struct {
	Query       string
	MinPrice    *float64
	MaxPrice    *float64
	MaxDistance *float64
	Districts   []string
	ActiveOnly  bool
	SortBy      string
	Limit       int64
}

// FilterSearch performs a search constrained by price, distance and
// district filters.
func (c *Client) FilterSearch(params FilterParams) ([]models.Listing, error) {
	var filters []string

	if params.MinPrice != nil {
		filters = append(filters, fmt.Sprintf("price_value >= %.0f", *params.MinPrice))
	}
	if params.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("price_value <= %.0f", *params.MaxPrice))
	}

	if params.MaxDistance != nil {
		filters = append(filters, fmt.Sprintf("distance <= %.2f", *params.MaxDistance))
	}

	if len(params.Districts) > 0 {
		districtFilters := make([]string, len(params.Districts))
		for i, d := range params.Districts {
			districtFilters[i] = fmt.Sprintf("district = '%s'", d)
		}
		filters = append(filters, fmt.Sprintf("(%s)", strings.Join(districtFilters, " OR ")))
	}

	if params.ActiveOnly {
		filters = append(filters, fmt.Sprintf("status = '%s'", models.StatusActive))
	}

	var sort []string
	if params.SortBy != "" {
		sort = []string{params.SortBy}
	}

	if params.Limit == 0 {
		params.Limit = 20
	}

	result, err := c.AdvancedSearch(Request{
		Query:  params.Query,
		Limit:  params.Limit,
		Filter: filters,
		Sort:   sort,
	})
	if err != nil {
		return nil, err
	}

	return result.Hits, nil
}
