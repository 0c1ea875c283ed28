package search

import (
	"encoding/json"

	"cian-tracker/internal/models"

	"github.com/meilisearch/meilisearch-go"
)

// Client pushes listings into a Meilisearch index so they can be
// queried by text (title, address, metro) and filtered by price or
// distance without reloading the CSV dataset.
type Client struct {
	client *meilisearch.Client
	index  string
}

func NewClient(host, apiKey, index string) *Client {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &Client{
		client: client,
		index:  index,
	}
}

// InitIndex creates the listings index and configures its attributes.
func (c *Client) InitIndex() error {
	_, err := c.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        c.index,
		PrimaryKey: "offer_id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	_, err = c.client.Index(c.index).UpdateSearchableAttributes(&[]string{
		"title",
		"address",
		"metro_station",
		"neighborhood",
		"district",
		"description",
	})
	if err != nil {
		return err
	}

	_, err = c.client.Index(c.index).UpdateFilterableAttributes(&[]string{
		"offer_id",
		"status",
		"price_value",
		"distance",
		"days_active",
		"metro_station",
		"district",
	})
	if err != nil {
		return err
	}

	_, err = c.client.Index(c.index).UpdateSortableAttributes(&[]string{
		"price_value",
		"distance",
		"days_active",
		"updated_time",
	})
	if err != nil {
		return err
	}

	return nil
}

// IndexListings indexes a batch of listings. Missing numeric values
// serialize as null, which Meilisearch stores as absent fields.
func (c *Client) IndexListings(listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	_, err := c.client.Index(c.index).AddDocuments(listings)
	return err
}

// RemoveListings deletes documents for offers that left the dataset.
func (c *Client) RemoveListings(offerIDs []string) error {
	if len(offerIDs) == 0 {
		return nil
	}
	_, err := c.client.Index(c.index).DeleteDocuments(offerIDs)
	return err
}

// Request represents advanced search parameters.
type Request struct {
	Query                string
	Limit                int64
	Offset               int64
	Filter               []string
	Sort                 []string
	Facets               []string
	AttributesToRetrieve []string
}

// Result represents search results with facets.
type Result struct {
	Hits           []models.Listing
	TotalHits      int64
	Facets         map[string]interface{}
	ProcessingTime int64
}

// Search searches for listings with basic options.
func (c *Client) Search(query string, limit int64) ([]models.Listing, error) {
	result, err := c.AdvancedSearch(Request{
		Query: query,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// AdvancedSearch performs a search with filters, sorting and facets.
func (c *Client) AdvancedSearch(req Request) (*Result, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}

	if len(req.Filter) > 0 {
		filterStr := ""
		for i, f := range req.Filter {
			if i > 0 {
				filterStr += " AND "
			}
			filterStr += f
		}
		searchReq.Filter = filterStr
	}

	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}

	if len(req.Facets) > 0 {
		searchReq.Facets = req.Facets
	}

	if len(req.AttributesToRetrieve) > 0 {
		searchReq.AttributesToRetrieve = req.AttributesToRetrieve
	}

	searchRes, err := c.client.Index(c.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, err
	}

	listings := make([]models.Listing, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		listing, err := listingFromHit(hit)
		if err != nil {
			continue
		}
		listings = append(listings, listing)
	}

	var facets map[string]interface{}
	if searchRes.FacetDistribution != nil {
		facets, _ = searchRes.FacetDistribution.(map[string]interface{})
	}

	return &Result{
		Hits:           listings,
		TotalHits:      searchRes.EstimatedTotalHits,
		Facets:         facets,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// listingFromHit converts a raw search hit back into a Listing. The
// round trip through JSON restores the missing-value sentinels.
func listingFromHit(hit interface{}) (models.Listing, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return models.Listing{}, err
	}
	var listing models.Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return models.Listing{}, err
	}
	return listing, nil
}

// GetFacets retrieves facet distribution for the given fields.
func (c *Client) GetFacets(facets []string) (map[string]interface{}, error) {
	searchRes, err := c.client.Index(c.index).Search("", &meilisearch.SearchRequest{
		Limit:  0,
		Facets: facets,
	})
	if err != nil {
		return nil, err
	}

	if searchRes.FacetDistribution != nil {
		if facetMap, ok := searchRes.FacetDistribution.(map[string]interface{}); ok {
			return facetMap, nil
		}
	}
	return map[string]interface{}{}, nil
}
