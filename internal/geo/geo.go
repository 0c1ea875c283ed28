// Package geo resolves listing addresses to coordinates and computes the
// walking distance to the reference point. Geocoding goes through Nominatim,
// routing through the OSRM foot profile; when routing is unreachable the
// distance degrades to straight-line with a winding factor.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WindingFactor converts straight-line distance to an estimated walking
// distance. 1.4 is the commonly used detour index for dense street grids;
// city-specific calibration would be better but this matches how the number
// has been used here historically.
const WindingFactor = 1.4

const earthRadiusKm = 6371

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Options configures the calculator.
type Options struct {
	NominatimURL string
	OSRMURL      string
	UserAgent    string
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
}

// DefaultOptions uses the public OSM services.
func DefaultOptions() Options {
	return Options{
		NominatimURL: "https://nominatim.openstreetmap.org/search",
		OSRMURL:      "https://routing.openstreetmap.de/routed-foot",
		UserAgent:    "cian-tracker/1.0",
		MaxRetries:   5,
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// Calculator geocodes addresses and measures foot-route distances.
type Calculator struct {
	opts   Options
	client *http.Client
	sleep  func(time.Duration)
}

// NewCalculator creates a calculator. A nil client gets a default one with
// the configured timeout.
func NewCalculator(opts Options, client *http.Client) *Calculator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Calculator{opts: opts, client: client, sleep: time.Sleep}
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

var (
	ownershipRe  = regexp.MustCompile(`(\s)вл(\d)`)
	buildingRe   = regexp.MustCompile(`(\d+)[А-Яа-я]+\d*`)
	streetRe     = regexp.MustCompile(`(улица\s+[А-Яа-я]+|[А-Яа-я]+\s+переулок),\s+\d+[А-Яа-я]*.*`)
	lastResortRe = regexp.MustCompile(`(?:Москва|Moscow),?\s+(?:улица|ул\.|переулок)\s+([А-Яа-я\w\s]+)`)
)

// addressVariants builds geocoding candidates from most to least specific:
// the raw address with ownership markers stripped, building numbers reduced
// to their numeric part, then the bare street.
func addressVariants(address string) []string {
	base := ownershipRe.ReplaceAllString(address, "$1$2")
	candidates := []string{
		base,
		buildingRe.ReplaceAllString(base, "$1"),
		streetRe.ReplaceAllString(base, "$1"),
	}
	var out []string
	seen := map[string]bool{}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// streetFallback extracts a bare "Москва, <street>" query, used only after
// every variant has failed.
func streetFallback(address string) (string, bool) {
	m := lastResortRe.FindStringSubmatch(address)
	if m == nil {
		return "", false
	}
	return "Москва, " + strings.TrimSpace(m[1]), true
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves an address to coordinates, walking the simplified
// variants with exponential backoff per variant.
func (c *Calculator) Geocode(ctx context.Context, address string) (Point, error) {
	var lastErr error

	for _, variant := range addressVariants(address) {
		backoff := c.opts.BaseDelay

	attempts:
		for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return Point{}, err
			}
			// Pace every request: Nominatim usage policy plus current backoff.
			c.sleep(backoff + time.Duration(rand.Int63n(int64(500*time.Millisecond))))

			pt, status, err := c.queryNominatim(ctx, variant)
			switch {
			case err == nil && status == http.StatusOK && pt != nil:
				if variant != address {
					log.Printf("[Geo] resolved %q via simplified variant %q", address, variant)
				}
				return *pt, nil
			case err == nil && status == http.StatusOK:
				// Empty result set: back off and retry, the variant may still
				// resolve, otherwise move on after the attempts run out.
				backoff = capDelay(backoff*2, c.opts.MaxDelay)
			case status >= 400 && status < 500:
				lastErr = fmt.Errorf("nominatim status %d for %q", status, variant)
				break attempts // client error, next variant
			default:
				if err != nil {
					lastErr = err
				} else {
					lastErr = fmt.Errorf("nominatim status %d for %q", status, variant)
				}
				backoff = capDelay(backoff*2, c.opts.MaxDelay)
				log.Printf("[Geo] geocode attempt %d/%d failed for %q: %v", attempt, c.opts.MaxRetries, variant, lastErr)
			}
		}
	}

	if fallback, ok := streetFallback(address); ok {
		c.sleep(2 * time.Second)
		pt, status, err := c.queryNominatim(ctx, fallback)
		if err == nil && status == http.StatusOK && pt != nil {
			log.Printf("[Geo] using street-level coordinates for %q", address)
			return *pt, nil
		}
	}

	return Point{}, fmt.Errorf("no coordinates found for %q: %w", address, orUnresolvable(lastErr))
}

func orUnresolvable(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("address not in geocoder index")
}

func (c *Calculator) queryNominatim(ctx context.Context, query string) (*Point, int, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("countrycodes", "ru")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.NominatimURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return nil, resp.StatusCode, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("bad latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("bad longitude %q: %w", results[0].Lon, err)
	}
	return &Point{Lat: lat, Lon: lon}, resp.StatusCode, nil
}

type osrmResponse struct {
	Routes []struct {
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// Route returns the foot-route distance between two points in km. On
// exhausted retries it falls back to Haversine × WindingFactor.
func (c *Calculator) Route(ctx context.Context, from, to Point) (float64, error) {
	endpoint := fmt.Sprintf("%s/route/v1/foot/%s,%s;%s,%s?overview=false&alternatives=false",
		c.opts.OSRMURL,
		coord(from.Lon), coord(from.Lat),
		coord(to.Lon), coord(to.Lat))

	backoff := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		km, err := c.queryOSRM(ctx, endpoint)
		if err == nil {
			straight := Haversine(from, to)
			if straight > 0 && km/straight > 3 {
				log.Printf("[Geo] route %.2fkm is %.1fx the straight line, looks unrealistic", km, km/straight)
			}
			return km, nil
		}

		log.Printf("[Geo] routing attempt %d/%d failed: %v", attempt, c.opts.MaxRetries, err)
		if attempt < c.opts.MaxRetries {
			c.sleep(backoff + time.Duration(rand.Int63n(int64(time.Second))))
			backoff = capDelay(backoff*2, c.opts.MaxDelay)
		}
	}

	estimated := Haversine(from, to) * WindingFactor
	log.Printf("[Geo] all routing attempts failed, estimating %.2fkm from straight line", estimated)
	return estimated, nil
}

func (c *Calculator) queryOSRM(ctx context.Context, endpoint string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("routing status %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode routing response: %w", err)
	}
	if len(parsed.Routes) == 0 {
		return 0, fmt.Errorf("routing response has no routes")
	}
	return parsed.Routes[0].Distance / 1000, nil
}

// Distance geocodes the address and returns the walking distance from the
// reference point in km.
func (c *Calculator) Distance(ctx context.Context, from Point, toAddress string) (float64, error) {
	to, err := c.Geocode(ctx, toAddress)
	if err != nil {
		return math.NaN(), err
	}
	return c.Route(ctx, from, to)
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
