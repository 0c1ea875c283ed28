// Package collector walks the paginated search results and extracts listing
// cards. Collection is strictly sequential in a single browser session; the
// heavy per-listing work happens later in the fetcher pool.
package collector

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cian-tracker/internal/browser"
	"cian-tracker/internal/models"
	"cian-tracker/internal/ratelimit"
)

const urlBase = "https://www.cian.ru"

var pageParamRe = regexp.MustCompile(`p=\d+`)

// Collector drives one browser session across search result pages.
type Collector struct {
	newSession browser.Factory
	limiter    *ratelimit.Limiter
	now        func() time.Time
}

// New creates a collector. The limiter paces page loads; now is replaceable
// in tests.
func New(factory browser.Factory, limiter *ratelimit.Limiter) *Collector {
	return &Collector{
		newSession: factory,
		limiter:    limiter,
		now:        time.Now,
	}
}

// Collect walks search pages starting at searchURL and returns the parsed
// cards, deduplicated by offer id. maxPages <= 0 means no page cap.
func (c *Collector) Collect(ctx context.Context, searchURL string, maxPages int) ([]models.Listing, error) {
	sess, err := c.newSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer browser.MustClose(sess)

	var (
		all         []models.Listing
		seenIDs     = make(map[string]bool)
		recentPages []uint64
		page        = 1
	)

	c.limiter.Acquire()
	err = sess.Navigate(searchURL)
	c.limiter.Release()
	if err != nil {
		return nil, fmt.Errorf("failed to load first page: %w", err)
	}

	log.Printf("[Collector] starting collection from %s", searchURL)

	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		if err := sess.ScrollTo(0.5); err != nil {
			log.Printf("[Collector] scroll failed on page %d: %v", page, err)
		}

		html, err := sess.HTML()
		if err != nil {
			log.Printf("[Collector] failed to read page %d: %v", page, err)
			break
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			log.Printf("[Collector] failed to parse page %d: %v", page, err)
			break
		}

		if page == 1 {
			if total := totalListings(doc); total > 0 {
				log.Printf("[Collector] search reports %d listings total", total)
			}
		}

		cards := doc.Find(`article[data-name='CardComponent']`)
		if cards.Length() == 0 {
			log.Printf("[Collector] no cards on page %d, stopping", page)
			break
		}

		// Detect pagination loops: a page whose card set matches one of the
		// last few pages means the site is feeding us repeats.
		pageIDs := cardIDs(cards)
		h := hashIDs(pageIDs)
		if containsHash(recentPages, h) {
			log.Printf("[Collector] page %d repeats an earlier card set, stopping", page)
			break
		}
		recentPages = append(recentPages, h)
		if len(recentPages) > 3 {
			recentPages = recentPages[1:]
		}

		if page > 1 && !hasNewID(pageIDs, seenIDs) {
			log.Printf("[Collector] no new listings on page %d, stopping", page)
			break
		}

		added := 0
		cards.Each(func(i int, card *goquery.Selection) {
			listing, err := parseCard(card, urlBase, c.now())
			if err != nil {
				log.Printf("[Collector] skipping card %d on page %d: %v", i, page, err)
				return
			}
			if seenIDs[listing.OfferID] {
				return
			}
			seenIDs[listing.OfferID] = true
			all = append(all, listing)
			added++
		})
		log.Printf("[Collector] page %d: %d cards, %d new (total %d)", page, cards.Length(), added, len(all))

		if maxPages > 0 && page >= maxPages {
			log.Printf("[Collector] reached max pages (%d)", maxPages)
			break
		}

		next, stop := c.advance(sess, page)
		if stop {
			break
		}
		page = next
	}

	log.Printf("[Collector] collected %d listings from %d pages", len(all), page)
	return all, nil
}

// advance navigates to the next page and verifies the site did not bounce us
// back to an earlier one. Returns the new page number, or stop=true.
func (c *Collector) advance(sess browser.Session, page int) (int, bool) {
	current, err := sess.Location()
	if err != nil {
		log.Printf("[Collector] cannot resolve current URL: %v", err)
		return 0, true
	}
	next := page + 1
	nextURL := pageURL(current, next)

	c.limiter.Acquire()
	err = sess.Navigate(nextURL)
	c.limiter.Release()
	if err != nil {
		log.Printf("[Collector] failed to open page %d: %v", next, err)
		return 0, true
	}

	// A redirect back to a lower page number means pagination ran out.
	landed, err := sess.Location()
	if err == nil {
		if n := pageNumber(landed); n > 0 && n < next {
			log.Printf("[Collector] redirected to page %d while requesting %d, stopping", n, next)
			return 0, true
		}
	}
	return next, false
}

// pageURL rewrites or appends the p= query parameter.
func pageURL(current string, page int) string {
	p := fmt.Sprintf("p=%d", page)
	if pageParamRe.MatchString(current) {
		return pageParamRe.ReplaceAllString(current, p)
	}
	sep := "?"
	if strings.Contains(current, "?") {
		sep = "&"
	}
	return current + sep + p
}

// pageNumber extracts the p= parameter from a URL, 0 when absent.
func pageNumber(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("p"))
	if err != nil {
		return 0
	}
	return n
}

func cardIDs(cards *goquery.Selection) []string {
	var ids []string
	cards.Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Find(`a[href*='/rent/flat/']`).First().Attr("href")
		if m := offerIDRe.FindStringSubmatch(href); m != nil {
			ids = append(ids, m[1])
		}
	})
	return ids
}

func hasNewID(ids []string, seen map[string]bool) bool {
	for _, id := range ids {
		if !seen[id] {
			return true
		}
	}
	return false
}

func hashIDs(ids []string) uint64 {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func containsHash(hashes []uint64, h uint64) bool {
	for _, v := range hashes {
		if v == h {
			return true
		}
	}
	return false
}
