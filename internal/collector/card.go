package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cian-tracker/internal/models"
	"cian-tracker/internal/rudate"
)

var (
	offerIDRe    = regexp.MustCompile(`/rent/flat/(\d+)/`)
	commissionRe = regexp.MustCompile(`комиссия\s+(\d+)%`)
	depositRe    = regexp.MustCompile(`залог\s+([\d\s\x{00a0}]+)\s*₽`)
	totalFoundRe = regexp.MustCompile(`Найдено\s+(\d+)`)
	spaceRe      = regexp.MustCompile(`\s`)
)

// parseCard extracts one listing from a search-result card. Returns an error
// when the card carries no offer id; such cards are skipped by the caller.
func parseCard(card *goquery.Selection, urlBase string, now time.Time) (models.Listing, error) {
	l := models.NewListing("")

	if link := card.Find(`a[href*='/rent/flat/']`).First(); link.Length() > 0 {
		href, _ := link.Attr("href")
		if strings.HasPrefix(href, "/") {
			l.OfferURL = urlBase + href
		} else {
			l.OfferURL = href
		}
		if m := offerIDRe.FindStringSubmatch(href); m != nil {
			l.OfferID = m[1]
		}
	}
	if l.OfferID == "" {
		return l, fmt.Errorf("card has no offer id")
	}

	l.Title = text(card, `[data-mark="OfferTitle"]`)
	l.Price = text(card, `[data-mark="MainPrice"]`)
	l.PriceValue = models.ParsePriceValue(l.Price)

	priceInfo := text(card, `[data-mark="PriceInfo"]`)
	l.PriceInfo = priceInfo
	applyPriceInfo(&l, priceInfo)

	// Metro from the special geo block; overridden below when the labelled
	// geo chain carries a station name.
	if metro := text(card, `div[data-name="SpecialGeo"]`); metro != "" {
		if idx := strings.Index(metro, "мин"); idx >= 0 {
			metro = strings.TrimSpace(metro[:idx])
		}
		l.MetroStation = metro
	}

	// Geo labels come ordered: city, district, neighborhood, metro, street,
	// building. Trailing entries are absent on some cards.
	var labels []string
	card.Find(`a[data-name="GeoLabel"]`).Each(func(_ int, s *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(s.Text()))
	})
	if len(labels) > 3 {
		l.MetroStation = labels[3]
	}
	if len(labels) > 2 {
		l.Neighborhood = labels[2]
	}
	if len(labels) > 1 {
		l.District = labels[1]
	}
	var street, building string
	if len(labels) > 4 {
		street = labels[4]
	}
	if len(labels) > 5 {
		building = labels[5]
	}
	l.Address = strings.Trim(strings.TrimSpace(street+", "+building), ", ")

	l.Description = text(card, `div[data-name="Description"] p`)
	if raw := text(card, `div[data-name="TimeLabel"] div._93444fe79c--absolute--yut0v span`); raw != "" {
		l.UpdatedTime = rudate.Parse(raw, now)
	}

	card.Find(`img._93444fe79c--container--KIwW4`).Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			l.ImageURLs = append(l.ImageURLs, src)
		}
	})

	return l, nil
}

// applyPriceInfo splits the comma-separated price summary into rental period,
// utilities, commission and deposit fields, pulling numeric values where the
// text carries them.
func applyPriceInfo(l *models.Listing, priceInfo string) {
	if priceInfo == "" {
		return
	}
	for _, part := range strings.Split(priceInfo, ",") {
		p := strings.TrimSpace(part)
		switch {
		case p == "От года" || p == "На несколько месяцев":
			l.RentalPeriod = p
		case strings.Contains(p, "комм. платежи"):
			l.UtilitiesType = p
		case strings.Contains(p, "комиссия") || strings.Contains(p, "без комиссии"):
			l.CommissionInfo = p
			if strings.Contains(p, "без комиссии") {
				l.CommissionValue = 0
			} else if m := commissionRe.FindStringSubmatch(p); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					l.CommissionValue = v
				}
			}
		case strings.Contains(p, "залог") || strings.Contains(p, "без залога"):
			l.DepositInfo = p
			if strings.Contains(p, "без залога") {
				l.DepositValue = 0
			} else if m := depositRe.FindStringSubmatch(p); m != nil {
				clean := spaceRe.ReplaceAllString(m[1], "")
				if v, err := strconv.ParseFloat(clean, 64); err == nil {
					l.DepositValue = v
				}
			}
		}
	}
}

// totalListings reads the result count from the summary header, 0 when the
// header is absent.
func totalListings(doc *goquery.Document) int {
	header := text(doc.Selection, `[data-testid="SummaryHeader"] h5`)
	header = strings.ReplaceAll(header, " ", "")
	if m := totalFoundRe.FindStringSubmatch(header); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}
