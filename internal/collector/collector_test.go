package collector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cian-tracker/internal/browser"
	"cian-tracker/internal/ratelimit"
)

// fakeSession serves pre-scripted HTML per URL, with optional redirects.
type fakeSession struct {
	pages     map[string]string
	redirects map[string]string
	location  string
	visited   []string
}

func (f *fakeSession) Navigate(url string) error {
	f.visited = append(f.visited, url)
	if target, ok := f.redirects[url]; ok {
		f.location = target
	} else {
		f.location = url
	}
	if _, ok := f.pages[f.location]; !ok {
		return fmt.Errorf("no page for %s", f.location)
	}
	return nil
}

func (f *fakeSession) ScrollTo(float64) error { return nil }

func (f *fakeSession) HTML() (string, error) {
	html, ok := f.pages[f.location]
	if !ok {
		return "", fmt.Errorf("no page for %s", f.location)
	}
	return html, nil
}

func (f *fakeSession) Location() (string, error) { return f.location, nil }
func (f *fakeSession) Close() error              { return nil }

func card(id, title, price, priceInfo string) string {
	return fmt.Sprintf(`<article data-name="CardComponent">
		<a href="/rent/flat/%s/">link</a>
		<span data-mark="OfferTitle">%s</span>
		<span data-mark="MainPrice">%s</span>
		<p data-mark="PriceInfo">%s</p>
		<a data-name="GeoLabel">Москва</a>
		<a data-name="GeoLabel">ЦАО</a>
		<a data-name="GeoLabel">р-н Хамовники</a>
		<a data-name="GeoLabel">Спортивная</a>
		<a data-name="GeoLabel">улица Льва Толстого</a>
		<a data-name="GeoLabel">16</a>
		<div data-name="Description"><p>Светлая квартира рядом с метро.</p></div>
		<div data-name="TimeLabel"><div class="_93444fe79c--absolute--yut0v"><span>вчера, 12:30</span></div></div>
	</article>`, id, title, price, priceInfo)
}

func page(cards ...string) string {
	return `<html><body><div data-name="Offers">` + strings.Join(cards, "\n") + `</div></body></html>`
}

func sessionFactory(sess *fakeSession) browser.Factory {
	return func() (browser.Session, error) { return sess, nil }
}

func TestCollectDeduplicatesAndStopsOnRepeatedPage(t *testing.T) {
	base := "https://example.test/cat.php?type=4"
	sess := &fakeSession{pages: map[string]string{
		base:          page(card("111", "1-комн. квартира", "50 000 ₽/мес.", "От года"), card("222", "2-комн. квартира", "80 000 ₽/мес.", "От года")),
		base + "&p=2": page(card("222", "2-комн. квартира", "80 000 ₽/мес.", "От года"), card("333", "Студия", "60 000 ₽/мес.", "От года")),
		// Page 3 repeats page 2 exactly: the site ran out of results.
		base + "&p=3": page(card("222", "2-комн. квартира", "80 000 ₽/мес.", "От года"), card("333", "Студия", "60 000 ₽/мес.", "От года")),
	}}

	c := New(sessionFactory(sess), ratelimit.NewLimiter(1, 0, 0))
	listings, err := c.Collect(context.Background(), base, 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 unique listings, got %d", len(listings))
	}
	ids := map[string]bool{}
	for _, l := range listings {
		if ids[l.OfferID] {
			t.Errorf("duplicate offer id %s", l.OfferID)
		}
		ids[l.OfferID] = true
	}
	for _, want := range []string{"111", "222", "333"} {
		if !ids[want] {
			t.Errorf("missing offer id %s", want)
		}
	}
}

func TestCollectStopsOnRedirectToEarlierPage(t *testing.T) {
	base := "https://example.test/cat.php?type=4&p=1"
	sess := &fakeSession{
		pages: map[string]string{
			base: page(card("111", "1-комн. квартира", "50 000 ₽/мес.", "От года")),
		},
		redirects: map[string]string{
			"https://example.test/cat.php?type=4&p=2": base,
		},
	}

	c := New(sessionFactory(sess), ratelimit.NewLimiter(1, 0, 0))
	listings, err := c.Collect(context.Background(), base, 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected 1 listing after redirect stop, got %d", len(listings))
	}
}

func TestCollectHonorsMaxPages(t *testing.T) {
	base := "https://example.test/cat.php?type=4"
	sess := &fakeSession{pages: map[string]string{
		base:          page(card("111", "A", "50 000 ₽/мес.", "")),
		base + "&p=2": page(card("222", "B", "60 000 ₽/мес.", "")),
		base + "&p=3": page(card("333", "C", "70 000 ₽/мес.", "")),
	}}

	c := New(sessionFactory(sess), ratelimit.NewLimiter(1, 0, 0))
	listings, err := c.Collect(context.Background(), base, 2)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings with maxPages=2, got %d", len(listings))
	}
}

func TestParseCardFields(t *testing.T) {
	html := page(card("7312886708", "2-комн. кв., 54 м², 7/9 этаж", "85 000 ₽/мес.",
		"От года, комм. платежи включены, комиссия 50%, залог 85 000 ₽"))
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	sel := doc.Find(`article[data-name='CardComponent']`).First()
	l, err := parseCard(sel, "https://www.cian.ru", now)
	if err != nil {
		t.Fatalf("parseCard: %v", err)
	}

	if l.OfferID != "7312886708" {
		t.Errorf("offer id = %q", l.OfferID)
	}
	if l.OfferURL != "https://www.cian.ru/rent/flat/7312886708/" {
		t.Errorf("offer url = %q", l.OfferURL)
	}
	if l.PriceValue != 85000 {
		t.Errorf("price value = %v", l.PriceValue)
	}
	if l.RentalPeriod != "От года" {
		t.Errorf("rental period = %q", l.RentalPeriod)
	}
	if l.UtilitiesType != "комм. платежи включены" {
		t.Errorf("utilities = %q", l.UtilitiesType)
	}
	if l.CommissionValue != 50 {
		t.Errorf("commission value = %v", l.CommissionValue)
	}
	if l.DepositValue != 85000 {
		t.Errorf("deposit value = %v", l.DepositValue)
	}
	if l.MetroStation != "Спортивная" {
		t.Errorf("metro = %q", l.MetroStation)
	}
	if l.District != "ЦАО" {
		t.Errorf("district = %q", l.District)
	}
	if l.Neighborhood != "р-н Хамовники" {
		t.Errorf("neighborhood = %q", l.Neighborhood)
	}
	if l.Address != "улица Льва Толстого, 16" {
		t.Errorf("address = %q", l.Address)
	}
	if l.UpdatedTime != "2026-03-09 12:30:00" {
		t.Errorf("updated time = %q", l.UpdatedTime)
	}
	if l.Status != "active" || l.UnpublishedDate != "--" {
		t.Errorf("defaults: status=%q unpublished=%q", l.Status, l.UnpublishedDate)
	}
	if !math.IsNaN(l.DistanceKm) {
		t.Errorf("distance should start unset, got %v", l.DistanceKm)
	}
}

func TestPageURL(t *testing.T) {
	cases := []struct {
		in   string
		page int
		want string
	}{
		{"https://x.test/cat.php?type=4", 2, "https://x.test/cat.php?type=4&p=2"},
		{"https://x.test/cat.php?type=4&p=2", 3, "https://x.test/cat.php?type=4&p=3"},
		{"https://x.test/cat.php", 2, "https://x.test/cat.php?p=2"},
	}
	for _, c := range cases {
		if got := pageURL(c.in, c.page); got != c.want {
			t.Errorf("pageURL(%q, %d) = %q, want %q", c.in, c.page, got, c.want)
		}
	}
}
