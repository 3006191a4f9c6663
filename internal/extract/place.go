package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// ErrMissingField is returned when a place page lacks its name.
var ErrMissingField = errors.New("required field missing")

var (
	placeCoords = regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`)
	viewCoords  = regexp.MustCompile(`@(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)`)
)

// Selectors locate each field on a place detail page.
type Selectors struct {
	Name        string `mapstructure:"name"`
	Address     string `mapstructure:"address"`
	Phone       string `mapstructure:"phone"`
	Website     string `mapstructure:"website"`
	Rating      string `mapstructure:"rating"`
	ReviewCount string `mapstructure:"review_count"`
	Category    string `mapstructure:"category"`
}

// DefaultSelectors returns the Google Maps place panel selectors.
func DefaultSelectors() Selectors {
	return Selectors{
		Name:        "h1",
		Address:     `button[data-item-id="address"]`,
		Phone:       `button[data-item-id^="phone:tel:"]`,
		Website:     `a[data-item-id="authority"]`,
		Rating:      `div.F7nice span[aria-hidden="true"]`,
		ReviewCount: `div.F7nice span[aria-label*="review"]`,
		Category:    `button[jsaction*="category"]`,
	}
}

// PlaceExtractor reads a Record from a rendered place page.
type PlaceExtractor struct {
	sel     Selectors
	limiter *rate.Limiter
}

// NewPlaceExtractor constructs a PlaceExtractor. navQPS > 0 throttles
// navigations across every worker sharing the extractor.
func NewPlaceExtractor(sel Selectors, navQPS float64) *PlaceExtractor {
	def := DefaultSelectors()
	if sel.Name == "" {
		sel.Name = def.Name
	}
	if sel.Address == "" {
		sel.Address = def.Address
	}
	if sel.Phone == "" {
		sel.Phone = def.Phone
	}
	if sel.Website == "" {
		sel.Website = def.Website
	}
	if sel.Rating == "" {
		sel.Rating = def.Rating
	}
	if sel.ReviewCount == "" {
		sel.ReviewCount = def.ReviewCount
	}
	if sel.Category == "" {
		sel.Category = def.Category
	}
	var limiter *rate.Limiter
	if navQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(navQPS), 1)
	}
	return &PlaceExtractor{sel: sel, limiter: limiter}
}

// Extract implements scrape.PageExtractor.
func (e *PlaceExtractor) Extract(
	ctx context.Context,
	rc scrape.RenderContext,
	item scrape.WorkItem,
) (*scrape.Record, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait limiter: %w", err)
		}
	}
	if err := rc.Navigate(ctx, string(item)); err != nil {
		return nil, fmt.Errorf("navigate place: %w", err)
	}
	if err := rc.WaitVisible(ctx, e.sel.Name); err != nil {
		return nil, fmt.Errorf("wait place name: %w", err)
	}

	name, err := rc.Text(ctx, e.sel.Name)
	if err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingField
	}

	rec := &scrape.Record{Name: name, URL: string(item)}
	rec.Address = cleanLabel(e.text(ctx, rc, e.sel.Address), "Address:")
	rec.Phone = cleanLabel(e.text(ctx, rc, e.sel.Phone), "Phone:")
	rec.Category = strings.TrimSpace(e.text(ctx, rc, e.sel.Category))
	if website, werr := rc.Attribute(ctx, e.sel.Website, "href"); werr == nil {
		rec.Website = strings.TrimSpace(website)
	}
	rec.Rating = parseRating(e.text(ctx, rc, e.sel.Rating))
	rec.ReviewCount = parseCount(e.text(ctx, rc, e.sel.ReviewCount))

	locator := string(item)
	if loc, lerr := rc.Location(ctx); lerr == nil && loc != "" {
		locator = loc
	}
	rec.Latitude, rec.Longitude = parseCoordinates(locator)
	if rec.Latitude == 0 && rec.Longitude == 0 {
		rec.Latitude, rec.Longitude = parseCoordinates(string(item))
	}
	return rec, nil
}

// text reads an optional field; lookup failures leave it empty.
func (e *PlaceExtractor) text(ctx context.Context, rc scrape.RenderContext, selector string) string {
	v, err := rc.Text(ctx, selector)
	if err != nil {
		return ""
	}
	return v
}

// cleanLabel strips icon glyphs and an optional "Label:" prefix.
func cleanLabel(v, label string) string {
	v = strings.TrimLeftFunc(v, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '('
	})
	v = strings.TrimPrefix(v, label)
	return strings.TrimSpace(v)
}

func parseRating(v string) float64 {
	v = strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseCount(v string) int {
	var digits strings.Builder
	for _, r := range v {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// parseCoordinates pulls lat/lng from a place URL, preferring the precise
// !3d!4d pin over the @lat,lng viewport centre.
func parseCoordinates(locator string) (float64, float64) {
	m := placeCoords.FindStringSubmatch(locator)
	if m == nil {
		m = viewCoords.FindStringSubmatch(locator)
	}
	if m == nil {
		return 0, 0
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0
	}
	return lat, lng
}
