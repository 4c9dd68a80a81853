// Package search builds search payloads and interprets search responses. It is
// shared by every crawler.SearchSource implementation.
package search

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// ErrInvalidRegion matches every InvalidRegionError.
var ErrInvalidRegion = errors.New("invalid region")

// InvalidRegionError reports a region that cannot be turned into a payload.
type InvalidRegionError struct {
	ExternalID int64
	Field      string
	Err        error
}

func (e *InvalidRegionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid region %d: %s: %v", e.ExternalID, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid region %d: %s is required", e.ExternalID, e.Field)
}

func (e *InvalidRegionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidRegion) match.
func (e *InvalidRegionError) Is(target error) bool {
	return target == ErrInvalidRegion
}

type coordField struct {
	field string
	value crawler.Coordinate
	dst   *float64
}

// Build turns a keyword and region into the body of a search request. The
// region's country wins over defaultCountry when set.
func Build(keyword string, region crawler.Region, defaultCountry string) (crawler.SearchPayload, error) {
	invalid := func(field string, err error) error {
		return &InvalidRegionError{ExternalID: region.ExternalID, Field: field, Err: err}
	}
	if region.ExternalID == 0 {
		return crawler.SearchPayload{}, invalid("id", nil)
	}
	if strings.TrimSpace(region.Name) == "" {
		return crawler.SearchPayload{}, invalid("name", nil)
	}
	if region.Kind == "" {
		return crawler.SearchPayload{}, invalid("type", nil)
	}

	var ne, sw, center crawler.SearchPoint
	coords := []coordField{
		{"viewport.northeast.lat", region.Viewport.NorthEast.Lat, &ne.Lat},
		{"viewport.northeast.lng", region.Viewport.NorthEast.Lng, &ne.Lng},
		{"viewport.southwest.lat", region.Viewport.SouthWest.Lat, &sw.Lat},
		{"viewport.southwest.lng", region.Viewport.SouthWest.Lng, &sw.Lng},
		{"gpsPoint.lat", region.Center.Lat, &center.Lat},
		{"gpsPoint.lng", region.Center.Lng, &center.Lng},
	}
	for _, c := range coords {
		if c.value.IsZero() {
			return crawler.SearchPayload{}, invalid(c.field, nil)
		}
		v, err := c.value.Float64()
		if err != nil {
			return crawler.SearchPayload{}, invalid(c.field, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return crawler.SearchPayload{}, invalid(c.field, fmt.Errorf("coordinate %q is not finite", c.value))
		}
		*c.dst = v
	}

	country := region.Country
	if country == "" {
		country = defaultCountry
	}
	zipcodes := make([]string, len(region.PostalCodes))
	copy(zipcodes, region.PostalCodes)

	return crawler.SearchPayload{
		Keyword: keyword,
		Location: crawler.SearchLocation{
			Place: crawler.SearchPlace{
				ID:      region.ExternalID,
				Name:    region.Name,
				Country: country,
				Type:    string(region.Kind),
				Viewport: crawler.SearchViewport{
					NorthEast: ne,
					SouthWest: sw,
				},
				GPSPoint: center,
				Zipcodes: zipcodes,
			},
		},
		Filters: map[string]any{},
	}, nil
}
