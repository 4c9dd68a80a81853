package search

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

func parisRegion() crawler.Region {
	return crawler.Region{
		ExternalID: 75,
		Name:       "Paris",
		Kind:       crawler.RegionKindLocality,
		Center:     crawler.Point{Lat: "48.8566", Lng: "2.3522"},
		Viewport: crawler.Viewport{
			NorthEast: crawler.Point{Lat: "48.9", Lng: "2.4"},
			SouthWest: crawler.Point{Lat: "48.8", Lng: "2.3"},
		},
		PostalCodes: []string{"75001"},
	}
}

func TestBuildCoercesCoordinates(t *testing.T) {
	t.Parallel()

	payload, err := Build("medecin-generaliste", parisRegion(), "fr")
	require.NoError(t, err)

	place := payload.Location.Place
	assert.Equal(t, "medecin-generaliste", payload.Keyword)
	assert.Equal(t, int64(75), place.ID)
	assert.Equal(t, "Paris", place.Name)
	assert.Equal(t, "fr", place.Country)
	assert.Equal(t, "locality", place.Type)
	assert.InDelta(t, 48.9, place.Viewport.NorthEast.Lat, 1e-9)
	assert.InDelta(t, 2.4, place.Viewport.NorthEast.Lng, 1e-9)
	assert.InDelta(t, 48.8, place.Viewport.SouthWest.Lat, 1e-9)
	assert.InDelta(t, 2.3, place.Viewport.SouthWest.Lng, 1e-9)
	assert.InDelta(t, 48.8566, place.GPSPoint.Lat, 1e-9)
	assert.InDelta(t, 2.3522, place.GPSPoint.Lng, 1e-9)
	assert.Equal(t, []string{"75001"}, place.Zipcodes)
	assert.Empty(t, payload.Filters)
}

func TestBuildWireShape(t *testing.T) {
	t.Parallel()

	region := parisRegion()
	region.PostalCodes = nil
	payload, err := Build("dentiste", region, "fr")
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	place := decoded["location"].(map[string]any)["place"].(map[string]any)
	assert.Equal(t, []any{}, place["zipcodes"])
	assert.Equal(t, map[string]any{}, decoded["filters"])
	gps := place["gpsPoint"].(map[string]any)
	assert.InDelta(t, 48.8566, gps["lat"], 1e-9)
}

func TestBuildPrefersRegionCountry(t *testing.T) {
	t.Parallel()

	region := parisRegion()
	region.Country = "de"
	payload, err := Build("x", region, "fr")
	require.NoError(t, err)
	assert.Equal(t, "de", payload.Location.Place.Country)
}

func TestBuildRejectsIncompleteRegions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*crawler.Region)
		field  string
	}{
		{"missing id", func(r *crawler.Region) { r.ExternalID = 0 }, "id"},
		{"blank name", func(r *crawler.Region) { r.Name = "  " }, "name"},
		{"missing kind", func(r *crawler.Region) { r.Kind = "" }, "type"},
		{"missing northeast lat", func(r *crawler.Region) { r.Viewport.NorthEast.Lat = "" }, "viewport.northeast.lat"},
		{"bad southwest lng", func(r *crawler.Region) { r.Viewport.SouthWest.Lng = "east" }, "viewport.southwest.lng"},
		{"missing center lng", func(r *crawler.Region) { r.Center.Lng = "" }, "gpsPoint.lng"},
		{"nan center lat", func(r *crawler.Region) { r.Center.Lat = "NaN" }, "gpsPoint.lat"},
		{"infinite northeast lng", func(r *crawler.Region) { r.Viewport.NorthEast.Lng = "Inf" }, "viewport.northeast.lng"},
		{"negative infinity southwest lat", func(r *crawler.Region) { r.Viewport.SouthWest.Lat = "-Infinity" }, "viewport.southwest.lat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			region := parisRegion()
			tt.mutate(&region)

			_, err := Build("x", region, "fr")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRegion))

			var invalid *InvalidRegionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}
