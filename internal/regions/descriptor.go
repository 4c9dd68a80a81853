// Package regions reads region descriptor files and loads them into the
// region store.
//
// A descriptor has the same shape as the search request's location wrapper:
//
//	{"location": {"place": {"id": 75056, "name": "Paris", "type": "locality", ...}}}
//
// JSON and YAML files are accepted. Coordinates may be numbers or numeric
// strings; they are kept verbatim and only parsed when a search is built.
package regions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// ErrInvalidDescriptor marks files that parse but lack required fields.
var ErrInvalidDescriptor = errors.New("invalid region descriptor")

// Descriptor is the on-disk document.
type Descriptor struct {
	Location struct {
		Place Place `json:"place" yaml:"place"`
	} `json:"location" yaml:"location"`
}

// Place mirrors the search payload's place object.
type Place struct {
	ID       int64            `json:"id" yaml:"id"`
	Name     string           `json:"name" yaml:"name"`
	PlaceID  string           `json:"placeId" yaml:"placeId"`
	Type     string           `json:"type" yaml:"type"`
	Country  string           `json:"country" yaml:"country"`
	GPSPoint crawler.Point    `json:"gpsPoint" yaml:"gpsPoint"`
	Viewport crawler.Viewport `json:"viewport" yaml:"viewport"`
	Zipcodes []string         `json:"zipcodes" yaml:"zipcodes"`
}

// Region converts the descriptor, enforcing the fields every search needs.
func (d Descriptor) Region() (crawler.Region, error) {
	p := d.Location.Place
	var missing []string
	if p.ID == 0 {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if !crawler.RegionKind(p.Type).Valid() {
		missing = append(missing, "type")
	}
	if p.GPSPoint.Lat.IsZero() || p.GPSPoint.Lng.IsZero() {
		missing = append(missing, "gpsPoint")
	}
	if len(missing) > 0 {
		return crawler.Region{}, fmt.Errorf("%w: missing or bad %s", ErrInvalidDescriptor, strings.Join(missing, ", "))
	}
	zipcodes := p.Zipcodes
	if zipcodes == nil {
		zipcodes = []string{}
	}
	return crawler.Region{
		ExternalID:  p.ID,
		Name:        strings.TrimSpace(p.Name),
		PlaceID:     p.PlaceID,
		Kind:        crawler.RegionKind(p.Type),
		Country:     p.Country,
		Center:      p.GPSPoint,
		Viewport:    p.Viewport,
		PostalCodes: zipcodes,
	}, nil
}

// Parse decodes one descriptor. format is "json" or "yaml"; anything else is
// sniffed from the first non-space byte.
func Parse(data []byte, format string) (crawler.Region, error) {
	var d Descriptor
	switch strings.ToLower(format) {
	case "json":
	case "yaml", "yml":
	default:
		format = "yaml"
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = "json"
		}
	}
	if format == "json" {
		if err := json.Unmarshal(data, &d); err != nil {
			return crawler.Region{}, fmt.Errorf("decode json descriptor: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &d); err != nil {
			return crawler.Region{}, fmt.Errorf("decode yaml descriptor: %w", err)
		}
	}
	return d.Region()
}

// ParseFile reads and decodes the descriptor at path.
func ParseFile(path string) (crawler.Region, error) {
	// #nosec G304 -- descriptor paths come from the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.Region{}, fmt.Errorf("read descriptor: %w", err)
	}
	region, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return crawler.Region{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return region, nil
}

// Files lists descriptor files in dir in lexical order.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read descriptor directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
