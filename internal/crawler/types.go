package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RegionKind is the place taxonomy used by the directory's search.
type RegionKind string

// Region kinds understood by the search endpoint.
const (
	RegionKindLocality   RegionKind = "locality"
	RegionKindDepartment RegionKind = "department"
	RegionKindCountry    RegionKind = "country"
)

// Valid reports whether k is one of the known region kinds.
func (k RegionKind) Valid() bool {
	switch k {
	case RegionKindLocality, RegionKindDepartment, RegionKindCountry:
		return true
	}
	return false
}

// Coordinate holds a latitude or longitude as delivered upstream. Descriptor
// files mix JSON numbers and numeric strings, so the textual form is kept and
// only parsed when a search payload is built.
type Coordinate string

// CoordinateFromFloat formats f without losing precision.
func CoordinateFromFloat(f float64) Coordinate {
	return Coordinate(strconv.FormatFloat(f, 'f', -1, 64))
}

// IsZero reports whether the coordinate is missing.
func (c Coordinate) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Float64 parses the coordinate.
func (c Coordinate) Float64() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(c)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", string(c), err)
	}
	return v, nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode coordinate: %w", err)
		}
		*c = Coordinate(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode coordinate: %w", err)
	}
	*c = Coordinate(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (c *Coordinate) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == nil {
		*c = ""
		return nil
	}
	*c = Coordinate(fmt.Sprint(raw))
	return nil
}

// Point is a latitude/longitude pair.
type Point struct {
	Lat Coordinate `json:"lat" yaml:"lat"`
	Lng Coordinate `json:"lng" yaml:"lng"`
}

// Viewport is the bounding box of a region.
type Viewport struct {
	NorthEast Point `json:"northeast" yaml:"northeast"`
	SouthWest Point `json:"southwest" yaml:"southwest"`
}

// Region is a geographic search anchor. The pipeline treats it as read-only.
type Region struct {
	ID            int64
	ExternalID    int64
	Name          string
	PlaceID       string
	Kind          RegionKind
	Country       string
	Center        Point
	Viewport      Viewport
	PostalCodes   []string
	LastScrapedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProviderRecord is the canonical form of one directory entry, either an
// individual practitioner or an organization.
type ProviderRecord struct {
	ExternalID string
	ProfileURL string

	FirstName        *string
	LastName         *string
	OrganizationName *string
	Title            *string
	Gender           *string

	Specialty        string
	SpecialtySlug    string
	RegulationSector string
	PractitionerType string

	Address    string
	City       string
	PostalCode string
	Latitude   *float64
	Longitude  *float64

	ReferenceID *int64
	PracticeID  *int64
	LegacyID    string

	OffersOnlineBooking  bool
	OffersTelehealth     bool
	AcceptsNewPatients   bool
	OnlineBookingDetails json.RawMessage

	PaymentMethods      []string
	Languages           []string
	Services            []string
	AdministrativeAreas []string

	VisitMotiveID              *int64
	VisitMotiveName            *string
	VisitMotiveAgendaIDs       []int64
	VisitMotiveInsuranceSector json.RawMessage

	OrganizationStatus string
	ImageReferenceID   string
	ExactMatch         bool
	MinimumFee         *float64

	RegionID int64

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt time.Time
}

// IsOrganization is derived from the name assignment made during
// normalization: organizations carry OrganizationName and never LastName.
func (r ProviderRecord) IsOrganization() bool {
	return r.OrganizationName != nil
}

// DisplayName returns the best human-readable name for log lines.
func (r ProviderRecord) DisplayName() string {
	switch {
	case r.OrganizationName != nil:
		return *r.OrganizationName
	case r.LastName != nil && r.FirstName != nil:
		return *r.FirstName + " " + *r.LastName
	case r.LastName != nil:
		return *r.LastName
	default:
		return "unknown"
	}
}

// SearchPayload is the JSON body of one search request.
type SearchPayload struct {
	Keyword  string         `json:"keyword"`
	Location SearchLocation `json:"location"`
	Filters  map[string]any `json:"filters"`
}

// SearchLocation wraps the place being searched.
type SearchLocation struct {
	Place SearchPlace `json:"place"`
}

// SearchPlace is the wire form of a Region.
type SearchPlace struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Country  string         `json:"country"`
	Type     string         `json:"type"`
	Viewport SearchViewport `json:"viewport"`
	GPSPoint SearchPoint    `json:"gpsPoint"`
	Zipcodes []string       `json:"zipcodes"`
}

// SearchViewport is the wire form of a Viewport.
type SearchViewport struct {
	NorthEast SearchPoint `json:"northeast"`
	SouthWest SearchPoint `json:"southwest"`
}

// SearchPoint carries coordinates already coerced to float.
type SearchPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SearchPage is one page of raw results.
type SearchPage struct {
	Index      int
	Providers  []map[string]any
	// Dropped counts provider entries that were not JSON objects.
	Dropped    int
	Total      *int
	Body       []byte
	StatusCode int
	Duration   time.Duration
}

// Empty reports whether the page carried no provider entries at all.
func (p SearchPage) Empty() bool {
	return len(p.Providers) == 0 && p.Dropped == 0
}

// UpsertOutcome tells callers whether an upsert created or refreshed a row.
type UpsertOutcome int

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = iota + 1
	UpsertUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unknown"
	}
}
