package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

const (
	defaultProviderLimit = 100
	maxProviderLimit     = 1000
)

// ListRegions handles GET /v1/regions and returns {"regions": [...]}.
func (s *Server) ListRegions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	regions, err := s.regions.ListRegions(ctx)
	if err != nil {
		s.logger.Error("list regions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list regions")
		return
	}
	out := make([]regionDTO, 0, len(regions))
	for _, region := range regions {
		out = append(out, toRegionDTO(region))
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": out})
}

// GetRegion handles GET /v1/regions/{external_id}. It returns 400 for a
// non-numeric id and 404 when the region is unknown.
func (s *Server) GetRegion(w http.ResponseWriter, r *http.Request) {
	externalID, err := strconv.ParseInt(chi.URLParam(r, "external_id"), 10, 64)
	if err != nil || externalID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid external_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	region, err := s.regions.GetRegionByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "region not found")
			return
		}
		s.logger.Error("get region failed", zap.Int64("external_id", externalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load region")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": toRegionDTO(region)})
}

// ListProviders handles GET /v1/providers?region=&limit=&offset=. region is a
// region external id; an unknown region yields 404.
func (s *Server) ListProviders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultProviderLimit, maxProviderLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	filter := crawler.ProviderFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("region")); raw != "" {
		externalID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || externalID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid region")
			return
		}
		region, err := s.regions.GetRegionByExternalID(ctx, externalID)
		if err != nil {
			if errors.Is(err, crawler.ErrNotFound) {
				writeError(w, http.StatusNotFound, "region not found")
				return
			}
			s.logger.Error("resolve region failed", zap.Int64("external_id", externalID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load region")
			return
		}
		filter.RegionID = region.ID
	}

	records, err := s.providers.ListProviders(ctx, filter)
	if err != nil {
		s.logger.Error("list providers failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	out := make([]providerDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toProviderDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": out,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetProvider handles GET /v1/providers/{external_id}.
func (s *Server) GetProvider(w http.ResponseWriter, r *http.Request) {
	externalID := strings.TrimSpace(chi.URLParam(r, "external_id"))
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rec, err := s.providers.GetProvider(ctx, externalID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.logger.Error("get provider failed", zap.String("external_id", externalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": toProviderDTO(rec)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type pointDTO struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

type regionDTO struct {
	ID            int64      `json:"id"`
	ExternalID    int64      `json:"external_id"`
	Name          string     `json:"name"`
	PlaceID       string     `json:"place_id,omitempty"`
	Kind          string     `json:"kind"`
	Country       string     `json:"country,omitempty"`
	Center        pointDTO   `json:"center"`
	NorthEast     pointDTO   `json:"viewport_northeast"`
	SouthWest     pointDTO   `json:"viewport_southwest"`
	PostalCodes   []string   `json:"postal_codes"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toPointDTO(p crawler.Point) pointDTO {
	return pointDTO{Lat: string(p.Lat), Lng: string(p.Lng)}
}

func toRegionDTO(r crawler.Region) regionDTO {
	postal := r.PostalCodes
	if postal == nil {
		postal = []string{}
	}
	return regionDTO{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Name:          r.Name,
		PlaceID:       r.PlaceID,
		Kind:          string(r.Kind),
		Country:       r.Country,
		Center:        toPointDTO(r.Center),
		NorthEast:     toPointDTO(r.Viewport.NorthEast),
		SouthWest:     toPointDTO(r.Viewport.SouthWest),
		PostalCodes:   postal,
		LastScrapedAt: r.LastScrapedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type providerDTO struct {
	ExternalID                 string          `json:"external_id"`
	ProfileURL                 string          `json:"profile_url"`
	IsOrganization             bool            `json:"is_organization"`
	FirstName                  *string         `json:"first_name"`
	LastName                   *string         `json:"last_name"`
	OrganizationName           *string         `json:"organization_name"`
	Title                      *string         `json:"title"`
	Gender                     *string         `json:"gender"`
	Specialty                  string          `json:"specialty"`
	SpecialtySlug              string          `json:"specialty_slug"`
	RegulationSector           string          `json:"regulation_sector"`
	PractitionerType           string          `json:"practitioner_type"`
	Address                    string          `json:"address"`
	City                       string          `json:"city"`
	PostalCode                 string          `json:"postal_code"`
	Latitude                   *float64        `json:"latitude"`
	Longitude                  *float64        `json:"longitude"`
	ReferenceID                *int64          `json:"reference_id"`
	PracticeID                 *int64          `json:"practice_id"`
	LegacyID                   string          `json:"legacy_id"`
	OffersOnlineBooking        bool            `json:"offers_online_booking"`
	OffersTelehealth           bool            `json:"offers_telehealth"`
	AcceptsNewPatients         bool            `json:"accepts_new_patients"`
	OnlineBookingDetails       json.RawMessage `json:"online_booking_details,omitempty"`
	PaymentMethods             []string        `json:"payment_methods"`
	Languages                  []string        `json:"languages"`
	Services                   []string        `json:"services"`
	AdministrativeAreas        []string        `json:"administrative_areas"`
	VisitMotiveID              *int64          `json:"visit_motive_id"`
	VisitMotiveName            *string         `json:"visit_motive_name"`
	VisitMotiveAgendaIDs       []int64         `json:"visit_motive_agenda_ids"`
	VisitMotiveInsuranceSector json.RawMessage `json:"visit_motive_insurance_sector,omitempty"`
	OrganizationStatus         string          `json:"organization_status"`
	ImageReferenceID           string          `json:"image_reference_id"`
	ExactMatch                 bool            `json:"exact_match"`
	MinimumFee                 *float64        `json:"minimum_fee"`
	RegionID                   int64           `json:"region_id"`
	CreatedAt                  time.Time       `json:"created_at"`
	UpdatedAt                  time.Time       `json:"updated_at"`
	LastSeenAt                 time.Time       `json:"last_seen_at"`
}

func toProviderDTO(r crawler.ProviderRecord) providerDTO {
	return providerDTO{
		ExternalID:                 r.ExternalID,
		ProfileURL:                 r.ProfileURL,
		IsOrganization:             r.IsOrganization(),
		FirstName:                  r.FirstName,
		LastName:                   r.LastName,
		OrganizationName:           r.OrganizationName,
		Title:                      r.Title,
		Gender:                     r.Gender,
		Specialty:                  r.Specialty,
		SpecialtySlug:              r.SpecialtySlug,
		RegulationSector:           r.RegulationSector,
		PractitionerType:           r.PractitionerType,
		Address:                    r.Address,
		City:                       r.City,
		PostalCode:                 r.PostalCode,
		Latitude:                   r.Latitude,
		Longitude:                  r.Longitude,
		ReferenceID:                r.ReferenceID,
		PracticeID:                 r.PracticeID,
		LegacyID:                   r.LegacyID,
		OffersOnlineBooking:        r.OffersOnlineBooking,
		OffersTelehealth:           r.OffersTelehealth,
		AcceptsNewPatients:         r.AcceptsNewPatients,
		OnlineBookingDetails:       r.OnlineBookingDetails,
		PaymentMethods:             r.PaymentMethods,
		Languages:                  r.Languages,
		Services:                   r.Services,
		AdministrativeAreas:        r.AdministrativeAreas,
		VisitMotiveID:              r.VisitMotiveID,
		VisitMotiveName:            r.VisitMotiveName,
		VisitMotiveAgendaIDs:       r.VisitMotiveAgendaIDs,
		VisitMotiveInsuranceSector: r.VisitMotiveInsuranceSector,
		OrganizationStatus:         r.OrganizationStatus,
		ImageReferenceID:           r.ImageReferenceID,
		ExactMatch:                 r.ExactMatch,
		MinimumFee:                 r.MinimumFee,
		RegionID:                   r.RegionID,
		CreatedAt:                  r.CreatedAt,
		UpdatedAt:                  r.UpdatedAt,
		LastSeenAt:                 r.LastSeenAt,
	}
}
