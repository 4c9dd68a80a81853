// Package memory keeps regions, providers and archived pages in process
// memory. It backs dry runs and the pipeline tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/provider-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// Store implements the provider and region stores with upsert semantics that
// match the Postgres backend.
type Store struct {
	mu        sync.RWMutex
	clock     crawler.Clock
	nextID    int64
	providers map[string]crawler.ProviderRecord
	regions   map[int64]crawler.Region
	upserts   int
}

// NewStore creates an empty Store. A nil clock uses the system clock.
func NewStore(clk crawler.Clock) *Store {
	if clk == nil {
		clk = system.New()
	}
	return &Store{
		clock:     clk,
		providers: make(map[string]crawler.ProviderRecord),
		regions:   make(map[int64]crawler.Region),
	}
}

// Upsert stores rec under its external id. CreatedAt survives updates.
func (s *Store) Upsert(_ context.Context, rec crawler.ProviderRecord) (crawler.UpsertOutcome, error) {
	if strings.TrimSpace(rec.ExternalID) == "" {
		return 0, &crawler.PersistError{ExternalID: rec.ExternalID, Op: "validate", Err: errors.New("external id is required")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rec = cloneProvider(rec)
	rec.UpdatedAt = now
	rec.LastSeenAt = now
	s.upserts++

	existing, ok := s.providers[rec.ExternalID]
	if ok {
		rec.CreatedAt = existing.CreatedAt
		s.providers[rec.ExternalID] = rec
		return crawler.UpsertUpdated, nil
	}
	rec.CreatedAt = now
	s.providers[rec.ExternalID] = rec
	return crawler.UpsertInserted, nil
}

// GetProvider returns a copy of the stored record.
func (s *Store) GetProvider(_ context.Context, externalID string) (crawler.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.providers[externalID]
	if !ok {
		return crawler.ProviderRecord{}, crawler.ErrNotFound
	}
	return cloneProvider(rec), nil
}

// ListProviders returns records ordered by external id.
func (s *Store) ListProviders(_ context.Context, filter crawler.ProviderFilter) ([]crawler.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []crawler.ProviderRecord{}
	for _, rec := range s.providers {
		if filter.RegionID != 0 && rec.RegionID != filter.RegionID {
			continue
		}
		out = append(out, cloneProvider(rec))
	}
	slices.SortFunc(out, func(a, b crawler.ProviderRecord) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []crawler.ProviderRecord{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len reports the number of distinct providers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.providers)
}

// Upserts reports how many provider upserts succeeded.
func (s *Store) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// UpsertRegion stores region keyed by ExternalID and assigns a surrogate id.
func (s *Store) UpsertRegion(_ context.Context, region crawler.Region) (crawler.Region, crawler.UpsertOutcome, error) {
	if region.ExternalID == 0 {
		return crawler.Region{}, 0, errors.New("region external id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	region.PostalCodes = append([]string{}, region.PostalCodes...)
	region.UpdatedAt = now
	if existing, ok := s.regions[region.ExternalID]; ok {
		region.ID = existing.ID
		region.CreatedAt = existing.CreatedAt
		region.LastScrapedAt = existing.LastScrapedAt
		s.regions[region.ExternalID] = region
		return region, crawler.UpsertUpdated, nil
	}
	s.nextID++
	region.ID = s.nextID
	region.CreatedAt = now
	region.LastScrapedAt = nil
	s.regions[region.ExternalID] = region
	return region, crawler.UpsertInserted, nil
}

// ListRegions returns regions ordered by external id.
func (s *Store) ListRegions(_ context.Context) ([]crawler.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b crawler.Region) int {
		switch {
		case a.ExternalID < b.ExternalID:
			return -1
		case a.ExternalID > b.ExternalID:
			return 1
		}
		return 0
	})
	return out, nil
}

// GetRegionByExternalID returns one region.
func (s *Store) GetRegionByExternalID(_ context.Context, externalID int64) (crawler.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[externalID]
	if !ok {
		return crawler.Region{}, crawler.ErrNotFound
	}
	return r, nil
}

// MarkRegionScraped stamps the region with the given surrogate id.
func (s *Store) MarkRegionScraped(_ context.Context, regionID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.regions {
		if r.ID != regionID {
			continue
		}
		ts := at
		r.LastScrapedAt = &ts
		r.UpdatedAt = at
		s.regions[key] = r
		return nil
	}
	return crawler.ErrNotFound
}

func cloneProvider(rec crawler.ProviderRecord) crawler.ProviderRecord {
	rec.PaymentMethods = slices.Clone(rec.PaymentMethods)
	rec.Languages = slices.Clone(rec.Languages)
	rec.Services = slices.Clone(rec.Services)
	rec.AdministrativeAreas = slices.Clone(rec.AdministrativeAreas)
	rec.VisitMotiveAgendaIDs = slices.Clone(rec.VisitMotiveAgendaIDs)
	rec.OnlineBookingDetails = slices.Clone(rec.OnlineBookingDetails)
	rec.VisitMotiveInsuranceSector = slices.Clone(rec.VisitMotiveInsuranceSector)
	return rec
}

var (
	_ crawler.ProviderStore  = (*Store)(nil)
	_ crawler.ProviderReader = (*Store)(nil)
	_ crawler.RegionStore    = (*Store)(nil)
)
