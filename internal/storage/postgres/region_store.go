package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

const regionSelect = `SELECT id, external_id, name, place_id, kind, country,
	center_lat, center_lng, viewport_ne_lat, viewport_ne_lng, viewport_sw_lat, viewport_sw_lng,
	postal_codes, last_scraped_at, created_at, updated_at
FROM regions`

const upsertRegionSQL = `INSERT INTO regions (
	external_id, name, place_id, kind, country,
	center_lat, center_lng, viewport_ne_lat, viewport_ne_lng, viewport_sw_lat, viewport_sw_lng,
	postal_codes, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (external_id) DO UPDATE SET
	name = EXCLUDED.name,
	place_id = EXCLUDED.place_id,
	kind = EXCLUDED.kind,
	country = EXCLUDED.country,
	center_lat = EXCLUDED.center_lat,
	center_lng = EXCLUDED.center_lng,
	viewport_ne_lat = EXCLUDED.viewport_ne_lat,
	viewport_ne_lng = EXCLUDED.viewport_ne_lng,
	viewport_sw_lat = EXCLUDED.viewport_sw_lat,
	viewport_sw_lng = EXCLUDED.viewport_sw_lng,
	postal_codes = EXCLUDED.postal_codes,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at, last_scraped_at, (xmax = 0) AS inserted`

// RegionStore persists region descriptors.
type RegionStore struct {
	db    DB
	clock crawler.Clock
}

// NewRegionStore wraps db. A nil clock uses the system clock.
func NewRegionStore(db DB, clk crawler.Clock) (*RegionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &RegionStore{db: db, clock: clockOrSystem(clk)}, nil
}

// UpsertRegion inserts or refreshes a region keyed by its external id and
// returns it with the surrogate id filled in.
func (s *RegionStore) UpsertRegion(ctx context.Context, region crawler.Region) (crawler.Region, crawler.UpsertOutcome, error) {
	if region.ExternalID == 0 {
		return crawler.Region{}, 0, fmt.Errorf("region external id is required")
	}
	postal := region.PostalCodes
	if postal == nil {
		postal = []string{}
	}
	now := s.clock.Now()
	var inserted bool
	err := s.db.QueryRow(ctx, upsertRegionSQL,
		region.ExternalID,
		region.Name,
		region.PlaceID,
		string(region.Kind),
		region.Country,
		string(region.Center.Lat),
		string(region.Center.Lng),
		string(region.Viewport.NorthEast.Lat),
		string(region.Viewport.NorthEast.Lng),
		string(region.Viewport.SouthWest.Lat),
		string(region.Viewport.SouthWest.Lng),
		postal,
		now,
	).Scan(&region.ID, &region.CreatedAt, &region.UpdatedAt, &region.LastScrapedAt, &inserted)
	if err != nil {
		return crawler.Region{}, 0, fmt.Errorf("upsert region %d: %w", region.ExternalID, err)
	}
	region.PostalCodes = postal
	outcome := crawler.UpsertUpdated
	if inserted {
		outcome = crawler.UpsertInserted
	}
	return region, outcome, nil
}

// ListRegions returns every region ordered by external id.
func (s *RegionStore) ListRegions(ctx context.Context) ([]crawler.Region, error) {
	rows, err := s.db.Query(ctx, regionSelect+" ORDER BY external_id")
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	out := []crawler.Region{}
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan region row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return out, nil
}

// GetRegionByExternalID loads one region.
func (s *RegionStore) GetRegionByExternalID(ctx context.Context, externalID int64) (crawler.Region, error) {
	r, err := scanRegion(s.db.QueryRow(ctx, regionSelect+" WHERE external_id = $1", externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Region{}, crawler.ErrNotFound
		}
		return crawler.Region{}, fmt.Errorf("get region %d: %w", externalID, err)
	}
	return r, nil
}

// MarkRegionScraped records when a region's scrape finished.
func (s *RegionStore) MarkRegionScraped(ctx context.Context, regionID int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE regions SET last_scraped_at = $1, updated_at = $1 WHERE id = $2`, at, regionID)
	if err != nil {
		return fmt.Errorf("mark region %d scraped: %w", regionID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func scanRegion(row scanner) (crawler.Region, error) {
	var (
		r                          crawler.Region
		kind                       string
		centerLat, centerLng       string
		neLat, neLng, swLat, swLng string
	)
	err := row.Scan(
		&r.ID,
		&r.ExternalID,
		&r.Name,
		&r.PlaceID,
		&kind,
		&r.Country,
		&centerLat,
		&centerLng,
		&neLat,
		&neLng,
		&swLat,
		&swLng,
		&r.PostalCodes,
		&r.LastScrapedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return crawler.Region{}, err
	}
	r.Kind = crawler.RegionKind(kind)
	r.Center = crawler.Point{Lat: crawler.Coordinate(centerLat), Lng: crawler.Coordinate(centerLng)}
	r.Viewport = crawler.Viewport{
		NorthEast: crawler.Point{Lat: crawler.Coordinate(neLat), Lng: crawler.Coordinate(neLng)},
		SouthWest: crawler.Point{Lat: crawler.Coordinate(swLat), Lng: crawler.Coordinate(swLng)},
	}
	if r.PostalCodes == nil {
		r.PostalCodes = []string{}
	}
	return r, nil
}

var _ crawler.RegionStore = (*RegionStore)(nil)
