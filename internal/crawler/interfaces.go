package crawler

import (
	"context"
	"io"
	"time"
)

// SearchSource fetches one page of raw search results. The API client and the
// browser-backed source both satisfy it.
type SearchSource interface {
	FetchPage(ctx context.Context, keyword string, region Region, page int) (SearchPage, error)
}

// ProviderStore persists provider records keyed by ExternalID.
type ProviderStore interface {
	Upsert(ctx context.Context, record ProviderRecord) (UpsertOutcome, error)
}

// ProviderReader reads persisted providers back.
type ProviderReader interface {
	GetProvider(ctx context.Context, externalID string) (ProviderRecord, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]ProviderRecord, error)
}

// ProviderFilter narrows ListProviders. Zero values mean no filtering.
type ProviderFilter struct {
	RegionID int64
	Limit    int
	Offset   int
}

// RegionStore persists region descriptors and scrape bookkeeping.
type RegionStore interface {
	UpsertRegion(ctx context.Context, region Region) (Region, UpsertOutcome, error)
	ListRegions(ctx context.Context) ([]Region, error)
	GetRegionByExternalID(ctx context.Context, externalID int64) (Region, error)
	MarkRegionScraped(ctx context.Context, regionID int64, at time.Time) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Pauser blocks for a delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Hasher computes digests for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
