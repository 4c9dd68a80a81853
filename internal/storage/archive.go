// Package storage selects the raw page archive backend.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/gcs"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/local"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/memory"
)

// Archive backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// ArchiveConfig selects where raw pages go.
type ArchiveConfig struct {
	Backend string
	Dir     string
	Bucket  string
	Prefix  string
}

// Archive is a BlobStore plus its release hook.
type Archive struct {
	crawler.BlobStore
	close func() error
}

// Close releases backend resources.
func (a *Archive) Close() error {
	if a == nil || a.close == nil {
		return nil
	}
	return a.close()
}

// Enabled reports whether pages are actually kept.
func (a *Archive) Enabled() bool {
	if a == nil {
		return false
	}
	_, discard := a.BlobStore.(Discard)
	return !discard
}

// OpenArchive builds the configured backend. An empty backend means none.
func OpenArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return &Archive{BlobStore: Discard{}}, nil
	case BackendMemory:
		return &Archive{BlobStore: memory.NewBlobStore()}, nil
	case BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return &Archive{BlobStore: store}, nil
	case BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return &Archive{BlobStore: store, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// PageKey names the object holding one raw page.
func PageKey(runID string, regionExternalID int64, page int, digest string) string {
	return fmt.Sprintf("%s/%d/page-%04d-%s.json", runID, regionExternalID, page, digest)
}

// Discard drops every object. It backs dry runs without an archive.
type Discard struct{}

// PutObject drains data and returns an empty URI.
func (Discard) PutObject(_ context.Context, _ string, _ string, data io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", fmt.Errorf("drain object: %w", err)
	}
	return "", nil
}
