package regions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

// LoadResult counts what a directory load did.
type LoadResult struct {
	Files   int
	Loaded  int
	Updated int
	Skipped int
}

// Loader upserts descriptor files into a RegionStore.
type Loader struct {
	store  crawler.RegionStore
	logger *zap.Logger
}

// NewLoader wires a loader.
func NewLoader(store crawler.RegionStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, logger: logger.Named("regions")}
}

// LoadDir upserts every descriptor in dir. Unreadable or invalid files are
// logged and skipped; a store failure stops the load.
func (l *Loader) LoadDir(ctx context.Context, dir string) (LoadResult, error) {
	files, err := Files(dir)
	if err != nil {
		return LoadResult{}, err
	}
	res := LoadResult{Files: len(files)}
	l.logger.Info("found region descriptors", zap.String("dir", dir), zap.Int("files", len(files)))

	for _, path := range files {
		region, err := ParseFile(path)
		if err != nil {
			res.Skipped++
			l.logger.Error("skipping region descriptor", zap.String("file", path), zap.Error(err))
			continue
		}
		stored, outcome, err := l.store.UpsertRegion(ctx, region)
		if err != nil {
			return res, fmt.Errorf("store region %q: %w", region.Name, err)
		}
		switch outcome {
		case crawler.UpsertInserted:
			res.Loaded++
			l.logger.Info("added region", zap.String("region", stored.Name), zap.Int64("external_id", stored.ExternalID))
		default:
			res.Updated++
			l.logger.Info("updated region", zap.String("region", stored.Name), zap.Int64("external_id", stored.ExternalID))
		}
	}
	l.logger.Info("region load finished",
		zap.Int("loaded", res.Loaded),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
