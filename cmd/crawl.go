package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/app"
	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/regions"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/memory"
)

func newCrawlCmd(e *env) *cobra.Command {
	var (
		selectors []string
		keyword   string
		maxPages  int
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Scrape every stored region (or the selected ones) and upsert providers",
		Long: `Pages through the directory search for each region in external id order.
A region ends on an empty page, the page cap, or a failed page; a lost session
aborts the whole run. The run summary is printed as JSON.

With --dry-run no database is used: regions are read from the descriptor files
in regions.dir and providers are kept in memory only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if keyword != "" {
				e.cfg.Search.Keyword = keyword
			}
			if maxPages > 0 {
				e.cfg.Search.MaxPages = maxPages
			}
			if len(selectors) == 0 {
				selectors = e.cfg.Regions.Include
			}

			a, catalog, err := crawlServices(ctx, e, dryRun)
			if err != nil {
				return err
			}
			all, err := catalog.ListRegions(ctx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				if dryRun {
					return fmt.Errorf("no region descriptors found in %s", e.cfg.Regions.Dir)
				}
				return errors.New("no regions stored; run `regions load` first")
			}
			targets, missing := regions.Select(all, selectors)
			if len(missing) > 0 {
				e.logger.Warn("unknown region selectors", zap.Strings("selectors", missing))
			}
			if len(targets) == 0 {
				return fmt.Errorf("no region matches %s", strings.Join(selectors, ", "))
			}

			orch, err := a.Crawler(ctx, nil)
			if err != nil {
				return err
			}
			summary, runErr := orch.Run(ctx, targets)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("print summary: %w", err)
			}
			if runErr != nil {
				return fmt.Errorf("crawl %s: %w", summary.Status, runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&selectors, "region", nil, "region external id or name to crawl (repeatable)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (overrides search.keyword)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page cap per region (overrides search.max_pages)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "crawl regions from regions.dir into memory without a database")
	return cmd
}

type regionLister interface {
	ListRegions(ctx context.Context) ([]crawler.Region, error)
}

// crawlServices returns the App and the region catalog the crawl reads from.
func crawlServices(ctx context.Context, e *env, dryRun bool) (*app.App, regionLister, error) {
	if !dryRun {
		a, err := e.services(ctx)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Regions(), nil
	}

	store := memory.NewStore(nil)
	res, err := regions.NewLoader(store, e.logger).LoadDir(ctx, e.cfg.Regions.Dir)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info("dry run regions loaded", zap.String("dir", e.cfg.Regions.Dir), zap.Int("regions", res.Loaded))
	a, err := e.services(ctx, app.WithMemoryStore(store))
	if err != nil {
		return nil, nil, err
	}
	return a, store, nil
}
