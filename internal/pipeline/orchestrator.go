// Package pipeline drives the region-by-region crawl: page through a search
// source, normalize and validate each record, and upsert it.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/metrics"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage"
)

// Defaults applied by New.
const (
	DefaultMaxPages  = 100
	DefaultPageDelay = 3 * time.Second
	publishTimeout   = 10 * time.Second
)

// Normalizer turns a raw entry into a record.
type Normalizer interface {
	Normalize(raw map[string]any, regionID int64) crawler.ProviderRecord
}

// Validator returns the first rule a record breaks.
type Validator interface {
	Check(rec crawler.ProviderRecord) error
}

// Config controls the loop. A zero PageDelay means DefaultPageDelay and a
// negative one disables the pause.
type Config struct {
	Keyword           string
	SourceName        string
	MaxPages          int
	PageDelay         time.Duration
	ContinueOnBlocked bool
}

// Deps are the collaborators of one run. Source, Store, Normalizer and
// Validator are required.
type Deps struct {
	Source     crawler.SearchSource
	Store      crawler.ProviderStore
	Regions    crawler.RegionStore
	Normalizer Normalizer
	Validator  Validator
	Pauser     crawler.Pauser
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Archive    crawler.BlobStore
	Hasher     crawler.Hasher
	Publisher  crawler.Publisher

	// OnTransition, when set, sees every state change.
	OnTransition func(region crawler.Region, page int, state State)
}

// Orchestrator runs the scrape loop. It is strictly sequential.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and applies defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("search source is required")
	case deps.Store == nil:
		return nil, errors.New("provider store is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Validator == nil:
		return nil, errors.New("validator is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("hasher is required when archiving pages")
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	switch {
	case cfg.PageDelay == 0:
		cfg.PageDelay = DefaultPageDelay
	case cfg.PageDelay < 0:
		cfg.PageDelay = 0
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "unknown"
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Run scrapes regions in order. Only a lost session or ctx cancellation stops
// the run early; the partial summary is returned with that error.
func (o *Orchestrator) Run(ctx context.Context, regions []crawler.Region) (RunSummary, error) {
	runID, err := o.newRunID()
	if err != nil {
		return RunSummary{}, err
	}
	summary := RunSummary{
		RunID:     runID,
		Keyword:   o.cfg.Keyword,
		Source:    o.cfg.SourceName,
		Status:    RunCompleted,
		Regions:   []RegionSummary{},
		StartedAt: o.deps.Clock.Now(),
	}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("crawl run started", zap.Int("regions", len(regions)), zap.String("keyword", o.cfg.Keyword))

	var runErr error
	for _, region := range regions {
		rs, err := o.ScrapeRegion(ctx, runID, region)
		summary.add(rs)
		if err != nil {
			runErr = err
			summary.Status = RunAborted
			if ctx.Err() != nil {
				summary.Status = RunCanceled
			}
			summary.Error = err.Error()
			break
		}
	}
	summary.FinishedAt = o.deps.Clock.Now()
	metrics.ObserveRun(summary.Status)

	fields := []zap.Field{
		zap.String("status", summary.Status),
		zap.Int("regions", len(summary.Regions)),
		zap.Int("pages", summary.Pages),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected", summary.Rejected),
		zap.Int("failed", summary.Failed),
	}
	if runErr != nil {
		logger.Error("crawl run stopped", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("crawl run finished", fields...)
	}
	o.publish(ctx, summary)
	return summary, runErr
}

// ScrapeRegion pages through one region. The returned error is non-nil only
// when the whole run must stop.
func (o *Orchestrator) ScrapeRegion(ctx context.Context, runID string, region crawler.Region) (RegionSummary, error) {
	rs := RegionSummary{
		RegionID:   region.ID,
		ExternalID: region.ExternalID,
		Name:       region.Name,
		StartedAt:  o.deps.Clock.Now(),
	}
	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("region", region.Name),
		zap.Int64("region_external_id", region.ExternalID),
	)
	o.transition(region, 0, StateIdle)

	page := 0
	for {
		if page >= o.cfg.MaxPages {
			rs.Reason = ReasonMaxPages
			break
		}
		if err := ctx.Err(); err != nil {
			return o.abort(region, page, rs, ReasonCanceled, logger, fmt.Errorf("region %q: %w", region.Name, err))
		}

		o.transition(region, page, StateFetchingPage)
		result, err := o.deps.Source.FetchPage(ctx, o.cfg.Keyword, region, page)
		if err != nil {
			if errors.Is(err, crawler.ErrSessionUnavailable) {
				return o.abort(region, page, rs, ReasonSessionLost, logger, fmt.Errorf("region %q page %d: %w", region.Name, page, err))
			}
			if ctx.Err() != nil {
				return o.abort(region, page, rs, ReasonCanceled, logger, fmt.Errorf("region %q page %d: %w", region.Name, page, ctx.Err()))
			}
			rs.PagesFailed++
			reason, stop := o.onPageError(page, err)
			logger.Warn("search page failed",
				zap.Int("page", page),
				zap.String("outcome", search.OutcomeOf(err).String()),
				zap.Bool("region_stopped", stop),
				zap.Error(err),
			)
			o.pause(ctx)
			if stop {
				rs.Reason = reason
				break
			}
			page++
			o.transition(region, page, StateNextPage)
			continue
		}

		rs.Pages++
		if result.Total != nil {
			total := *result.Total
			rs.Total = &total
		}
		if result.Empty() {
			logger.Info("empty page, region finished", zap.Int("page", page))
			o.pause(ctx)
			rs.Reason = ReasonEmptyPage
			break
		}
		o.archive(ctx, runID, region, page, result, &rs, logger)
		o.processPage(ctx, region, page, result, &rs, logger)
		o.pause(ctx)
		page++
		o.transition(region, page, StateNextPage)
	}

	rs.FinishedAt = o.deps.Clock.Now()
	o.transition(region, page, StateDone)
	metrics.ObserveRegion(string(rs.Reason))
	if o.deps.Regions != nil && region.ID > 0 {
		if err := o.deps.Regions.MarkRegionScraped(ctx, region.ID, rs.FinishedAt); err != nil {
			logger.Warn("mark region scraped failed", zap.Error(err))
		}
	}
	logFn := logger.Info
	if !rs.Reason.Complete() {
		logFn = logger.Warn
	}
	logFn("region finished",
		zap.String("reason", string(rs.Reason)),
		zap.Bool("complete", rs.Reason.Complete()),
		zap.Int("pages", rs.Pages),
		zap.Int("pages_failed", rs.PagesFailed),
		zap.Int("inserted", rs.Inserted),
		zap.Int("updated", rs.Updated),
		zap.Int("rejected", rs.Rejected),
		zap.Int("failed", rs.Failed),
	)
	return rs, nil
}

// onPageError decides whether a failed page ends the region.
func (o *Orchestrator) onPageError(page int, err error) (Reason, bool) {
	if page == 0 {
		return ReasonFirstPageFailed, true
	}
	switch search.OutcomeOf(err) {
	case search.OutcomeRetryable:
		return ReasonRetryable, true
	case search.OutcomeBlocked:
		return ReasonBlocked, !o.cfg.ContinueOnBlocked
	default:
		return ReasonFatal, true
	}
}

func (o *Orchestrator) processPage(
	ctx context.Context,
	region crawler.Region,
	page int,
	result crawler.SearchPage,
	rs *RegionSummary,
	logger *zap.Logger,
) {
	if result.Dropped > 0 {
		rs.Records += result.Dropped
		rs.Rejected += result.Dropped
		for range result.Dropped {
			metrics.ObserveRecord("rejected")
		}
		logger.Warn("non-object entries rejected", zap.Int("page", page), zap.Int("count", result.Dropped))
	}
	for _, raw := range result.Providers {
		rs.Records++
		o.transition(region, page, StateNormalizing)
		rec := o.deps.Normalizer.Normalize(raw, region.ID)
		if err := o.deps.Validator.Check(rec); err != nil {
			rs.Rejected++
			metrics.ObserveRecord("rejected")
			logger.Warn("record rejected", zap.Int("page", page), zap.String("external_id", rec.ExternalID), zap.Error(err))
			continue
		}

		o.transition(region, page, StatePersisting)
		outcome, err := o.deps.Store.Upsert(ctx, rec)
		if err != nil {
			rs.Failed++
			metrics.ObserveRecord("failed")
			logger.Error("record persist failed", zap.Int("page", page), zap.String("external_id", rec.ExternalID), zap.Error(err))
			continue
		}
		switch outcome {
		case crawler.UpsertInserted:
			rs.Inserted++
		default:
			rs.Updated++
		}
		metrics.ObserveRecord(outcome.String())
		logger.Debug("record stored",
			zap.Int("page", page),
			zap.String("external_id", rec.ExternalID),
			zap.String("name", rec.DisplayName()),
			zap.Stringer("outcome", outcome),
		)
	}
	logger.Info("page processed",
		zap.Int("page", page),
		zap.Int("entries", len(result.Providers)+result.Dropped),
		zap.Int("inserted", rs.Inserted),
		zap.Int("updated", rs.Updated),
		zap.Int("rejected", rs.Rejected),
		zap.Int("failed", rs.Failed),
	)
}

// archive keeps the raw body when an archive is configured. Failures are
// logged and never affect the region.
func (o *Orchestrator) archive(
	ctx context.Context,
	runID string,
	region crawler.Region,
	page int,
	result crawler.SearchPage,
	rs *RegionSummary,
	logger *zap.Logger,
) {
	if o.deps.Archive == nil || len(result.Body) == 0 {
		return
	}
	digest, err := o.deps.Hasher.Hash(result.Body)
	if err != nil {
		logger.Warn("hash page failed", zap.Int("page", page), zap.Error(err))
		return
	}
	key := storage.PageKey(runID, region.ExternalID, page, digest)
	uri, err := o.deps.Archive.PutObject(ctx, key, "application/json", bytes.NewReader(result.Body))
	if err != nil {
		logger.Warn("archive page failed", zap.Int("page", page), zap.String("key", key), zap.Error(err))
		return
	}
	rs.Archived++
	if uri != "" {
		logger.Debug("page archived", zap.Int("page", page), zap.String("uri", uri))
	}
}

func (o *Orchestrator) abort(
	region crawler.Region,
	page int,
	rs RegionSummary,
	reason Reason,
	logger *zap.Logger,
	err error,
) (RegionSummary, error) {
	rs.Reason = reason
	rs.FinishedAt = o.deps.Clock.Now()
	o.transition(region, page, StateAborted)
	metrics.ObserveRegion(string(reason))
	logger.Error("region aborted", zap.Int("page", page), zap.String("reason", string(reason)), zap.Error(err))
	return rs, err
}

func (o *Orchestrator) pause(ctx context.Context) {
	o.deps.Pauser.Pause(ctx, o.cfg.PageDelay)
}

func (o *Orchestrator) transition(region crawler.Region, page int, state State) {
	if o.deps.OnTransition != nil {
		o.deps.OnTransition(region, page, state)
	}
}

func (o *Orchestrator) newRunID() (string, error) {
	if o.deps.IDs == nil {
		return fmt.Sprintf("run-%d", o.deps.Clock.Now().UnixNano()), nil
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (o *Orchestrator) publish(ctx context.Context, summary RunSummary) {
	if o.deps.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := o.deps.Publisher.Publish(pubCtx, summary)
	if err != nil {
		o.logger.Warn("publish run summary failed", zap.String("run_id", summary.RunID), zap.Error(err))
		return
	}
	o.logger.Info("run summary published", zap.String("run_id", summary.RunID), zap.String("message_id", id))
}
