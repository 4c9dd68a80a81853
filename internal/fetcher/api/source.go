// Package apifetcher implements crawler.SearchSource against the directory's
// JSON search endpoint using resty. It reuses the cookie jar and transport of
// a collyfetcher.Session.
package apifetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/provider-directory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/provider-directory-crawler/internal/metrics"
	"github.com/JakeFAU/provider-directory-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
)

// Name labels metrics and logs emitted by this source.
const Name = "api"

// Config controls the search request.
type Config struct {
	Endpoint string
	Country  string
	Timeout  time.Duration
}

// Source posts search payloads and returns raw pages.
type Source struct {
	cfg     Config
	session *collyfetcher.Session
	client  *resty.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Source bound to session. limiter may be nil.
func New(cfg Config, session *collyfetcher.Session, limiter *ratelimit.Limiter, logger *zap.Logger) (*Source, error) {
	if session == nil {
		return nil, errors.New("api source requires a session")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("api source endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := session.BaseURL()
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetTransport(session.Transport()).
		SetCookieJar(session.Jar()).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("Origin", base).
		SetHeader("Referer", base+"/")
	if ua := session.UserAgent(); ua != "" {
		client.SetHeader("User-Agent", ua)
	}
	return &Source{
		cfg:     cfg,
		session: session,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// FetchPage requests one page. Errors are either *search.PageError, a wrapped
// crawler.ErrSessionUnavailable, or a context error.
func (s *Source) FetchPage(ctx context.Context, keyword string, region crawler.Region, page int) (crawler.SearchPage, error) {
	payload, err := search.Build(keyword, region, s.cfg.Country)
	if err != nil {
		return crawler.SearchPage{}, &search.PageError{Page: page, Outcome: search.OutcomeFatal, Err: err}
	}
	if err := s.session.Ensure(ctx); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("api source: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return crawler.SearchPage{}, err
	}

	req := s.client.R().
		SetContext(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetBody(payload)
	if token := s.session.CSRFToken(); token != "" {
		req.SetHeader("X-CSRF-Token", token)
	}

	start := time.Now()
	resp, err := req.Post(s.cfg.Endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.SearchPage{}, fmt.Errorf("search request canceled: %w", ctxErr)
		}
		metrics.ObserveSearchPage(Name, search.OutcomeRetryable.String(), 0, time.Since(start))
		return crawler.SearchPage{}, &search.PageError{Page: page, Outcome: search.OutcomeRetryable, Err: err}
	}

	body := resp.Body()
	result, err := search.Interpret(page, resp.StatusCode(), body)
	duration := resp.Time()
	if err != nil {
		outcome := search.OutcomeOf(err)
		if outcome == search.OutcomeBlocked {
			s.session.Invalidate()
		}
		metrics.ObserveSearchPage(Name, outcome.String(), len(body), duration)
		s.logger.Warn("search page failed",
			zap.Int64("region_id", region.ExternalID),
			zap.Int("page", page),
			zap.Int("status", resp.StatusCode()),
			zap.String("outcome", outcome.String()),
		)
		return crawler.SearchPage{}, err
	}
	result.Duration = duration
	metrics.ObserveSearchPage(Name, "ok", len(body), duration)
	s.logger.Debug("search page fetched",
		zap.Int64("region_id", region.ExternalID),
		zap.Int("page", page),
		zap.Int("providers", len(result.Providers)),
		zap.Duration("duration", duration),
	)
	return result, nil
}
