// Package collyfetcher bootstraps a directory session with gocolly. The
// session visits the public homepage so that the cookie jar picks up whatever
// the search endpoint expects, and it scrapes the CSRF token from the page.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/metrics"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
)

const csrfSelector = `meta[name="csrf-token"]`

// Config controls the bootstrap request.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Attempts  int
	Step      time.Duration
}

// Session owns the cookie jar and transport shared by every search request.
type Session struct {
	cfg       Config
	jar       http.CookieJar
	transport http.RoundTripper
	base      *colly.Collector
	policy    *search.LinearRetryPolicy
	pauser    crawler.Pauser
	logger    *zap.Logger

	mu    sync.Mutex
	ready bool
	csrf  string
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

type visitResult struct {
	status int
	csrf   string
}

// New builds a Session. A nil pauser falls back to crawler.TimerPauser.
func New(cfg Config, pauser crawler.Pauser, logger *zap.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("session base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := newHTTPTransport()

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	c.SetCookieJar(jar)

	return &Session{
		cfg:       cfg,
		jar:       jar,
		transport: transport,
		base:      c,
		policy:    search.NewLinearRetryPolicy(cfg.Attempts, cfg.Step),
		pauser:    pauser,
		logger:    logger,
	}, nil
}

// Jar returns the cookie jar populated by the bootstrap visit.
func (s *Session) Jar() http.CookieJar {
	return s.jar
}

// Transport returns the pooled transport shared with the search client.
func (s *Session) Transport() http.RoundTripper {
	return s.transport
}

// BaseURL returns the directory origin.
func (s *Session) BaseURL() string {
	return strings.TrimRight(s.cfg.BaseURL, "/")
}

// UserAgent returns the configured user agent, possibly empty.
func (s *Session) UserAgent() string {
	return s.cfg.UserAgent
}

// CSRFToken returns the token scraped during the last successful bootstrap.
func (s *Session) CSRFToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrf
}

// Ready reports whether a bootstrap has succeeded since the last Invalidate.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Invalidate forces the next Ensure to bootstrap again. Sources call it after
// the search endpoint answers 403.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

// Ensure bootstraps the session unless it is already ready.
func (s *Session) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	return s.establishLocked(ctx)
}

// Establish always performs a fresh bootstrap. It returns an error wrapping
// crawler.ErrSessionUnavailable once every attempt has failed.
func (s *Session) Establish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishLocked(ctx)
}

func (s *Session) establishLocked(ctx context.Context) error {
	s.ready = false
	var (
		attempt int
		lastErr error
	)
	for attempt = 1; ; attempt++ {
		res, err := s.visit(ctx)
		if err == nil && res.status != http.StatusOK {
			err = fmt.Errorf("bootstrap returned status %d", res.status)
		}
		metrics.ObserveSessionAttempt(err == nil)
		if err == nil {
			s.ready = true
			s.csrf = res.csrf
			s.logger.Info("session established",
				zap.Int("attempt", attempt),
				zap.Bool("csrf_token", res.csrf != ""),
			)
			return nil
		}
		lastErr = err
		s.logger.Warn("session bootstrap failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.policy.MaxAttempts()),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("establish session: %w", ctxErr)
		}
		if !s.policy.ShouldRetry(err, attempt) {
			break
		}
		s.pauser.Pause(ctx, s.policy.Backoff(attempt))
	}
	return fmt.Errorf("%w after %d attempts: %w", crawler.ErrSessionUnavailable, attempt, lastErr)
}

func (s *Session) visit(ctx context.Context) (visitResult, error) {
	var (
		result   visitResult
		fetchErr error
	)
	collector := s.buildCollector(ctx)
	s.configureCollectorHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, s.BaseURL(), &fetchErr); err != nil {
		return visitResult{}, err
	}
	return result, nil
}

func (s *Session) buildCollector(ctx context.Context) *colly.Collector {
	collector := s.base.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.Context = ctx
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.WithTransport(s.transport)
	collector.SetCookieJar(s.jar)
	return collector
}

func (s *Session) configureCollectorHooks(hooks collectorHooks, result *visitResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
	})
	hooks.OnHTML(csrfSelector, func(e *colly.HTMLElement) {
		if token := strings.TrimSpace(e.Attr("content")); token != "" {
			result.csrf = token
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("bootstrap canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("bootstrap visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("bootstrap response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
