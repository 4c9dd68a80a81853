// Package headless implements crawler.SearchSource with a real browser tab.
// The tab loads the directory homepage once so that cookies and scripts are in
// place, then each page is requested with an in-page fetch call.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/metrics"
	"github.com/JakeFAU/provider-directory-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
)

// Name labels metrics and logs emitted by this source.
const Name = "browser"

// Config controls the browser source.
type Config struct {
	BaseURL           string
	Endpoint          string
	Country           string
	UserAgent         string
	NavigationTimeout time.Duration
	RequestTimeout    time.Duration
	Attempts          int
	Step              time.Duration
}

// Source drives one headless Chrome tab.
type Source struct {
	cfg           Config
	policy        *search.LinearRetryPolicy
	pauser        crawler.Pauser
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	meta          *responseMeta
	run           func(ctx context.Context, actions ...chromedp.Action) error

	mu      sync.Mutex
	started bool
	ready   bool
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// NewChromedp prepares a browser allocator. Chrome itself is launched on the
// first FetchPage.
func NewChromedp(cfg Config, pauser crawler.Pauser, limiter *ratelimit.Limiter, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("browser source base url is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("browser source endpoint is required")
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Source{
		cfg:           cfg,
		policy:        search.NewLinearRetryPolicy(cfg.Attempts, cfg.Step),
		pauser:        pauser,
		limiter:       limiter,
		logger:        logger,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
		meta:          newResponseMeta(),
		run:           chromedp.Run,
	}
	chromedp.ListenTarget(browserCtx, s.meta.captureEvent)
	return s, nil
}

// Close shuts the tab and the browser down.
func (s *Source) Close() {
	s.browserCancel()
	s.allocCancel()
}

// FetchPage requests one page from inside the tab.
func (s *Source) FetchPage(ctx context.Context, keyword string, region crawler.Region, page int) (crawler.SearchPage, error) {
	payload, err := search.Build(keyword, region, s.cfg.Country)
	if err != nil {
		return crawler.SearchPage{}, &search.PageError{Page: page, Outcome: search.OutcomeFatal, Err: err}
	}
	if err := s.ensure(ctx); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("browser source: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return crawler.SearchPage{}, err
	}
	script, err := buildFetchScript(s.cfg.Endpoint, page, payload)
	if err != nil {
		return crawler.SearchPage{}, &search.PageError{Page: page, Outcome: search.OutcomeFatal, Err: err}
	}

	runCtx, cancel := s.runContext(ctx, s.requestTimeout())
	defer cancel()

	var out fetchResult
	start := time.Now()
	err = s.run(runCtx, chromedp.Evaluate(script, &out, awaitPromise))
	duration := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.SearchPage{}, fmt.Errorf("browser fetch canceled: %w", ctxErr)
		}
		metrics.ObserveSearchPage(Name, search.OutcomeRetryable.String(), 0, duration)
		return crawler.SearchPage{}, &search.PageError{
			Page:    page,
			Outcome: search.OutcomeRetryable,
			Err:     fmt.Errorf("chromedp evaluate: %w", err),
		}
	}

	result, err := search.Interpret(page, out.Status, []byte(out.Body))
	if err != nil {
		outcome := search.OutcomeOf(err)
		if outcome == search.OutcomeBlocked {
			s.invalidate()
		}
		metrics.ObserveSearchPage(Name, outcome.String(), len(out.Body), duration)
		s.logger.Warn("browser search page failed",
			zap.Int64("region_id", region.ExternalID),
			zap.Int("page", page),
			zap.Int("status", out.Status),
			zap.String("outcome", outcome.String()),
		)
		return crawler.SearchPage{}, err
	}
	result.Duration = duration
	metrics.ObserveSearchPage(Name, "ok", len(out.Body), duration)
	return result, nil
}

func (s *Source) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrSessionUnavailable, err)
	}
	var (
		attempt int
		lastErr error
	)
	for attempt = 1; ; attempt++ {
		err := s.navigateHome(ctx)
		metrics.ObserveSessionAttempt(err == nil)
		if err == nil {
			s.ready = true
			s.logger.Info("browser session established", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		s.logger.Warn("browser bootstrap failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("establish browser session: %w", ctxErr)
		}
		if !s.policy.ShouldRetry(err, attempt) {
			break
		}
		s.pauser.Pause(ctx, s.policy.Backoff(attempt))
	}
	return fmt.Errorf("%w after %d attempts: %w", crawler.ErrSessionUnavailable, attempt, lastErr)
}

// startLocked launches Chrome on the long-lived tab context. The first Run on a
// chromedp context allocates the browser and ties its lifetime to that
// context, so it must carry no timeout.
func (s *Source) startLocked() error {
	if s.started {
		return nil
	}
	if err := s.run(s.browser); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	s.started = true
	return nil
}

func (s *Source) invalidate() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *Source) navigateHome(ctx context.Context) error {
	runCtx, cancel := s.runContext(ctx, s.navTimeout())
	defer cancel()

	s.meta.reset()
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(s.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := s.run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	if status := s.meta.status(); status != 0 && status != http.StatusOK {
		return fmt.Errorf("bootstrap returned status %d", status)
	}
	return nil
}

func (s *Source) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// runContext derives a context from the tab that is also canceled with ctx.
func (s *Source) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.browser, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Source) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (s *Source) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return s.cfg.RequestTimeout
	}
	return 30 * time.Second
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// buildFetchScript renders the in-page request. The CSRF token is read from
// the loaded document at call time.
func buildFetchScript(endpoint string, page int, payload crawler.SearchPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	target, err := json.Marshal(endpoint + "?page=" + strconv.Itoa(page))
	if err != nil {
		return "", fmt.Errorf("encode endpoint: %w", err)
	}
	bodyLiteral, err := json.Marshal(string(body))
	if err != nil {
		return "", fmt.Errorf("encode body literal: %w", err)
	}
	return fmt.Sprintf(`(async () => {
  const meta = document.querySelector('meta[name="csrf-token"]');
  const headers = {"Content-Type": "application/json", "Accept": "application/json"};
  if (meta && meta.content) { headers["X-CSRF-Token"] = meta.content; }
  const res = await fetch(%s, {method: "POST", credentials: "include", headers, body: %s});
  return {status: res.status, body: await res.text()};
})()`, target, bodyLiteral), nil
}

type responseMeta struct {
	mu   sync.RWMutex
	code int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(event.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}
