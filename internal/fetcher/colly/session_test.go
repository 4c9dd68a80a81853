package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
)

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

const homepage = `<html><head><meta name="csrf-token" content="tok-123"></head><body>ok</body></html>`

func newHomepageServer(t *testing.T, failFirst int32, failStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		if n <= failFirst {
			w.WriteHeader(failStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(homepage))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestEstablishSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	srv, hits := newHomepageServer(t, 0, 0)
	pauser := &recordingPauser{}
	s, err := New(Config{BaseURL: srv.URL, UserAgent: "test-agent", Timeout: time.Second}, pauser, nil)
	require.NoError(t, err)

	require.NoError(t, s.Establish(context.Background()))
	assert.True(t, s.Ready())
	assert.Equal(t, "tok-123", s.CSRFToken())
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, pauser.recorded())

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := s.Jar().Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
}

func TestEstablishRetriesRateLimited(t *testing.T) {
	t.Parallel()

	srv, hits := newHomepageServer(t, 2, http.StatusTooManyRequests)
	pauser := &recordingPauser{}
	s, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, pauser, nil)
	require.NoError(t, err)

	require.NoError(t, s.Establish(context.Background()))
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, pauser.recorded())
}

func TestEstablishGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	srv, hits := newHomepageServer(t, 100, http.StatusServiceUnavailable)
	pauser := &recordingPauser{}
	s, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, pauser, nil)
	require.NoError(t, err)

	err = s.Establish(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrSessionUnavailable))
	assert.False(t, s.Ready())
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, pauser.recorded())
}

func TestEstablishRetriesTimedOutAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	pauser := &recordingPauser{}
	s, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, pauser, nil)
	require.NoError(t, err)

	err = s.Establish(context.Background())
	require.ErrorIs(t, err, crawler.ErrSessionUnavailable)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, pauser.recorded())
}

func TestEnsureSkipsWhenReadyAndInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	srv, hits := newHomepageServer(t, 0, 0)
	s, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, &recordingPauser{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Ensure(ctx))
	require.NoError(t, s.Ensure(ctx))
	assert.Equal(t, int32(1), hits.Load())

	s.Invalidate()
	assert.False(t, s.Ready())
	require.NoError(t, s.Ensure(ctx))
	assert.Equal(t, int32(2), hits.Load())
}

func TestEstablishStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newHomepageServer(t, 100, http.StatusBadGateway)
	s, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, &recordingPauser{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Establish(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}
