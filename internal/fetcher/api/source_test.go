package apifetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/provider-directory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
)

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}

type fakeDirectory struct {
	mu          sync.Mutex
	homeHits    atomic.Int32
	searchHits  atomic.Int32
	pageStatus  map[string]int
	lastPayload map[string]any
	lastCSRF    string
	lastCookie  string
	homeStatus  int
}

func (f *fakeDirectory) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		f.homeHits.Add(1)
		if f.homeStatus != 0 {
			w.WriteHeader(f.homeStatus)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><meta name="csrf-token" content="csrf-1"></head></html>`)
	})
	mux.HandleFunc("/phs_proxy/raw", func(w http.ResponseWriter, r *http.Request) {
		f.searchHits.Add(1)
		page := r.URL.Query().Get("page")
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		f.mu.Lock()
		f.lastPayload = payload
		f.lastCSRF = r.Header.Get("X-CSRF-Token")
		if c, err := r.Cookie("sid"); err == nil {
			f.lastCookie = c.Value
		}
		status := f.pageStatus[page]
		f.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if page == "0" {
			_, _ = io.WriteString(w, `{"healthcareProviders":[{"id":"p1"},{"id":"p2"}],"total":2}`)
			return
		}
		_, _ = io.WriteString(w, `{"healthcareProviders":[]}`)
	})
	return mux
}

func newSource(t *testing.T, dir *fakeDirectory) *Source {
	t.Helper()
	srv := httptest.NewServer(dir.handler())
	t.Cleanup(srv.Close)

	session, err := collyfetcher.New(collyfetcher.Config{BaseURL: srv.URL, Timeout: time.Second}, noPause{}, nil)
	require.NoError(t, err)
	src, err := New(Config{Endpoint: "/phs_proxy/raw", Country: "fr", Timeout: time.Second}, session, nil, nil)
	require.NoError(t, err)
	return src
}

func region() crawler.Region {
	return crawler.Region{
		ExternalID: 13,
		Name:       "Bouches-du-Rhône",
		Kind:       crawler.RegionKindDepartment,
		Center:     crawler.Point{Lat: "43.5", Lng: "5.4"},
		Viewport: crawler.Viewport{
			NorthEast: crawler.Point{Lat: "43.9", Lng: "5.8"},
			SouthWest: crawler.Point{Lat: "43.1", Lng: "4.2"},
		},
	}
}

func TestFetchPageBootstrapsAndPosts(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{}
	src := newSource(t, dir)

	page, err := src.FetchPage(context.Background(), "medecin-generaliste", region(), 0)
	require.NoError(t, err)
	assert.Len(t, page.Providers, 2)
	assert.Equal(t, int32(1), dir.homeHits.Load())

	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Equal(t, "csrf-1", dir.lastCSRF)
	assert.Equal(t, "s1", dir.lastCookie)
	assert.Equal(t, "medecin-generaliste", dir.lastPayload["keyword"])
	place := dir.lastPayload["location"].(map[string]any)["place"].(map[string]any)
	assert.Equal(t, "fr", place["country"])
	assert.Equal(t, "department", place["type"])
	assert.Equal(t, []any{}, place["zipcodes"])
}

func TestFetchPageReusesSession(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{}
	src := newSource(t, dir)
	ctx := context.Background()

	_, err := src.FetchPage(ctx, "k", region(), 0)
	require.NoError(t, err)
	page, err := src.FetchPage(ctx, "k", region(), 1)
	require.NoError(t, err)
	assert.True(t, page.Empty())
	assert.Equal(t, int32(1), dir.homeHits.Load())
	assert.Equal(t, int32(2), dir.searchHits.Load())
}

func TestFetchPageBlockedInvalidatesSession(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{pageStatus: map[string]int{"1": http.StatusForbidden}}
	src := newSource(t, dir)
	ctx := context.Background()

	_, err := src.FetchPage(ctx, "k", region(), 0)
	require.NoError(t, err)

	_, err = src.FetchPage(ctx, "k", region(), 1)
	var pe *search.PageError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, search.OutcomeBlocked, pe.Outcome)

	_, err = src.FetchPage(ctx, "k", region(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dir.homeHits.Load())
}

func TestFetchPageClassifiesFailures(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{pageStatus: map[string]int{"0": http.StatusServiceUnavailable, "2": http.StatusNotFound}}
	src := newSource(t, dir)
	ctx := context.Background()

	_, err := src.FetchPage(ctx, "k", region(), 0)
	assert.Equal(t, search.OutcomeRetryable, search.OutcomeOf(err))

	_, err = src.FetchPage(ctx, "k", region(), 2)
	assert.Equal(t, search.OutcomeFatal, search.OutcomeOf(err))
}

func TestFetchPageSessionUnavailable(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{homeStatus: http.StatusTooManyRequests}
	src := newSource(t, dir)

	_, err := src.FetchPage(context.Background(), "k", region(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrSessionUnavailable))
	assert.Equal(t, int32(3), dir.homeHits.Load())
	assert.Equal(t, int32(0), dir.searchHits.Load())
}

func TestFetchPageInvalidRegionIsFatal(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{}
	src := newSource(t, dir)
	bad := region()
	bad.Center.Lat = ""

	_, err := src.FetchPage(context.Background(), "k", bad, 0)
	assert.Equal(t, search.OutcomeFatal, search.OutcomeOf(err))
	assert.True(t, errors.Is(err, search.ErrInvalidRegion))
	assert.Equal(t, int32(0), dir.homeHits.Load())
}
