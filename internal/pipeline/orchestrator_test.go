package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/provider-directory-crawler/internal/crawler"
	"github.com/JakeFAU/provider-directory-crawler/internal/hash/sha256"
	"github.com/JakeFAU/provider-directory-crawler/internal/normalize"
	pubmemory "github.com/JakeFAU/provider-directory-crawler/internal/publisher/memory"
	"github.com/JakeFAU/provider-directory-crawler/internal/search"
	"github.com/JakeFAU/provider-directory-crawler/internal/storage/memory"
	"github.com/JakeFAU/provider-directory-crawler/internal/validate"
)

type pageKey struct {
	region int64
	page   int
}

type scriptedResult struct {
	page crawler.SearchPage
	err  error
}

// fakeSource replays scripted pages. Unscripted pages come back empty.
type fakeSource struct {
	mu      sync.Mutex
	results map[pageKey]scriptedResult
	calls   []pageKey
}

func newFakeSource() *fakeSource {
	return &fakeSource{results: make(map[pageKey]scriptedResult)}
}

func (f *fakeSource) page(region int64, page int, providers ...map[string]any) *fakeSource {
	f.results[pageKey{region, page}] = scriptedResult{page: crawler.SearchPage{
		Index:      page,
		Providers:  providers,
		Body:       []byte(fmt.Sprintf(`{"region":%d,"page":%d}`, region, page)),
		StatusCode: http.StatusOK,
	}}
	return f
}

func (f *fakeSource) fail(region int64, page int, err error) *fakeSource {
	f.results[pageKey{region, page}] = scriptedResult{err: err}
	return f
}

func (f *fakeSource) FetchPage(_ context.Context, _ string, region crawler.Region, page int) (crawler.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pageKey{region.ExternalID, page}
	f.calls = append(f.calls, key)
	if r, ok := f.results[key]; ok {
		return r.page, r.err
	}
	return crawler.SearchPage{Index: page, Providers: []map[string]any{}}, nil
}

func (f *fakeSource) pagesFor(region int64) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		if c.region == region {
			out = append(out, c.page)
		}
	}
	return out
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

func provider(id, first, last string) map[string]any {
	raw := map[string]any{
		"id":         id,
		"name":       last,
		"speciality": map[string]any{"name": "Cardiologist", "slug": "cardiologue"},
		"location":   map[string]any{"city": "Paris", "zipcode": "75001"},
	}
	if first != "" {
		raw["firstName"] = first
	}
	return raw
}

type harness struct {
	source    *fakeSource
	store     *memory.Store
	regions   []crawler.Region
	pauser    *recordingPauser
	archive   *memory.BlobStore
	publisher *pubmemory.Publisher
	states    []State
	orch      *Orchestrator
}

func newHarness(t *testing.T, source *fakeSource, cfg Config) *harness {
	t.Helper()

	clk := &system.Fixed{T: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(clk)
	h := &harness{
		source:    source,
		store:     store,
		pauser:    &recordingPauser{},
		archive:   memory.NewBlobStore(),
		publisher: pubmemory.New(),
	}
	for _, r := range []crawler.Region{
		{ExternalID: 75056, Name: "Paris", Kind: crawler.RegionKindLocality},
		{ExternalID: 69123, Name: "Lyon", Kind: crawler.RegionKindLocality},
	} {
		stored, _, err := store.UpsertRegion(context.Background(), r)
		require.NoError(t, err)
		h.regions = append(h.regions, stored)
	}

	if cfg.Keyword == "" {
		cfg.Keyword = "cardiologue"
	}
	orch, err := New(Deps{
		Source:     source,
		Store:      store,
		Regions:    store,
		Normalizer: normalize.New(normalize.Options{}),
		Validator:  validate.New(),
		Pauser:     h.pauser,
		Clock:      clk,
		IDs:        fixedIDs{},
		Archive:    h.archive,
		Hasher:     sha256.New(12),
		Publisher:  h.publisher,
		OnTransition: func(_ crawler.Region, _ int, s State) {
			h.states = append(h.states, s)
		},
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestRunStopsRegionOnEmptyPage(t *testing.T) {
	t.Parallel()

	source := newFakeSource().
		page(75056, 0, provider("a", "Jane", "Doe"), provider("b", "John", "Roe")).
		page(75056, 1, provider("c", "", "Clinique du Parc"))
	h := newHarness(t, source, Config{})

	summary, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, source.pagesFor(75056))
	require.Len(t, summary.Regions, 1)
	rs := summary.Regions[0]
	assert.Equal(t, ReasonEmptyPage, rs.Reason)
	assert.Equal(t, 3, rs.Pages)
	assert.Equal(t, 3, rs.Inserted)
	assert.Equal(t, 2, rs.Archived)
	assert.Equal(t, RunCompleted, summary.Status)
	assert.Equal(t, "run-1", summary.RunID)

	assert.Equal(t, 3, h.pauser.count(), "one pause per fetch")
	for _, d := range h.pauser.delays {
		assert.Equal(t, DefaultPageDelay, d)
	}

	org, err := h.store.GetProvider(context.Background(), "c")
	require.NoError(t, err)
	assert.True(t, org.IsOrganization())
	assert.Equal(t, h.regions[0].ID, org.RegionID)

	region, err := h.store.GetRegionByExternalID(context.Background(), 75056)
	require.NoError(t, err)
	require.NotNil(t, region.LastScrapedAt)

	assert.Len(t, h.archive.Keys(), 2)
	assert.Contains(t, h.archive.Keys()[0], "run-1/75056/page-0000-")

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	published, ok := msgs[0].(RunSummary)
	require.True(t, ok)
	assert.Equal(t, 3, published.Inserted)

	assert.Equal(t, StateIdle, h.states[0])
	assert.Equal(t, StateDone, h.states[len(h.states)-1])
	assert.Contains(t, h.states, StateNormalizing)
	assert.Contains(t, h.states, StatePersisting)
	assert.Contains(t, h.states, StateNextPage)
}

func TestRunRespectsMaxPages(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	for p := 0; p < 5; p++ {
		source.page(75056, p, provider(fmt.Sprintf("p%d", p), "A", "B"))
	}
	h := newHarness(t, source, Config{MaxPages: 2})

	summary, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, source.pagesFor(75056))
	assert.Equal(t, ReasonMaxPages, summary.Regions[0].Reason)
}

func TestRunRecordFailuresDoNotStopPage(t *testing.T) {
	t.Parallel()

	noID := provider("", "Jane", "Doe")
	numericID := provider("", "Jane", "Doe")
	numericID["id"] = 42
	source := newFakeSource().
		page(75056, 0, noID, provider("ok-1", "A", "B"), numericID, provider("ok-2", "", "Centre"))
	h := newHarness(t, source, Config{})

	summary, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)
	rs := summary.Regions[0]
	assert.Equal(t, 4, rs.Records)
	assert.Equal(t, 2, rs.Rejected)
	assert.Equal(t, 2, rs.Inserted)
	assert.Equal(t, 2, h.store.Len())
}

func TestRunPageOfNonObjectEntriesContinuesRegion(t *testing.T) {
	t.Parallel()

	source := newFakeSource().
		page(75056, 1, provider("after", "A", "B"))
	source.results[pageKey{75056, 0}] = scriptedResult{page: crawler.SearchPage{
		Index:      0,
		Providers:  []map[string]any{},
		Dropped:    2,
		Body:       []byte(`{"healthcareProviders":[null,null]}`),
		StatusCode: http.StatusOK,
	}}
	h := newHarness(t, source, Config{})

	summary, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, source.pagesFor(75056))
	rs := summary.Regions[0]
	assert.Equal(t, ReasonEmptyPage, rs.Reason)
	assert.Equal(t, 3, rs.Records)
	assert.Equal(t, 2, rs.Rejected)
	assert.Equal(t, 1, rs.Inserted)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	source := newFakeSource().
		page(75056, 0, provider("jane", "Jane", "Doe"))
	h := newHarness(t, source, Config{})

	first, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)
	second, err := h.orch.Run(context.Background(), h.regions[:1])
	require.NoError(t, err)

	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, h.store.Len())
}

func TestRunFirstPageFailureEndsRegionOnly(t *testing.T) {
	t.Parallel()

	source := newFakeSource().
		fail(75056, 0, &search.PageError{Page: 0, Outcome: search.OutcomeRetryable, StatusCode: 503, Err: errors.New("unavailable")}).
		page(69123, 0, provider("lyon-1", "A", "B"))
	h := newHarness(t, source, Config{})

	summary, err := h.orch.Run(context.Background(), h.regions)
	require.NoError(t, err)
	require.Len(t, summary.Regions, 2)
	assert.Equal(t, ReasonFirstPageFailed, summary.Regions[0].Reason)
	assert.Equal(t, 1, summary.Regions[0].PagesFailed)
	assert.Equal(t, ReasonEmptyPage, summary.Regions[1].Reason)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, []int{0}, source.pagesFor(75056))
}

func TestRunLaterPageFailures(t *testing.T) {
	t.Parallel()

	blocked := &search.PageError{Page: 1, Outcome: search.OutcomeBlocked, StatusCode: 403, Err: errors.New("forbidden")}
	tests := []struct {
		name       string
		err        error
		cfg        Config
		wantReason Reason
		wantPages  []int
	}{
		{
			name:       "retryable ends region",
			err:        &search.PageError{Page: 1, Outcome: search.OutcomeRetryable, StatusCode: 429, Err: errors.New("slow down")},
			wantReason: ReasonRetryable,
			wantPages:  []int{0, 1},
		},
		{
			name:       "blocked ends region",
			err:        blocked,
			wantReason: ReasonBlocked,
			wantPages:  []int{0, 1},
		},
		{
			name:       "blocked skipped when configured",
			err:        blocked,
			cfg:        Config{ContinueOnBlocked: true},
			wantReason: ReasonEmptyPage,
			wantPages:  []int{0, 1, 2},
		},
		{
			name:       "fatal ends region",
			err:        &search.PageError{Page: 1, Outcome: search.OutcomeFatal, StatusCode: 400, Err: errors.New("bad request")},
			wantReason: ReasonFatal,
			wantPages:  []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := newFakeSource().
				page(75056, 0, provider("a", "A", "B")).
				fail(75056, 1, tt.err)
			h := newHarness(t, source, tt.cfg)

			summary, err := h.orch.Run(context.Background(), h.regions[:1])
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, summary.Regions[0].Reason)
			assert.Equal(t, tt.wantPages, source.pagesFor(75056))
			assert.Equal(t, len(tt.wantPages), h.pauser.count(), "pause follows every fetch")
		})
	}
}

func TestRunAbortsOnSessionUnavailable(t *testing.T) {
	t.Parallel()

	source := newFakeSource().
		page(75056, 0, provider("a", "A", "B")).
		fail(75056, 1, fmt.Errorf("establish: %w", crawler.ErrSessionUnavailable)).
		page(69123, 0, provider("lyon-1", "A", "B"))
	h := newHarness(t, source, Config{})

	summary, err := h.orch.Run(context.Background(), h.regions)
	require.ErrorIs(t, err, crawler.ErrSessionUnavailable)

	assert.Equal(t, RunAborted, summary.Status)
	require.Len(t, summary.Regions, 1, "later regions are not attempted")
	assert.Equal(t, ReasonSessionLost, summary.Regions[0].Reason)
	assert.Equal(t, 1, summary.Inserted)
	assert.Empty(t, source.pagesFor(69123))
	assert.Equal(t, 1, h.pauser.count(), "no pause after an abort")
	assert.Equal(t, StateAborted, h.states[len(h.states)-1])

	region, err := h.store.GetRegionByExternalID(context.Background(), 75056)
	require.NoError(t, err)
	assert.Nil(t, region.LastScrapedAt, "aborted regions are not marked scraped")

	require.Len(t, h.publisher.Messages(), 1)
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	source := newFakeSource().page(75056, 0, provider("a", "A", "B"))
	h := newHarness(t, source, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.orch.Run(ctx, h.regions)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunCanceled, summary.Status)
	assert.Empty(t, source.pagesFor(75056))
}

type failingStore struct{}

func (failingStore) Upsert(_ context.Context, rec crawler.ProviderRecord) (crawler.UpsertOutcome, error) {
	return 0, &crawler.PersistError{ExternalID: rec.ExternalID, Op: "insert", Err: errors.New("disk full")}
}

func TestRunPersistFailuresAreCounted(t *testing.T) {
	t.Parallel()

	source := newFakeSource().page(75056, 0, provider("a", "A", "B"), provider("b", "C", "D"))
	orch, err := New(Deps{
		Source:     source,
		Store:      failingStore{},
		Normalizer: normalize.New(normalize.Options{}),
		Validator:  validate.New(),
		Pauser:     &recordingPauser{},
	}, Config{}, nil)
	require.NoError(t, err)

	rs, err := orch.ScrapeRegion(context.Background(), "run", crawler.Region{ID: 1, ExternalID: 75056, Name: "Paris"})
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Failed)
	assert.Equal(t, 0, rs.Persisted())
	assert.Equal(t, ReasonEmptyPage, rs.Reason)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, payload any) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func TestRunPublishFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.AnythingOfType("pipeline.RunSummary")).
		Return("", errors.New("topic deleted")).Once()

	orch, err := New(Deps{
		Source:     newFakeSource(),
		Store:      memory.NewStore(nil),
		Normalizer: normalize.New(normalize.Options{}),
		Validator:  validate.New(),
		Pauser:     &recordingPauser{},
		Publisher:  pub,
	}, Config{PageDelay: -1}, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), []crawler.Region{{ID: 1, ExternalID: 1, Name: "X"}})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, summary.Status)
	assert.NotEmpty(t, summary.RunID)
	pub.AssertExpectations(t)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)

	_, err = New(Deps{
		Source:     newFakeSource(),
		Store:      memory.NewStore(nil),
		Normalizer: normalize.New(normalize.Options{}),
		Validator:  validate.New(),
		Archive:    memory.NewBlobStore(),
	}, Config{}, nil)
	require.Error(t, err, "archive without hasher")
}

func TestReasonComplete(t *testing.T) {
	t.Parallel()

	assert.True(t, ReasonEmptyPage.Complete())
	assert.True(t, ReasonMaxPages.Complete())
	assert.False(t, ReasonBlocked.Complete())
	assert.Equal(t, "fetching_page", StateFetchingPage.String())
}
