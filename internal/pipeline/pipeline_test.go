package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/cache"
	geojsonadapter "github.com/couchcryptid/water-quality-etl/internal/adapter/geojson"
	"github.com/couchcryptid/water-quality-etl/internal/adapter/hubeau"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
	"github.com/couchcryptid/water-quality-etl/internal/observability"
	"github.com/couchcryptid/water-quality-etl/internal/pipeline"
)

// --- fakes ---

type fakeResponse struct {
	pages [][]domain.RawRecord
	// resumed is served instead of pages when the request carries a StartURL.
	resumed [][]domain.RawRecord
	// err is returned once failAt pages have been delivered.
	err    error
	failAt int
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	requests  map[string][]hubeau.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string]fakeResponse{},
		calls:     map[string]int{},
		requests:  map[string][]hubeau.Request{},
	}
}

func (f *fakeFetcher) requestsFor(src domain.Source, kind domain.ResourceKind) []hubeau.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[fetchKey(src, kind)]
}

func fetchKey(src domain.Source, kind domain.ResourceKind) string {
	return string(src) + "/" + string(kind)
}

func (f *fakeFetcher) set(src domain.Source, kind domain.ResourceKind, resp fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fetchKey(src, kind)] = resp
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) Fetch(_ context.Context, req hubeau.Request, onPage hubeau.PageFunc) (hubeau.Result, error) {
	f.mu.Lock()
	k := fetchKey(req.Source, req.Kind)
	f.calls[k]++
	f.requests[k] = append(f.requests[k], req)
	resp := f.responses[k]
	f.mu.Unlock()

	pages := resp.pages
	if req.StartURL != "" {
		pages = resp.resumed
	}
	var res hubeau.Result
	for i, page := range pages {
		if resp.err != nil && i == resp.failAt {
			return res, resp.err
		}
		res.Pages++
		res.Records = append(res.Records, page...)
		next := ""
		if i < len(pages)-1 {
			next = "https://hubeau.example/next"
		}
		if onPage != nil {
			if err := onPage(hubeau.Page{Number: res.Pages, Records: page, Next: next}); err != nil {
				return res, err
			}
		}
	}
	if resp.err != nil {
		return res, resp.err
	}
	res.Exhausted = true
	return res, nil
}

type fakePublisher struct {
	features []*geojson.Feature
	runID    string
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, runID string, features []*geojson.Feature) error {
	f.runID = runID
	f.features = features
	return f.err
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func naiadesAnalysis(station, code, date string) domain.RawRecord {
	return domain.RawRecord{
		"code_station":     station,
		"code_departement": "21",
		"code_parametre":   code,
		"resultat":         json.Number("0.05"),
		"symbole_unite":    "µg/L",
		"date_prelevement": date,
		"longitude":        json.Number("5.04"),
		"latitude":         json.Number("47.32"),
	}
}

func adesAnalysis(station, code, date string) domain.RawRecord {
	return domain.RawRecord{
		"bss_id":                 station,
		"num_departement":        "21",
		"code_param":             code,
		"resultat":               json.Number("0.2"),
		"symbole_unite":          "µg/L",
		"date_debut_prelevement": date,
		"longitude":              json.Number("4.84"),
		"latitude":               json.Number("47.02"),
	}
}

type harness struct {
	fetcher *fakeFetcher
	store   *cache.FileStore
	// wrapStore, when set, decorates store for the pipeline under test.
	wrapStore func(cache.Store) cache.Store
	publisher *fakePublisher
	opts      pipeline.Options
	metrics   *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	allowed := domain.NewFilterSpec(time.Time{}, time.Time{}, []string{"1107"})
	return &harness{
		fetcher: newFakeFetcher(),
		store:   cache.NewFileStore(filepath.Join(dir, "cache")),
		metrics: observability.NewMetricsForTesting(),
		opts: pipeline.Options{
			RunID:      "run-test",
			Department: "21",
			Sources: []pipeline.SourceSettings{
				{Source: domain.SourceNaiades, MaxPages: 15, Filter: allowed},
				{Source: domain.SourceADES, MaxPages: 10, Filter: allowed},
			},
			StationsMaxPages: 50,
			OutputGeoJSON:    filepath.Join(dir, "sig", "layer.geojson"),
			OutputSummaryCSV: filepath.Join(dir, "sig", "summary.csv"),
		},
	}
}

func (h *harness) pipeline() *pipeline.Pipeline {
	logger := discardLogger()
	var pub pipeline.FeaturePublisher
	if h.publisher != nil {
		pub = h.publisher
	}
	var store cache.Store = h.store
	if h.wrapStore != nil {
		store = h.wrapStore(store)
	}
	return pipeline.New(
		h.fetcher,
		store,
		pipeline.NewTransformer(h.opts.Department, nil, logger),
		geojsonadapter.NewExporter(logger),
		pub,
		h.opts,
		logger,
		h.metrics,
	)
}

func (h *harness) run(t *testing.T) pipeline.Report {
	t.Helper()
	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)
	return report
}

func readLayer(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(b)
	require.NoError(t, err)
	return fc
}

func analysesKey(src domain.Source) cache.Key {
	return cache.Key{Source: src, Kind: domain.KindAnalyses, Department: "21"}
}

// --- tests ---

func TestPipeline_Run_ParameterScenario(t *testing.T) {
	h := newHarness(t)
	h.opts.Sources = []pipeline.SourceSettings{{
		Source: domain.SourceNaiades,
		Filter: domain.NewFilterSpec(time.Time{}, time.Time{}, []string{"P1"}),
	}}
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{{
		naiadesAnalysis("S1", "P1", "2020-01-01"),
		naiadesAnalysis("S2", "P2", "2021-06-15"),
		naiadesAnalysis("S3", "P1", "2022-03-10"),
	}}})

	report := h.run(t)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 2)
	var years []any
	for _, f := range fc.Features {
		years = append(years, f.Properties["annee"])
		assert.Equal(t, "naiades", f.Properties["source"])
		assert.Equal(t, "21", f.Properties["code_departement"])
	}
	assert.Equal(t, []any{"2020", "2022"}, years)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, 3, report.Sources[0].RawAnalyses)
	assert.Equal(t, 2, report.Sources[0].Filtered)
}

func TestPipeline_Run_MergesSourcesInOrder(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
		{naiadesAnalysis("S1", "1107", "2020-01-01"), naiadesAnalysis("S2", "1107", "2021-01-01")},
	}})
	h.fetcher.set(domain.SourceADES, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{adesAnalysis("BSS1", "1107", "2019-05-05"), adesAnalysis("BSS2", "1208", "2019-05-05")},
	}})

	report := h.run(t)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	var ids []any
	for _, f := range fc.Features {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []any{
		"naiades|S1|1107|2020-01-01",
		"naiades|S2|1107|2021-01-01",
		"ades|BSS1|1107|2019-05-05",
	}, ids)
	assert.Equal(t, 1, report.Export.Counts[domain.SourceNaiades].Duplicates)
	assert.Empty(t, report.Failed())
	assert.FileExists(t, h.opts.OutputSummaryCSV)
}

func TestPipeline_Run_WritesViews(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.opts.OutputTop10GeoJSON = filepath.Join(dir, "top10.geojson")
	h.opts.OutputHotspotsGeoJSON = filepath.Join(dir, "hotspots.geojson")
	exceeding := naiadesAnalysis("S1", "1107", "2020-01-01")
	exceeding["resultat"] = json.Number("0.35")
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{exceeding, naiadesAnalysis("S2", "1107", "2020-02-01")},
	}})

	h.run(t)

	top := readLayer(t, h.opts.OutputTop10GeoJSON)
	require.Len(t, top.Features, 2)
	assert.Equal(t, true, top.Features[0].Properties["top10_ppp_annee"])

	hotspots := readLayer(t, h.opts.OutputHotspotsGeoJSON)
	require.Len(t, hotspots.Features, 1)
	assert.Equal(t, "S1", hotspots.Features[0].Properties["code_station"])
	assert.InDelta(t, 3.5, hotspots.Features[0].Properties["ratio_seuil_sanitaire"], 1e-9)
}

func TestPipeline_Run_CacheHitMakesNoNetworkCalls(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})
	h.fetcher.set(domain.SourceADES, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{adesAnalysis("BSS1", "1107", "2019-05-05")},
	}})

	first := h.run(t)
	firstOutput, err := os.ReadFile(h.opts.OutputGeoJSON)
	require.NoError(t, err)
	callsAfterFirst := h.fetcher.totalCalls()
	assert.Equal(t, 4, callsAfterFirst, "stations and analyses for both sources")
	assert.False(t, first.Sources[0].AnalysesCached)

	second := h.run(t)
	secondOutput, err := os.ReadFile(h.opts.OutputGeoJSON)
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, h.fetcher.totalCalls())
	assert.True(t, second.Sources[0].AnalysesCached)
	assert.True(t, second.Sources[1].StationsCached)
	if diff := cmp.Diff(string(firstOutput), string(secondOutput)); diff != "" {
		t.Errorf("re-run output differs (-first +second):\n%s", diff)
	}
}

func TestPipeline_Run_OneSourceFailing(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})
	h.fetcher.set(domain.SourceADES, domain.KindAnalyses, fakeResponse{err: errors.New("503 after retries")})

	report := h.run(t)

	assert.Equal(t, []domain.Source{domain.SourceADES}, report.Failed())
	assert.Error(t, report.Sources[1].Err)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "naiades", fc.Features[0].Properties["source"])

	_, err := h.store.Get(context.Background(), analysesKey(domain.SourceADES))
	assert.ErrorIs(t, err, cache.ErrNotFound, "failed fetch is not committed")
}

func TestPipeline_Run_AbandonedFetchKeepsCommittedEntry(t *testing.T) {
	ctx := context.Background()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t)
	h.opts.ForceRefresh = true
	h.opts.Sources = h.opts.Sources[:1]

	committed := cache.Entry{
		FetchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Pages:     1,
		Exhausted: true,
		Records:   []domain.RawRecord{naiadesAnalysis("OLD", "1107", "2019-01-01")},
	}
	require.NoError(t, h.store.Put(ctx, analysesKey(domain.SourceNaiades), committed))

	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{
		pages: [][]domain.RawRecord{
			{naiadesAnalysis("NEW1", "1107", "2023-01-01")},
			{naiadesAnalysis("NEW2", "1107", "2023-02-01")},
		},
		err:    errors.New("connection reset"),
		failAt: 1,
	})

	report := h.run(t)
	require.Error(t, report.Sources[0].Err)
	assert.False(t, report.Sources[0].AnalysesCached)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "naiades|NEW1|1107|2023-01-01", fc.Features[0].ID)

	got, err := h.store.Get(ctx, analysesKey(domain.SourceNaiades))
	require.NoError(t, err)
	if diff := cmp.Diff(committed, got); diff != "" {
		t.Errorf("committed entry changed (-want +got):\n%s", diff)
	}

	staged, err := h.store.Get(ctx, analysesKey(domain.SourceNaiades).Staging())
	require.NoError(t, err)
	assert.Equal(t, 1, staged.Pages)
	assert.Len(t, staged.Records, 1)
	assert.Equal(t, "https://hubeau.example/next", staged.Next)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), staged.FetchedAt)
}

func TestPipeline_Run_PartialFetchIsExported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{
		pages: [][]domain.RawRecord{
			{naiadesAnalysis("NEW1", "1107", "2023-01-01")},
			{naiadesAnalysis("NEW2", "1107", "2023-02-01")},
		},
		err:    errors.New("connection reset"),
		failAt: 1,
	})

	report := h.run(t)

	require.Error(t, report.Sources[0].Err)
	assert.Equal(t, []domain.Source{domain.SourceNaiades}, report.Failed())
	assert.Equal(t, 1, report.Sources[0].RawAnalyses)
	assert.Equal(t, 1, report.Sources[0].Normalized)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "naiades|NEW1|1107|2023-01-01", fc.Features[0].ID)

	_, err := h.store.Get(ctx, analysesKey(domain.SourceNaiades))
	assert.ErrorIs(t, err, cache.ErrNotFound, "partial records are not committed")
}

func TestPipeline_Run_RefreshFailureFallsBackToCommittedEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.ForceRefresh = true
	h.opts.Sources = h.opts.Sources[:1]
	require.NoError(t, h.store.Put(ctx, analysesKey(domain.SourceNaiades), cache.Entry{
		Pages:     1,
		Exhausted: true,
		Records:   []domain.RawRecord{naiadesAnalysis("OLD", "1107", "2019-01-01")},
	}))
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{err: errors.New("503 after retries")})

	report := h.run(t)

	require.Error(t, report.Sources[0].Err)
	assert.True(t, report.Sources[0].AnalysesCached)
	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "naiades|OLD|1107|2019-01-01", fc.Features[0].ID)
}

func TestPipeline_Run_ResumesFromStagedEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	key := analysesKey(domain.SourceNaiades)
	require.NoError(t, h.store.Put(ctx, key.Staging(), cache.Entry{
		Pages:   2,
		Next:    "https://hubeau.example/analyse_pc?page=3",
		Records: []domain.RawRecord{naiadesAnalysis("S1", "1107", "2020-01-01"), naiadesAnalysis("S2", "1107", "2020-01-02")},
	}))
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{
		pages:   [][]domain.RawRecord{{naiadesAnalysis("FROM-START", "1107", "2020-01-01")}},
		resumed: [][]domain.RawRecord{{naiadesAnalysis("S3", "1107", "2020-01-03")}},
	})

	h.run(t)

	reqs := h.fetcher.requestsFor(domain.SourceNaiades, domain.KindAnalyses)
	require.Len(t, reqs, 1)
	assert.Equal(t, "https://hubeau.example/analyse_pc?page=3", reqs[0].StartURL)
	assert.Equal(t, 13, reqs[0].MaxPages, "page cap counts the staged pages")

	got, err := h.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Pages)
	assert.True(t, got.Exhausted)
	var stations []any
	for _, r := range got.Records {
		stations = append(stations, r["code_station"])
	}
	assert.Equal(t, []any{"S1", "S2", "S3"}, stations)

	_, err = h.store.Get(ctx, key.Staging())
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Len(t, readLayer(t, h.opts.OutputGeoJSON).Features, 3)
}

func TestPipeline_Run_CompleteStagedEntryIsCommittedWithoutFetching(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	key := analysesKey(domain.SourceNaiades)
	require.NoError(t, h.store.Put(ctx, key.Staging(), cache.Entry{
		Pages:   1,
		Records: []domain.RawRecord{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}))

	h.run(t)

	assert.Empty(t, h.fetcher.requestsFor(domain.SourceNaiades, domain.KindAnalyses))
	got, err := h.store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Exhausted)
	assert.Len(t, got.Records, 1)
}

func TestPipeline_Run_OfflineUsesStagedEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.Offline = true
	h.opts.Sources = h.opts.Sources[:1]
	require.NoError(t, h.store.Put(ctx, analysesKey(domain.SourceNaiades).Staging(), cache.Entry{
		Pages:   1,
		Next:    "https://hubeau.example/next",
		Records: []domain.RawRecord{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}))

	report := h.run(t)

	assert.Zero(t, h.fetcher.totalCalls())
	assert.True(t, report.Sources[0].AnalysesCached)
	assert.Len(t, readLayer(t, h.opts.OutputGeoJSON).Features, 1)
}

// countingStore counts writes of staging entries.
type countingStore struct {
	cache.Store
	mu     sync.Mutex
	staged []int
}

func (s *countingStore) Put(ctx context.Context, key cache.Key, e cache.Entry) error {
	if key.Marker == cache.MarkerPartial {
		s.mu.Lock()
		s.staged = append(s.staged, e.Pages)
		s.mu.Unlock()
	}
	return s.Store.Put(ctx, key, e)
}

func TestPipeline_Run_StagesEveryFewPages(t *testing.T) {
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	counter := &countingStore{}
	h.wrapStore = func(s cache.Store) cache.Store {
		counter.Store = s
		return counter
	}
	var pages [][]domain.RawRecord
	for range 12 {
		pages = append(pages, []domain.RawRecord{naiadesAnalysis("S1", "1107", "2020-01-01")})
	}
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: pages})

	h.run(t)

	assert.Equal(t, []int{5, 10}, counter.staged)
}

func TestPipeline_Run_SuccessfulFetchCommitsAndClearsStaging(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
		{naiadesAnalysis("S2", "1107", "2020-01-02")},
	}})

	h.run(t)

	got, err := h.store.Get(ctx, analysesKey(domain.SourceNaiades))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Pages)
	assert.True(t, got.Exhausted)
	assert.Len(t, got.Records, 2)

	_, err = h.store.Get(ctx, analysesKey(domain.SourceNaiades).Staging())
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPipeline_Run_CorruptCacheRefetches(t *testing.T) {
	h := newHarness(t)
	h.opts.Sources = h.opts.Sources[:1]
	key := analysesKey(domain.SourceNaiades)
	require.NoError(t, os.MkdirAll(filepath.Dir(h.store.Path(key)), 0o755))
	require.NoError(t, os.WriteFile(h.store.Path(key), []byte(`{"records":[{"code_sta`), 0o644))
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})

	report := h.run(t)

	assert.NoError(t, report.Sources[0].Err)
	assert.False(t, report.Sources[0].AnalysesCached)
	assert.Len(t, readLayer(t, h.opts.OutputGeoJSON).Features, 1)
}

func TestPipeline_Run_OfflineWithoutCache(t *testing.T) {
	h := newHarness(t)
	h.opts.Offline = true

	report := h.run(t)

	assert.Zero(t, h.fetcher.totalCalls())
	assert.Empty(t, report.Failed())
	assert.Empty(t, readLayer(t, h.opts.OutputGeoJSON).Features)
}

func TestPipeline_Run_StationCatalogEnrichesAndMayFail(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(domain.SourceNaiades, domain.KindStations, fakeResponse{pages: [][]domain.RawRecord{{
		{"code_station": "S1", "code_departement": "21", "libelle_station": "OUCHE A DIJON", "nom_cours_eau": "L'Ouche"},
	}}})
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})
	h.fetcher.set(domain.SourceADES, domain.KindStations, fakeResponse{err: errors.New("timeout")})
	h.fetcher.set(domain.SourceADES, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{adesAnalysis("BSS1", "1107", "2019-05-05")},
	}})

	report := h.run(t)

	assert.Error(t, report.Sources[1].StationsErr)
	assert.NoError(t, report.Sources[1].Err)

	fc := readLayer(t, h.opts.OutputGeoJSON)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "OUCHE A DIJON", fc.Features[0].Properties["libelle_station"])
	assert.Equal(t, "L'Ouche", fc.Features[0].Properties["cours_eau"])
	assert.Equal(t, "ades", fc.Features[1].Properties["source"])
}

func TestPipeline_Run_PublishesFeatures(t *testing.T) {
	h := newHarness(t)
	h.publisher = &fakePublisher{}
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})

	report := h.run(t)

	assert.NoError(t, report.PublishErr)
	assert.Equal(t, "run-test", h.publisher.runID)
	require.Len(t, h.publisher.features, 1)
	assert.Equal(t, "naiades|S1|1107|2020-01-01", h.publisher.features[0].ID)
}

func TestPipeline_Run_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.publisher = &fakePublisher{err: errors.New("broker down")}
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})

	report := h.run(t)

	assert.Error(t, report.PublishErr)
	assert.Len(t, readLayer(t, h.opts.OutputGeoJSON).Features, 1)
}

func TestPipeline_Run_ExportFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	h.opts.OutputGeoJSON = filepath.Join(blocker, "layer.geojson")

	_, err := h.pipeline().Run(context.Background())
	require.Error(t, err)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()

	require.Error(t, p.CheckReadiness(context.Background()))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline().Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, h.opts.OutputGeoJSON)
}

func TestPipeline_LastRun(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(domain.SourceNaiades, domain.KindAnalyses, fakeResponse{pages: [][]domain.RawRecord{
		{naiadesAnalysis("S1", "1107", "2020-01-01")},
	}})
	h.fetcher.set(domain.SourceADES, domain.KindAnalyses, fakeResponse{err: errors.New("gateway timeout")})
	p := h.pipeline()

	_, ok := p.LastRun()
	require.False(t, ok)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	last, ok := p.LastRun()
	require.True(t, ok)
	summary, ok := last.(pipeline.RunSummary)
	require.True(t, ok)
	assert.Equal(t, "run-test", summary.RunID)
	assert.Equal(t, 1, summary.Exported)
	require.Len(t, summary.Sources, 2)
	assert.Equal(t, 1, summary.Sources[0].Exported)
	assert.Contains(t, summary.Sources[1].Error, "gateway timeout")
}
