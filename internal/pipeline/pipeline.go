package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/cache"
	geojsonadapter "github.com/couchcryptid/water-quality-etl/internal/adapter/geojson"
	"github.com/couchcryptid/water-quality-etl/internal/adapter/hubeau"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
	"github.com/couchcryptid/water-quality-etl/internal/observability"
)

// Fetcher retrieves a paginated record set from a remote service.
type Fetcher interface {
	Fetch(ctx context.Context, req hubeau.Request, onPage hubeau.PageFunc) (hubeau.Result, error)
}

// FeaturePublisher forwards exported features to a downstream system.
type FeaturePublisher interface {
	Publish(ctx context.Context, runID string, features []*geojson.Feature) error
}

// SourceSettings configures the chain of one source.
type SourceSettings struct {
	Source   domain.Source
	MaxPages int
	Filter   domain.FilterSpec
}

// Options are the run-level settings of a Pipeline.
type Options struct {
	RunID      string
	Department string
	// Sources are processed concurrently and exported in this order.
	Sources          []SourceSettings
	StationsMaxPages int
	ForceRefresh     bool
	Offline          bool
	OutputGeoJSON    string
	OutputSummaryCSV string
	// OutputTop10GeoJSON and OutputHotspotsGeoJSON are written only when set.
	OutputTop10GeoJSON    string
	OutputHotspotsGeoJSON string
}

// SourceReport describes the outcome of one source chain. A non-nil Err means
// the analyses fetch failed; records retrieved before the failure, or the
// previously cached entry on a forced refresh, are still exported.
type SourceReport struct {
	Source         domain.Source
	AnalysesCached bool
	StationsCached bool
	RawAnalyses    int
	RawStations    int
	Filtered       int
	Normalized     int
	StationsErr    error
	Err            error
}

// Report is the outcome of a run.
type Report struct {
	RunID      string
	Sources    []SourceReport
	Export     geojsonadapter.Summary
	PublishErr error
	Duration   time.Duration
}

// Failed returns the sources whose analyses fetch failed.
func (r Report) Failed() []domain.Source {
	var out []domain.Source
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, s.Source)
		}
	}
	return out
}

// SourceSummary is the JSON view of a SourceReport.
type SourceSummary struct {
	Source         domain.Source `json:"source"`
	AnalysesCached bool          `json:"analyses_cached"`
	RawAnalyses    int           `json:"raw_analyses"`
	RawStations    int           `json:"raw_stations"`
	Filtered       int           `json:"filtered"`
	Normalized     int           `json:"normalized"`
	Exported       int           `json:"exported"`
	Duplicates     int           `json:"duplicates"`
	StationsError  string        `json:"stations_error,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// RunSummary is the JSON view of a Report.
type RunSummary struct {
	RunID        string          `json:"run_id"`
	Exported     int             `json:"exported"`
	Sources      []SourceSummary `json:"sources"`
	PublishError string          `json:"publish_error,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}

// Summary flattens the report for display.
func (r Report) Summary() RunSummary {
	out := RunSummary{
		RunID:      r.RunID,
		Exported:   r.Export.Exported(),
		Sources:    make([]SourceSummary, 0, len(r.Sources)),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.PublishErr != nil {
		out.PublishError = r.PublishErr.Error()
	}
	for _, s := range r.Sources {
		counts := r.Export.Counts[s.Source]
		ss := SourceSummary{
			Source:         s.Source,
			AnalysesCached: s.AnalysesCached,
			RawAnalyses:    s.RawAnalyses,
			RawStations:    s.RawStations,
			Filtered:       s.Filtered,
			Normalized:     s.Normalized,
			Exported:       counts.Exported,
			Duplicates:     counts.Duplicates,
		}
		if s.StationsErr != nil {
			ss.StationsError = s.StationsErr.Error()
		}
		if s.Err != nil {
			ss.Error = s.Err.Error()
		}
		out.Sources = append(out.Sources, ss)
	}
	return out
}

// Pipeline runs the fetch, cache, filter, normalize and export chain for a
// department.
type Pipeline struct {
	fetcher     Fetcher
	store       cache.Store
	transformer *SourceTransformer
	exporter    *geojsonadapter.Exporter
	publisher   FeaturePublisher
	opts        Options
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	last        atomic.Pointer[RunSummary]
}

// New creates a Pipeline. The publisher may be nil.
func New(f Fetcher, s cache.Store, t *SourceTransformer, e *geojsonadapter.Exporter, pub FeaturePublisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:     f,
		store:       s,
		transformer: t,
		exporter:    e,
		publisher:   pub,
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the summary of the last completed run.
func (p *Pipeline) LastRun() (any, bool) {
	s := p.last.Load()
	if s == nil {
		return nil, false
	}
	return *s, true
}

// Run executes every enabled source chain, merges their output and writes the
// layer. A failing source is reported, not returned; the error is reserved for
// failures that leave no valid output.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RunID: p.opts.RunID, Sources: make([]SourceReport, len(p.opts.Sources))}

	p.logger.Info("run started",
		"department", p.opts.Department,
		"sources", len(p.opts.Sources),
		"force_refresh", p.opts.ForceRefresh,
		"offline", p.opts.Offline,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	batches := make([]geojsonadapter.Batch, len(p.opts.Sources))

	// Chains share no state besides disjoint cache keys; an error in one never
	// cancels the other.
	var g errgroup.Group
	for i, src := range p.opts.Sources {
		g.Go(func() error {
			records, sr := p.runSource(ctx, src)
			report.Sources[i] = sr
			batches[i] = geojsonadapter.Batch{Source: src.Source, Records: records}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run cancelled: %w", err)
	}

	layer := p.exporter.Build(batches)
	report.Export = layer.Summary
	if err := layer.WriteFile(p.opts.OutputGeoJSON); err != nil {
		return report, fmt.Errorf("export geojson: %w", err)
	}
	if p.opts.OutputSummaryCSV != "" {
		if err := geojsonadapter.WriteSummaryCSV(layer.Records, p.opts.OutputSummaryCSV); err != nil {
			return report, fmt.Errorf("export summary: %w", err)
		}
	}
	if p.opts.OutputTop10GeoJSON != "" {
		top := geojsonadapter.TopParametersByYear(layer, geojsonadapter.TopParametersPerYear)
		if err := geojsonadapter.WriteCollection(top, p.opts.OutputTop10GeoJSON); err != nil {
			return report, fmt.Errorf("export top parameters: %w", err)
		}
	}
	if p.opts.OutputHotspotsGeoJSON != "" {
		if err := geojsonadapter.WriteCollection(geojsonadapter.Hotspots(layer), p.opts.OutputHotspotsGeoJSON); err != nil {
			return report, fmt.Errorf("export hotspots: %w", err)
		}
	}
	for src, c := range layer.Summary.Counts {
		p.metrics.RecordsExported.WithLabelValues(string(src)).Add(float64(c.Exported))
		p.metrics.DuplicateRecords.WithLabelValues(string(src)).Add(float64(c.Duplicates))
	}

	if p.publisher != nil && len(layer.Collection.Features) > 0 {
		if err := p.publisher.Publish(ctx, p.opts.RunID, layer.Collection.Features); err != nil {
			report.PublishErr = err
			p.logger.Error("publish features failed", "error", err)
		} else {
			p.metrics.FeaturesPublished.Add(float64(len(layer.Collection.Features)))
		}
	}

	report.Duration = time.Since(start)
	p.metrics.RunDuration.Observe(report.Duration.Seconds())
	summary := report.Summary()
	p.last.Store(&summary)
	p.ready.Store(true)

	p.logger.Info("run finished",
		"exported", layer.Summary.Exported(),
		"failed_sources", report.Failed(),
		"output", p.opts.OutputGeoJSON,
		"duration", report.Duration,
	)
	return report, nil
}

func (p *Pipeline) runSource(ctx context.Context, src SourceSettings) ([]domain.NormalizedRecord, SourceReport) {
	sr := SourceReport{Source: src.Source}
	log := p.logger.With("source", src.Source)

	schema, ok := domain.LookupSchema(src.Source)
	if !ok {
		sr.Err = fmt.Errorf("%w: %q", hubeau.ErrUnknownSource, src.Source)
		p.metrics.SourceFailures.WithLabelValues(string(src.Source)).Inc()
		return nil, sr
	}

	stations, cached, err := p.load(ctx, hubeau.Request{
		Source:     src.Source,
		Kind:       domain.KindStations,
		Department: p.opts.Department,
		MaxPages:   p.opts.StationsMaxPages,
	})
	if err != nil {
		// Analyses can still be exported without station attributes.
		sr.StationsErr = err
		log.Warn("station catalog unavailable", "error", err)
	}
	sr.StationsCached = cached
	sr.RawStations = len(stations)

	analyses, cached, err := p.load(ctx, hubeau.Request{
		Source:     src.Source,
		Kind:       domain.KindAnalyses,
		Department: p.opts.Department,
		MaxPages:   src.MaxPages,
		Hint:       src.Filter,
	})
	if err != nil {
		sr.Err = err
		p.metrics.SourceFailures.WithLabelValues(string(src.Source)).Inc()
		if len(analyses) == 0 {
			log.Error("source abandoned", "error", err)
			return nil, sr
		}
		log.Warn("source incomplete, continuing with the records retrieved", "records", len(analyses), "error", err)
	}
	sr.AnalysesCached = cached
	sr.RawAnalyses = len(analyses)

	res := p.transformer.Transform(schema, src.Filter, analyses, stations)
	sr.Filtered = res.Filtered
	sr.Normalized = res.Normalized
	p.metrics.RecordsFiltered.WithLabelValues(string(src.Source)).Add(float64(res.Filtered))
	p.metrics.RecordsNormalized.WithLabelValues(string(src.Source)).Add(float64(res.Normalized))

	log.Info("source processed",
		"raw_analyses", sr.RawAnalyses,
		"raw_stations", sr.RawStations,
		"filtered", sr.Filtered,
		"normalized", sr.Normalized,
		"from_cache", sr.AnalysesCached,
	)
	return res.Records, sr
}
