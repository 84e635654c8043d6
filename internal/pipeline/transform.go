package pipeline

import (
	"log/slog"
	"slices"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// SourceTransformer turns the raw record sets of one source into canonical
// analyses: filter, normalize, then join with the station catalog.
type SourceTransformer struct {
	normalize domain.NormalizeOptions
	logger    *slog.Logger
}

// NewTransformer creates a SourceTransformer for a run.
func NewTransformer(department string, thresholds domain.Thresholds, logger *slog.Logger) *SourceTransformer {
	return &SourceTransformer{
		normalize: domain.NormalizeOptions{Department: department, Thresholds: thresholds},
		logger:    logger,
	}
}

// TransformResult holds the canonical analyses of a source and the counts of
// each stage.
type TransformResult struct {
	Records    []domain.NormalizedRecord
	Filtered   int
	Normalized int
}

// Transform applies the filter to analyses and normalizes the survivors. An
// empty station catalog leaves the analyses without station attributes.
func (t *SourceTransformer) Transform(adapter domain.SourceAdapter, filter domain.FilterSpec, analyses, stations []domain.RawRecord) TransformResult {
	filtered := slices.Collect(filter.Apply(adapter, analyses))
	records := domain.Normalize(adapter, domain.KindAnalyses, slices.Values(filtered), t.normalize)

	catalog := domain.Normalize(adapter, domain.KindStations, slices.Values(stations), domain.NormalizeOptions{
		Department: t.normalize.Department,
	})
	enriched := domain.EnrichWithStations(records, catalog, t.logger.With("source", adapter.Name()))

	return TransformResult{
		Records:    enriched,
		Filtered:   len(filtered),
		Normalized: len(records),
	}
}
