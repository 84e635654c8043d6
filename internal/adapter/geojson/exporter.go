// Package geojson builds the point layer of normalized measurements and writes
// it, with its yearly aggregation and derived views, as files.
package geojson

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// Batch is the normalized output of one source.
type Batch struct {
	Source  domain.Source
	Records []domain.NormalizedRecord
}

// SourceSummary counts what happened to the records of one source.
type SourceSummary struct {
	Input              int `json:"input"`
	WithoutCoordinates int `json:"without_coordinates"`
	Duplicates         int `json:"duplicates"`
	Exported           int `json:"exported"`
}

// Summary reports an export per source, in batch order.
type Summary struct {
	Sources []domain.Source
	Counts  map[domain.Source]SourceSummary
}

// Exported returns the number of features written across sources.
func (s Summary) Exported() int {
	n := 0
	for _, c := range s.Counts {
		n += c.Exported
	}
	return n
}

// Layer is a built feature collection together with the records it retained.
type Layer struct {
	Collection *geojson.FeatureCollection
	// Records are the retained records, index-aligned with Collection.Features.
	Records []domain.NormalizedRecord
	Summary Summary
}

// Exporter turns normalized batches into a GeoJSON point layer.
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(logger *slog.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Build resolves coordinates and removes duplicates. Batches are consumed in
// order and the first record seen for a duplicate key is kept.
func (e *Exporter) Build(batches []Batch) Layer {
	layer := Layer{
		Collection: geojson.NewFeatureCollection(),
		Summary:    Summary{Counts: make(map[domain.Source]SourceSummary, len(batches))},
	}
	seen := make(map[string]struct{})

	for _, b := range batches {
		counts, ok := layer.Summary.Counts[b.Source]
		if !ok {
			layer.Summary.Sources = append(layer.Summary.Sources, b.Source)
		}
		for _, rec := range b.Records {
			counts.Input++

			pt, ok := resolvePoint(rec.Coordinates)
			if !ok {
				counts.WithoutCoordinates++
				continue
			}
			key := rec.DedupKey()
			if _, dup := seen[key]; dup {
				counts.Duplicates++
				continue
			}
			seen[key] = struct{}{}

			f := geojson.NewFeature(pt)
			f.ID = key
			f.Properties = rec.Properties()
			layer.Collection.Append(f)
			layer.Records = append(layer.Records, rec)
			counts.Exported++
		}
		layer.Summary.Counts[b.Source] = counts
	}

	for _, src := range layer.Summary.Sources {
		c := layer.Summary.Counts[src]
		e.logger.Info("layer built",
			"source", src,
			"input", c.Input,
			"without_coordinates", c.WithoutCoordinates,
			"duplicates", c.Duplicates,
			"exported", c.Exported,
		)
	}
	return layer
}

// WriteFile writes the collection to path atomically: a failed write leaves any
// previous file untouched.
func (l Layer) WriteFile(path string) error {
	return WriteCollection(l.Collection, path)
}

// WriteCollection writes fc to path atomically.
func WriteCollection(fc *geojson.FeatureCollection, path string) error {
	b, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode feature collection: %w", err)
	}
	return writeAtomic(path, append(b, '\n'))
}

// Export builds the layer for batches and writes it to path.
func (e *Exporter) Export(batches []Batch, path string) (Summary, error) {
	layer := e.Build(batches)
	if err := layer.WriteFile(path); err != nil {
		return layer.Summary, err
	}
	return layer.Summary, nil
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
