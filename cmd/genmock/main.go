// Command genmock writes synthetic Hub'Eau record sets into the file cache so
// the ETL can run with OFFLINE=true on a machine without network access. The
// records use each source's native field names, taken from the domain schema
// registry, so they flow through the same filter and normalization as live data.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -cache-dir data/cache \
//	  -departement 33 \
//	  -stations 12 -samples 40
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/cache"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// fetchedAt is stamped on every generated entry for reproducible output.
var fetchedAt = time.Date(2025, time.January, 6, 6, 0, 0, 0, time.UTC)

type parameter struct {
	code  string
	label string
	// typical concentration in µg/L
	scale float64
}

var parameters = []parameter{
	{code: "1107", label: "Atrazine", scale: 0.03},
	{code: "1108", label: "Atrazine déséthyl", scale: 0.05},
	{code: "1506", label: "Glyphosate", scale: 0.2},
	{code: "1907", label: "AMPA", scale: 0.4},
	{code: "1221", label: "Métolachlore", scale: 0.08},
}

type options struct {
	cacheDir   string
	department string
	stations   int
	samples    int
	years      int
	lon, lat   float64
	seed       uint64
}

func main() {
	var o options
	flag.StringVar(&o.cacheDir, "cache-dir", "data/cache", "file cache directory")
	flag.StringVar(&o.department, "departement", "33", "department code")
	flag.IntVar(&o.stations, "stations", 10, "stations per source")
	flag.IntVar(&o.samples, "samples", 30, "sampling dates per station")
	flag.IntVar(&o.years, "years", 5, "years covered by the samples")
	flag.Float64Var(&o.lon, "lon", -0.58, "longitude of the department centre")
	flag.Float64Var(&o.lat, "lat", 44.84, "latitude of the department centre")
	flag.Uint64Var(&o.seed, "seed", 1, "random seed")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, o options) error {
	if o.stations <= 0 || o.samples <= 0 || o.years <= 0 {
		return fmt.Errorf("stations, samples and years must be positive")
	}

	domain.SetClock(clockwork.NewFakeClockAt(fetchedAt))
	defer domain.SetClock(nil)

	store := cache.NewFileStore(o.cacheDir)
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	for _, src := range domain.SourceOrder {
		schema := domain.Schemas[src]
		g := generator{schema: schema, opts: o, rng: rng}

		stations, analyses := g.generate()
		for kind, recs := range map[domain.ResourceKind][]domain.RawRecord{
			domain.KindStations: stations,
			domain.KindAnalyses: analyses,
		} {
			key := cache.Key{Source: src, Kind: kind, Department: o.department}
			entry := cache.Entry{FetchedAt: fetchedAt, Pages: 1, Exhausted: true, Records: recs}
			if err := store.Put(ctx, key, entry); err != nil {
				return fmt.Errorf("write %s: %w", key, err)
			}
			log.Printf("%s: %d records -> %s", key, len(recs), store.Path(key))
		}
	}
	return nil
}

type generator struct {
	schema domain.Schema
	opts   options
	rng    *rand.Rand
}

// native returns the source field name for a canonical field.
func (g generator) native(kind domain.ResourceKind, f domain.Field) (string, bool) {
	for native, canonical := range g.schema.NativeFieldMap(kind) {
		if canonical == f {
			return native, true
		}
	}
	return "", false
}

func (g generator) generate() (stations, analyses []domain.RawRecord) {
	end := domain.Now().AddDate(0, 0, -1)
	span := end.Sub(end.AddDate(-g.opts.years, 0, 0))

	for i := range g.opts.stations {
		code := g.stationCode(i)
		label := fmt.Sprintf("Station %s %d", g.schema.Type, i+1)
		lon := round7(g.opts.lon + (g.rng.Float64()-0.5)*0.8)
		lat := round7(g.opts.lat + (g.rng.Float64()-0.5)*0.6)

		stations = append(stations, g.record(domain.KindStations, map[domain.Field]any{
			domain.FieldCodeStation:     code,
			domain.FieldLibelleStation:  label,
			domain.FieldCodeDepartement: g.opts.department,
		}, lon, lat))

		for range g.opts.samples {
			offset := time.Duration(g.rng.Int64N(int64(span)))
			date := domain.FormatDate(end.Add(-offset))
			for _, p := range parameters {
				if g.rng.Float64() < 0.3 {
					continue
				}
				analyses = append(analyses, g.record(domain.KindAnalyses, map[domain.Field]any{
					domain.FieldCodeStation:      code,
					domain.FieldLibelleStation:   label,
					domain.FieldCodeDepartement:  g.opts.department,
					domain.FieldCodeParametre:    p.code,
					domain.FieldLibelleParametre: p.label,
					domain.FieldResultat:         math.Round(g.rng.ExpFloat64()*p.scale*1e4) / 1e4,
					domain.FieldSymboleUnite:     "µg/L",
					domain.FieldDatePrelevement:  date,
				}, lon, lat))
			}
		}
	}
	return stations, analyses
}

func (g generator) record(kind domain.ResourceKind, values map[domain.Field]any, lon, lat float64) domain.RawRecord {
	rec := make(domain.RawRecord, len(values)+2)
	for f, v := range values {
		if name, ok := g.native(kind, f); ok {
			rec[name] = v
		}
	}
	rec["longitude"] = lon
	rec["latitude"] = lat
	return rec
}

func (g generator) stationCode(i int) string {
	if g.schema.Type == domain.DataTypeGroundwater {
		return fmt.Sprintf("BSS00%04dX%d", 1000+i, i%10)
	}
	return fmt.Sprintf("05%06d", 100*(i+1))
}

func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}
