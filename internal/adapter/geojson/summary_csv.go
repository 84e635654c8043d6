package geojson

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

var summaryHeader = []string{
	"type_donnee",
	"code_station",
	"libelle_station",
	"code_parametre",
	"libelle_parametre",
	"annee",
	"nb_prelevements",
	"nb_mesures_ugl",
	"moyenne_ugl",
	"max_ugl",
	"nb_depassements",
}

type groupKey struct {
	dataType  domain.DataType
	station   string
	parameter string
	year      string
}

type group struct {
	key            groupKey
	stationLabel   string
	parameterLabel string
	samples        int
	measured       int
	sum            float64
	max            float64
	exceedances    int
}

// AggregateByYear groups records per data type, station, parameter and year,
// sorted by those keys.
func AggregateByYear(records []domain.NormalizedRecord) [][]string {
	groups := make(map[groupKey]*group)
	for _, r := range records {
		k := groupKey{r.DataType, r.StationCode, r.ParameterCode, r.Year}
		g, ok := groups[k]
		if !ok {
			g = &group{key: k}
			groups[k] = g
		}
		g.samples++
		g.stationLabel = firstNonEmpty(g.stationLabel, r.StationLabel)
		g.parameterLabel = firstNonEmpty(g.parameterLabel, r.ParameterLabel)
		if r.ConcentrationUGL != nil {
			v := *r.ConcentrationUGL
			if g.measured == 0 || v > g.max {
				g.max = v
			}
			g.measured++
			g.sum += v
		}
		if r.ExceedsThreshold != nil && *r.ExceedsThreshold {
			g.exceedances++
		}
	}

	sorted := make([]*group, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	slices.SortFunc(sorted, func(a, b *group) int {
		return cmp.Or(
			cmp.Compare(a.key.dataType, b.key.dataType),
			cmp.Compare(a.key.station, b.key.station),
			cmp.Compare(a.key.parameter, b.key.parameter),
			cmp.Compare(a.key.year, b.key.year),
		)
	})

	rows := make([][]string, 0, len(sorted))
	for _, g := range sorted {
		mean, maxValue := "", ""
		if g.measured > 0 {
			mean = formatFloat(g.sum / float64(g.measured))
			maxValue = formatFloat(g.max)
		}
		rows = append(rows, []string{
			string(g.key.dataType),
			g.key.station,
			g.stationLabel,
			g.key.parameter,
			g.parameterLabel,
			g.key.year,
			strconv.Itoa(g.samples),
			strconv.Itoa(g.measured),
			mean,
			maxValue,
			strconv.Itoa(g.exceedances),
		})
	}
	return rows
}

// WriteSummaryCSV writes the yearly aggregation of records as a
// semicolon-separated file, atomically.
func WriteSummaryCSV(records []domain.NormalizedRecord, path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(summaryHeader); err != nil {
		return fmt.Errorf("encode summary header: %w", err)
	}
	if err := w.WriteAll(AggregateByYear(records)); err != nil {
		return fmt.Errorf("encode summary rows: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
