package geojson

import (
	"cmp"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// TopParametersPerYear is the number of parameters kept per year by TopParametersByYear.
const TopParametersPerYear = 10

type yearParameter struct {
	year      string
	parameter string
}

// TopParametersByYear keeps the features of the n most analysed parameters of
// each year. Ties are broken by parameter code. Kept features are copies of the
// layer's, tagged with top10_ppp_annee and their rank within the year.
func TopParametersByYear(l Layer, n int) *geojson.FeatureCollection {
	counts := make(map[yearParameter]int)
	for _, r := range l.Records {
		if r.Year == "" || r.ParameterCode == "" {
			continue
		}
		counts[yearParameter{r.Year, r.ParameterCode}]++
	}

	byYear := make(map[string][]yearParameter)
	for k := range counts {
		byYear[k.year] = append(byYear[k.year], k)
	}
	rank := make(map[yearParameter]int)
	for _, keys := range byYear {
		slices.SortFunc(keys, func(a, b yearParameter) int {
			return cmp.Or(
				cmp.Compare(counts[b], counts[a]),
				cmp.Compare(a.parameter, b.parameter),
			)
		})
		for i, k := range keys[:min(n, len(keys))] {
			rank[k] = i + 1
		}
	}

	fc := geojson.NewFeatureCollection()
	for i, r := range l.Records {
		pos, ok := rank[yearParameter{r.Year, r.ParameterCode}]
		if !ok {
			continue
		}
		src := l.Collection.Features[i]
		f := geojson.NewFeature(src.Geometry)
		f.ID = src.ID
		f.Properties = src.Properties.Clone()
		f.Properties["top10_ppp_annee"] = true
		f.Properties["top10_rang"] = pos
		fc.Append(f)
	}
	return fc
}

type hotspotKey struct {
	dataType  domain.DataType
	station   string
	parameter string
}

type hotspot struct {
	key            hotspotKey
	geometry       orb.Geometry
	stationLabel   string
	parameterLabel string
	measured       int
	exceedances    int
	maxConc        float64
	// worst is the record with the highest threshold ratio.
	worst   *domain.NormalizedRecord
	yearMin string
	yearMax string
}

// Hotspots aggregates the layer per data type, station and parameter and keeps
// the groups with at least one threshold exceedance, worst ratio first. Each
// hotspot is placed at the first feature of its group and carries symbol sizes
// that grow with the ratio.
func Hotspots(l Layer) *geojson.FeatureCollection {
	groups := make(map[hotspotKey]*hotspot)
	for i, r := range l.Records {
		k := hotspotKey{r.DataType, r.StationCode, r.ParameterCode}
		h, ok := groups[k]
		if !ok {
			h = &hotspot{key: k, geometry: l.Collection.Features[i].Geometry}
			groups[k] = h
		}
		h.stationLabel = firstNonEmpty(h.stationLabel, r.StationLabel)
		h.parameterLabel = firstNonEmpty(h.parameterLabel, r.ParameterLabel)
		if r.Year != "" {
			if h.yearMin == "" || r.Year < h.yearMin {
				h.yearMin = r.Year
			}
			if r.Year > h.yearMax {
				h.yearMax = r.Year
			}
		}
		if r.ConcentrationUGL == nil {
			continue
		}
		if h.measured == 0 || *r.ConcentrationUGL > h.maxConc {
			h.maxConc = *r.ConcentrationUGL
		}
		h.measured++
		if r.ExceedsThreshold != nil && *r.ExceedsThreshold {
			h.exceedances++
		}
		if r.ThresholdRatio != nil && (h.worst == nil || *r.ThresholdRatio > *h.worst.ThresholdRatio) {
			h.worst = &l.Records[i]
		}
	}

	kept := make([]*hotspot, 0, len(groups))
	for _, h := range groups {
		if h.exceedances > 0 && h.worst != nil {
			kept = append(kept, h)
		}
	}
	slices.SortFunc(kept, func(a, b *hotspot) int {
		return cmp.Or(
			cmp.Compare(*b.worst.ThresholdRatio, *a.worst.ThresholdRatio),
			cmp.Compare(a.key.dataType, b.key.dataType),
			cmp.Compare(a.key.station, b.key.station),
			cmp.Compare(a.key.parameter, b.key.parameter),
		)
	})

	fc := geojson.NewFeatureCollection()
	for _, h := range kept {
		ratio := *h.worst.ThresholdRatio
		size := symbolSize(ratio)
		f := geojson.NewFeature(h.geometry)
		f.ID = "hotspot|" + string(h.key.dataType) + "|" + h.key.station + "|" + h.key.parameter
		f.Properties = geojson.Properties{
			"type_donnee":                 string(h.key.dataType),
			"code_station":                h.key.station,
			"libelle_station":             h.stationLabel,
			"code_parametre":              h.key.parameter,
			"libelle_parametre":           h.parameterLabel,
			"n_mesures":                   h.measured,
			"n_depassements":              h.exceedances,
			"max_conc_ugl":                h.maxConc,
			"concentration_ugl":           *h.worst.ConcentrationUGL,
			"ratio_seuil_sanitaire":       ratio,
			"depassement_seuil_sanitaire": "oui",
			"date_prelevement":            h.worst.SamplingDate,
			"annee_min":                   h.yearMin,
			"annee_max":                   h.yearMax,
			"taille_mm":                   size,
			"taille_inner_mm":             round1(math.Max(size-1.5, 1.5)),
			"classe_taille":               sizeClass(size),
		}
		fc.Append(f)
	}
	return fc
}

// symbolSize maps a threshold ratio to a marker diameter in millimetres,
// from 4 at the threshold up to 10.8 at ten times it.
func symbolSize(ratio float64) float64 {
	return round1(4 + 0.75*math.Min(math.Max(ratio-1, 0), 9))
}

func sizeClass(size float64) int {
	switch {
	case size >= 9.5:
		return 4
	case size >= 7.5:
		return 3
	case size >= 5.5:
		return 2
	default:
		return 1
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
