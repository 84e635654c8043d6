package domain

import (
	"iter"
	"math"
	"strings"
)

// DefaultThresholdUGL is the drinking-water limit for an individual pesticide.
const DefaultThresholdUGL = 0.1

// Thresholds maps parameter codes to a sanitary threshold in µg/L. Codes without
// an entry use DefaultThresholdUGL.
type Thresholds map[string]float64

// For returns the threshold applicable to a parameter code.
func (t Thresholds) For(code string) float64 {
	if v, ok := t[code]; ok && v > 0 {
		return v
	}
	return DefaultThresholdUGL
}

// NormalizeOptions carries the run-level inputs of normalization.
type NormalizeOptions struct {
	// Department is the department of the run. Records located elsewhere are
	// dropped; records without a department are assigned this one.
	Department string
	Thresholds Thresholds
}

// Normalize maps native records of one source and resource kind onto the
// canonical record. Unknown native fields are ignored and missing ones stay
// absent; a record is only dropped when it is located in another department.
func Normalize(adapter SourceAdapter, kind ResourceKind, records iter.Seq[RawRecord], opts NormalizeOptions) []NormalizedRecord {
	fields := adapter.NativeFieldMap(kind)
	coords := adapter.CoordinateFields(kind)

	var out []NormalizedRecord
	for raw := range records {
		rec := NormalizedRecord{
			Source:   adapter.Name(),
			DataType: adapter.DataType(),
		}
		// Each canonical field has at most one native field per kind, so map
		// iteration order does not change the result.
		for native, canonical := range fields {
			if v, ok := raw.Field(native); ok {
				rec.set(canonical, v)
			}
		}

		dep := resolveDepartment(rec.Department, rec.CommuneCode)
		if dep == "" {
			dep = opts.Department
		}
		if opts.Department != "" && dep != opts.Department {
			continue
		}
		rec.Department = dep

		rec.Year = deriveYear(rec.SamplingDate)
		rec.Coordinates = coordinateCandidates(raw, coords)
		if kind == KindAnalyses {
			applyConcentration(&rec, opts.Thresholds)
		}
		out = append(out, rec)
	}
	return out
}

// resolveDepartment returns the department code, falling back to the INSEE
// commune code prefix (three characters for overseas departments).
func resolveDepartment(dep, commune string) string {
	if dep != "" {
		if len(dep) == 1 {
			return "0" + dep
		}
		return strings.ToUpper(dep)
	}
	if len(commune) != 5 {
		return ""
	}
	if strings.HasPrefix(commune, "97") {
		return commune[:3]
	}
	return strings.ToUpper(commune[:2])
}

func coordinateCandidates(raw RawRecord, fields []CoordinateField) []Coordinate {
	var out []Coordinate
	for _, cf := range fields {
		xs, okX := raw.Field(cf.X)
		ys, okY := raw.Field(cf.Y)
		if !okX || !okY {
			continue
		}
		x, okX := parseFloat(xs)
		y, okY := parseFloat(ys)
		if !okX || !okY {
			continue
		}
		out = append(out, Coordinate{X: x, Y: y, CRS: cf.CRS})
	}
	return out
}

// applyConcentration converts the result to µg/L when the unit is recognised and
// flags results above the sanitary threshold.
func applyConcentration(rec *NormalizedRecord, thresholds Thresholds) {
	if rec.Result == nil {
		return
	}
	factor, ok := unitFactorUGL(rec.Unit)
	if !ok {
		return
	}
	conc := *rec.Result * factor
	limit := thresholds.For(rec.ParameterCode)
	exceeds := conc > limit
	rec.ConcentrationUGL = &conc
	rec.ThresholdUGL = &limit
	rec.ExceedsThreshold = &exceeds
	if limit > 0 {
		ratio := math.Round(conc/limit*100) / 100
		rec.ThresholdRatio = &ratio
	}
}

// unitFactorUGL returns the multiplier converting a value in unit to µg/L.
func unitFactorUGL(unit string) (float64, bool) {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.NewReplacer("µ", "u", "μ", "u", " ", "").Replace(u)
	switch u {
	case "ug/l":
		return 1, true
	case "mg/l":
		return 1000, true
	case "ng/l":
		return 0.001, true
	default:
		return 0, false
	}
}
