// Command validate checks an exported pesticide layer against the invariants
// every run must uphold: point geometries in WGS84, canonical attributes, one
// feature per measurement, a single department and, optionally, parameters
// restricted to the reference code list.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -geojson data/sig/analyse_stations_ppp.geojson \
//	  -departement 33 \
//	  -codes data/ref/parametres_pesticides.csv
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/water-quality-etl/internal/adapter/refdata"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxErrors caps the detail printed per phase.
const maxErrors = 20

func main() {
	path := flag.String("geojson", "", "path to the exported GeoJSON layer")
	department := flag.String("departement", "", "expected department code (optional)")
	codesPath := flag.String("codes", "", "pesticide code list CSV (optional)")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, *path, *department, *codesPath))
}

func run(w io.Writer, path, department, codesPath string) int {
	fmt.Fprintln(w, "=== Pesticide Layer Validation ===")
	fmt.Fprintln(w)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w, "FATAL: read layer: %v\n", err)
		return 1
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		fmt.Fprintf(w, "FATAL: decode layer: %v\n", err)
		return 1
	}

	var codes []string
	if codesPath != "" {
		codes, err = refdata.LoadPesticideCodes(codesPath)
		if err != nil {
			fmt.Fprintf(w, "FATAL: load codes: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateGeometry(fc.Features),
		validateAttributes(fc.Features),
		validateUniqueness(fc.Features),
		validateDepartment(fc.Features, department),
		validateParameters(fc.Features, codes),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	counts := countBySource(fc.Features)
	fmt.Fprintf(w, "Features: %d total", len(fc.Features))
	for _, src := range domain.SourceOrder {
		fmt.Fprintf(w, ", %d %s", counts[string(src)], src)
	}
	fmt.Fprintln(w)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrors {
				fmt.Fprintf(w, "  ... %d more\n", len(p.errors)-maxErrors)
				break
			}
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func countBySource(features []*geojson.Feature) map[string]int {
	counts := make(map[string]int)
	for _, f := range features {
		counts[f.Properties.MustString("source", "")]++
	}
	return counts
}

// ── Phase 1: Geometry ──

func validateGeometry(features []*geojson.Feature) *phase {
	p := &phase{name: "Phase 1: Geometry (WGS84 points)"}
	for i, f := range features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			p.errorf("feature %d: geometry is %T, want Point", i, f.Geometry)
			continue
		}
		switch {
		case pt.X() == 0 && pt.Y() == 0:
			p.errorf("feature %d: null island coordinate", i)
		case pt.X() < -180 || pt.X() > 180 || pt.Y() < -90 || pt.Y() > 90:
			p.errorf("feature %d: %v outside WGS84 bounds", i, pt)
		}
	}
	return p
}

// ── Phase 2: Canonical attributes ──

func validateAttributes(features []*geojson.Feature) *phase {
	p := &phase{name: "Phase 2: Canonical Attributes"}
	for i, f := range features {
		src := f.Properties.MustString("source", "")
		schema, ok := domain.LookupSchema(domain.Source(src))
		if !ok {
			p.errorf("feature %d: unknown source %q", i, src)
			continue
		}
		if got := f.Properties.MustString("type_donnee", ""); got != string(schema.Type) {
			p.errorf("feature %d: type_donnee %q, want %q for %s", i, got, schema.Type, src)
		}

		date, hasDate := f.Properties["date_prelevement"].(string)
		year, hasYear := f.Properties["annee"].(string)
		switch {
		case hasDate && len(date) >= 4 && (!hasYear || year != date[:4]):
			p.errorf("feature %d: annee %q does not match date_prelevement %q", i, year, date)
		case !hasDate && hasYear:
			p.errorf("feature %d: annee %q without date_prelevement", i, year)
		}
	}
	return p
}

// ── Phase 3: Uniqueness ──
// One feature per (source, station, parameter, sampling date).

func validateUniqueness(features []*geojson.Feature) *phase {
	p := &phase{name: "Phase 3: Measurement Uniqueness"}
	seen := make(map[string]int, len(features))
	for i, f := range features {
		key := strings.Join([]string{
			f.Properties.MustString("source", ""),
			f.Properties.MustString("code_station", ""),
			f.Properties.MustString("code_parametre", ""),
			f.Properties.MustString("date_prelevement", ""),
		}, "|")
		if first, dup := seen[key]; dup {
			p.errorf("feature %d duplicates feature %d (%s)", i, first, key)
			continue
		}
		seen[key] = i
		if id, _ := f.ID.(string); id != key {
			p.errorf("feature %d: id %v, want %q", i, f.ID, key)
		}
	}
	return p
}

// ── Phase 4: Department ──

func validateDepartment(features []*geojson.Feature, department string) *phase {
	p := &phase{name: "Phase 4: Department"}
	deps := make(map[string]int)
	for i, f := range features {
		dep := f.Properties.MustString("code_departement", "")
		if dep == "" {
			p.errorf("feature %d: missing code_departement", i)
			continue
		}
		deps[dep]++
		if department != "" && dep != department {
			p.errorf("feature %d: code_departement %q, want %q", i, dep, department)
		}
	}
	if department == "" && len(deps) > 1 {
		p.errorf("layer mixes %d departments", len(deps))
	}
	return p
}

// ── Phase 5: Parameters ──

func validateParameters(features []*geojson.Feature, codes []string) *phase {
	p := &phase{name: "Phase 5: Pesticide Parameters"}
	if len(codes) == 0 {
		return p
	}
	allowed := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		allowed[c] = struct{}{}
	}
	for i, f := range features {
		code := f.Properties.MustString("code_parametre", "")
		if code == "" {
			p.errorf("feature %d: missing code_parametre", i)
			continue
		}
		if _, ok := allowed[code]; !ok {
			p.errorf("feature %d: parameter %s is not in the code list", i, code)
		}
	}
	return p
}
