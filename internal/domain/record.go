package domain

import "strings"

// Source identifies an upstream data service.
type Source string

const (
	SourceNaiades Source = "naiades"
	SourceADES    Source = "ades"
)

// ResourceKind is the category of data requested from a source.
type ResourceKind string

const (
	KindStations ResourceKind = "stations"
	KindAnalyses ResourceKind = "analyses"
)

// DataType discriminates surface water from groundwater records.
type DataType string

const (
	DataTypeSurface     DataType = "surface"
	DataTypeGroundwater DataType = "souterraine"
)

// RawRecord is one source-native record: field name to scalar value, as decoded
// from the service JSON (numbers are json.Number).
type RawRecord map[string]any

// CRS names a coordinate reference system by its EPSG code.
type CRS string

const (
	CRSWGS84     CRS = "EPSG:4326"
	CRSLambert93 CRS = "EPSG:2154"
)

// Coordinate is a coordinate pair in the reference system it was published in.
// X is the longitude (or easting), Y the latitude (or northing).
type Coordinate struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	CRS CRS     `json:"crs"`
}

// Field is a canonical attribute name.
type Field string

const (
	FieldCodeStation      Field = "code_station"
	FieldCodeStationRef   Field = "code_station_ref"
	FieldLibelleStation   Field = "libelle_station"
	FieldCodeDepartement  Field = "code_departement"
	FieldCodeCommune      Field = "code_commune"
	FieldLibelleCommune   Field = "libelle_commune"
	FieldCoursEau         Field = "cours_eau"
	FieldMasseEau         Field = "masse_eau"
	FieldCodeParametre    Field = "code_parametre"
	FieldLibelleParametre Field = "libelle_parametre"
	FieldResultat         Field = "resultat"
	FieldSymboleUnite     Field = "symbole_unite"
	FieldDatePrelevement  Field = "date_prelevement"
)

// NormalizedRecord is the canonical attribute record shared by every source.
// Empty strings and nil pointers mean the attribute is absent.
type NormalizedRecord struct {
	Source     Source
	DataType   DataType
	Department string

	StationCode  string
	StationRef   string
	StationLabel string
	CommuneCode  string
	CommuneLabel string
	Watercourse  string
	WaterBody    string

	ParameterCode  string
	ParameterLabel string
	Result         *float64
	Unit           string

	ConcentrationUGL *float64
	ThresholdUGL     *float64
	// ThresholdRatio is the concentration divided by the threshold, to two decimals.
	ThresholdRatio   *float64
	ExceedsThreshold *bool

	SamplingDate string
	Year         string

	Coordinates []Coordinate
}

// set assigns a canonical field from a native string value. Unknown fields are ignored.
func (r *NormalizedRecord) set(f Field, v string) {
	switch f {
	case FieldCodeStation:
		r.StationCode = v
	case FieldCodeStationRef:
		r.StationRef = v
	case FieldLibelleStation:
		r.StationLabel = v
	case FieldCodeDepartement:
		r.Department = v
	case FieldCodeCommune:
		r.CommuneCode = v
	case FieldLibelleCommune:
		r.CommuneLabel = v
	case FieldCoursEau:
		r.Watercourse = v
	case FieldMasseEau:
		r.WaterBody = v
	case FieldCodeParametre:
		r.ParameterCode = v
	case FieldLibelleParametre:
		r.ParameterLabel = v
	case FieldResultat:
		if n, ok := parseFloat(v); ok {
			r.Result = &n
		}
	case FieldSymboleUnite:
		r.Unit = v
	case FieldDatePrelevement:
		r.SamplingDate = v
	}
}

// DedupKey identifies a measurement: two records with the same key are the
// same sample of the same parameter at the same station.
func (r NormalizedRecord) DedupKey() string {
	return strings.Join([]string{string(r.Source), r.StationCode, r.ParameterCode, r.SamplingDate}, "|")
}

// Properties returns the canonical attribute table, with nil for absent attributes.
func (r NormalizedRecord) Properties() map[string]any {
	return map[string]any{
		"source":                      string(r.Source),
		"type_donnee":                 string(r.DataType),
		"code_departement":            r.Department,
		"code_station":                optional(r.StationCode),
		"code_station_ref":            optional(r.StationRef),
		"libelle_station":             optional(r.StationLabel),
		"code_commune":                optional(r.CommuneCode),
		"libelle_commune":             optional(r.CommuneLabel),
		"cours_eau":                   optional(r.Watercourse),
		"masse_eau":                   optional(r.WaterBody),
		"code_parametre":              optional(r.ParameterCode),
		"libelle_parametre":           optional(r.ParameterLabel),
		"resultat":                    optionalFloat(r.Result),
		"symbole_unite":               optional(r.Unit),
		"concentration_ugl":           optionalFloat(r.ConcentrationUGL),
		"seuil_sanitaire_ugl":         optionalFloat(r.ThresholdUGL),
		"ratio_seuil_sanitaire":       optionalFloat(r.ThresholdRatio),
		"depassement_seuil_sanitaire": yesNo(r.ExceedsThreshold),
		"date_prelevement":            optional(r.SamplingDate),
		"annee":                       optional(r.Year),
	}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func yesNo(b *bool) any {
	switch {
	case b == nil:
		return nil
	case *b:
		return "oui"
	default:
		return "non"
	}
}
