package domain

// SourceAdapter describes how a source names its fields. The filter and the
// normalizer only depend on this capability.
type SourceAdapter interface {
	Name() Source
	DataType() DataType
	NativeDateField() string
	NativeParameterField() string
	NativeFieldMap(kind ResourceKind) map[string]Field
	CoordinateFields(kind ResourceKind) []CoordinateField
}

// CoordinateField names a pair of native fields holding a coordinate in a given CRS.
type CoordinateField struct {
	X   string
	Y   string
	CRS CRS
}

// Schema is the declarative description of one source: endpoints, ordering and
// the native-to-canonical field table for each resource kind.
type Schema struct {
	Source    Source
	Type      DataType
	Endpoints map[ResourceKind]string
	// Sort is passed as the "sort" query parameter on analyses requests.
	Sort           string
	DateField      string
	ParameterField string
	Fields         map[ResourceKind]map[string]Field
	Coords         map[ResourceKind][]CoordinateField
}

func (s Schema) Name() Source                 { return s.Source }
func (s Schema) DataType() DataType           { return s.Type }
func (s Schema) NativeDateField() string      { return s.DateField }
func (s Schema) NativeParameterField() string { return s.ParameterField }

func (s Schema) NativeFieldMap(kind ResourceKind) map[string]Field {
	return s.Fields[kind]
}

func (s Schema) CoordinateFields(kind ResourceKind) []CoordinateField {
	return s.Coords[kind]
}

// Endpoint returns the service path for a resource kind, relative to the API root.
func (s Schema) Endpoint(kind ResourceKind) (string, bool) {
	p, ok := s.Endpoints[kind]
	return p, ok
}

var wgs84LonLat = CoordinateField{X: "longitude", Y: "latitude", CRS: CRSWGS84}

// Schemas is the registry of supported sources.
var Schemas = map[Source]Schema{
	SourceNaiades: {
		Source: SourceNaiades,
		Type:   DataTypeSurface,
		Endpoints: map[ResourceKind]string{
			KindStations: "v2/qualite_rivieres/station_pc",
			KindAnalyses: "v2/qualite_rivieres/analyse_pc",
		},
		Sort:           "desc",
		DateField:      "date_prelevement",
		ParameterField: "code_parametre",
		Fields: map[ResourceKind]map[string]Field{
			KindStations: {
				"code_station":     FieldCodeStation,
				"libelle_station":  FieldLibelleStation,
				"code_departement": FieldCodeDepartement,
				"code_commune":     FieldCodeCommune,
				"libelle_commune":  FieldLibelleCommune,
				"nom_cours_eau":    FieldCoursEau,
				"nom_masse_deau":   FieldMasseEau,
			},
			KindAnalyses: {
				"code_station":      FieldCodeStation,
				"libelle_station":   FieldLibelleStation,
				"code_departement":  FieldCodeDepartement,
				"code_commune":      FieldCodeCommune,
				"libelle_commune":   FieldLibelleCommune,
				"nom_cours_eau":     FieldCoursEau,
				"nom_masse_deau":    FieldMasseEau,
				"code_parametre":    FieldCodeParametre,
				"libelle_parametre": FieldLibelleParametre,
				"resultat":          FieldResultat,
				"symbole_unite":     FieldSymboleUnite,
				"date_prelevement":  FieldDatePrelevement,
			},
		},
		Coords: map[ResourceKind][]CoordinateField{
			KindStations: {
				wgs84LonLat,
				{X: "coordonnee_x", Y: "coordonnee_y", CRS: CRSLambert93},
			},
			KindAnalyses: {wgs84LonLat},
		},
	},
	SourceADES: {
		Source: SourceADES,
		Type:   DataTypeGroundwater,
		Endpoints: map[ResourceKind]string{
			KindStations: "v1/qualite_nappes/stations",
			KindAnalyses: "v1/qualite_nappes/analyses",
		},
		Sort:           "desc",
		DateField:      "date_debut_prelevement",
		ParameterField: "code_param",
		Fields: map[ResourceKind]map[string]Field{
			KindStations: {
				"bss_id":             FieldCodeStation,
				"code_bss":           FieldCodeStationRef,
				"libelle_pe":         FieldLibelleStation,
				"num_departement":    FieldCodeDepartement,
				"code_commune_insee": FieldCodeCommune,
				"nom_commune":        FieldLibelleCommune,
				"nom_masse_eau_edl":  FieldMasseEau,
			},
			KindAnalyses: {
				"bss_id":                 FieldCodeStation,
				"code_bss":               FieldCodeStationRef,
				"num_departement":        FieldCodeDepartement,
				"code_insee_actuel":      FieldCodeCommune,
				"nom_commune_actuel":     FieldLibelleCommune,
				"code_param":             FieldCodeParametre,
				"nom_param":              FieldLibelleParametre,
				"resultat":               FieldResultat,
				"symbole_unite":          FieldSymboleUnite,
				"date_debut_prelevement": FieldDatePrelevement,
			},
		},
		Coords: map[ResourceKind][]CoordinateField{
			KindStations: {wgs84LonLat, {X: "x", Y: "y", CRS: CRSWGS84}},
			KindAnalyses: {wgs84LonLat},
		},
	},
}

// SourceOrder is the order in which sources are processed and exported.
var SourceOrder = []Source{SourceNaiades, SourceADES}

// LookupSchema returns the registered schema for a source.
func LookupSchema(src Source) (Schema, bool) {
	s, ok := Schemas[src]
	return s, ok
}
