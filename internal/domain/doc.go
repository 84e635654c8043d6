// Package domain models pesticide measurements published by the French Hub'Eau
// water-quality services.
//
// # Data Sources
//
// Two independent services are queried for one department at a time:
//
//	Naïades  (surface water)   /v2/qualite_rivieres/station_pc, /v2/qualite_rivieres/analyse_pc
//	ADES     (groundwater)     /v1/qualite_nappes/stations,     /v1/qualite_nappes/analyses
//
// Both return paginated JSON envelopes of the form
//
//	{"count": 123, "first": "...", "last": "...", "prev": null, "next": "...", "data": [ {...}, ... ]}
//
// where each element of "data" is a flat record of scalar fields. Records are kept
// as [RawRecord] until they are normalized.
//
// # Schema Divergence
//
// The services describe the same measurement with different field names. The
// differences that matter for the pipeline are:
//
//	                      Naïades               ADES
//	sampling date         date_prelevement      date_debut_prelevement
//	parameter code        code_parametre        code_param
//	parameter label       libelle_parametre     nom_param
//	station identifier    code_station          bss_id (legacy code_bss)
//	department            code_departement      num_departement
//	commune               code_commune          code_insee_actuel
//
// Each source is described by a [Schema] entry in [Schemas]; normalization and
// filtering only read from that table, so a third source is one more entry.
//
// # Parameter Codes
//
// Parameters are identified by their Sandre code (e.g. "1107" for atrazine). The
// reference list of pesticide codes is supplied externally; an empty list means
// no restriction on parameters.
//
// # Dates
//
// Sampling dates are ISO-8601 strings, either "2006-01-02" or
// "2006-01-02T15:04:05Z". Filtering compares the leading YYYY-MM-DD part; the
// canonical "annee" field is always the first four characters of the canonical
// sampling date.
//
// # Concentrations
//
// Results are converted to µg/L when the unit is recognised (µg/L, mg/L, ng/L) and
// compared with a sanitary threshold: 0.1 µg/L per individual pesticide (drinking
// water directive (EU) 2020/2184) unless a per-parameter threshold is configured.
//
// # Coordinates
//
// Analyses carry WGS84 longitude/latitude. Naïades station records also carry
// Lambert-93 (EPSG:2154) projected coordinates. Every usable pair is kept as a
// [Coordinate] candidate, in schema order; the exporter picks the first one it can
// resolve to WGS84.
package domain
