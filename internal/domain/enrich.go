package domain

import "log/slog"

// EnrichWithStations completes analyses with attributes of the station catalog of
// the same source, matched on station code. Attributes already present on the
// analysis are kept; station coordinates are appended as extra candidates.
// An empty catalog returns the analyses unchanged.
func EnrichWithStations(analyses, stations []NormalizedRecord, logger *slog.Logger) []NormalizedRecord {
	if len(stations) == 0 {
		return analyses
	}

	index := make(map[string]NormalizedRecord, len(stations))
	for _, st := range stations {
		if st.StationCode == "" {
			continue
		}
		if _, seen := index[st.StationCode]; !seen {
			index[st.StationCode] = st
		}
	}

	out := make([]NormalizedRecord, len(analyses))
	unmatched := 0
	for i, a := range analyses {
		st, ok := index[a.StationCode]
		if !ok {
			unmatched++
			out[i] = a
			continue
		}
		a.StationRef = firstNonEmpty(a.StationRef, st.StationRef)
		a.StationLabel = firstNonEmpty(a.StationLabel, st.StationLabel)
		a.CommuneCode = firstNonEmpty(a.CommuneCode, st.CommuneCode)
		a.CommuneLabel = firstNonEmpty(a.CommuneLabel, st.CommuneLabel)
		a.Watercourse = firstNonEmpty(a.Watercourse, st.Watercourse)
		a.WaterBody = firstNonEmpty(a.WaterBody, st.WaterBody)
		if len(st.Coordinates) > 0 {
			coords := make([]Coordinate, 0, len(a.Coordinates)+len(st.Coordinates))
			coords = append(coords, a.Coordinates...)
			a.Coordinates = append(coords, st.Coordinates...)
		}
		out[i] = a
	}

	if unmatched > 0 && logger != nil {
		logger.Debug("analyses without matching station",
			"unmatched", unmatched,
			"analyses", len(analyses),
		)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
