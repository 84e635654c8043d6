package geojson

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// lambert93ToLonLat converts Lambert-93 (EPSG:2154) eastings and northings to
// WGS84 (EPSG:4326) longitude and latitude in degrees.
var lambert93ToLonLat = wgs84.EPSG().Transform(2154, 4326)

func lambert93ToWGS84(x, y float64) orb.Point {
	lon, lat, _ := lambert93ToLonLat(x, y, 0)
	return orb.Point{lon, lat}
}

// resolvePoint returns the first candidate that maps to a valid WGS84 point.
func resolvePoint(candidates []domain.Coordinate) (orb.Point, bool) {
	for _, c := range candidates {
		var p orb.Point
		switch c.CRS {
		case domain.CRSWGS84:
			p = orb.Point{c.X, c.Y}
		case domain.CRSLambert93:
			if c.X <= 0 || c.Y <= 0 {
				continue
			}
			p = lambert93ToWGS84(c.X, c.Y)
		default:
			continue
		}
		if validWGS84(p) {
			return roundPoint(p), true
		}
	}
	return orb.Point{}, false
}

func validWGS84(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	if lon == 0 && lat == 0 {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// roundPoint keeps seven decimals, about a centimetre.
func roundPoint(p orb.Point) orb.Point {
	const scale = 1e7
	return orb.Point{math.Round(p[0]*scale) / scale, math.Round(p[1]*scale) / scale}
}
