// Package geo holds the pure geographic math used by the alert subsystem:
// point validation, haversine distance, search boxes and operating regions.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// kmPerDegreeLat is the length of one degree of latitude on the sphere above.
const kmPerDegreeLat = EarthRadiusKm * math.Pi / 180

// ErrOutOfRange is returned by Point.Validate for coordinates outside the
// global longitude/latitude bounds.
var ErrOutOfRange = errors.New("geo: coordinates out of range")

// Point is a WGS84 position. Field order follows GeoJSON (longitude first).
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Validate rejects NaN/Inf and anything outside [-180,180]x[-90,90].
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || math.IsInf(p.Lon, 0) || math.IsInf(p.Lat, 0) {
		return ErrOutOfRange
	}
	if p.Lon < -180 || p.Lon > 180 || p.Lat < -90 || p.Lat > 90 {
		return ErrOutOfRange
	}
	return nil
}

// DistanceKm returns the haversine great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// guard against rounding pushing h just above 1 for antipodal points
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Box is an axis-aligned lon/lat rectangle, bounds inclusive.
type Box struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains reports whether p lies inside b.
func (b Box) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// BoundingBox returns a rectangle that contains every point within radiusKm
// of center. It is a prefilter only; callers still check exact distance.
// Near the poles or across the antimeridian the longitude span widens to the
// full range.
func BoundingBox(center Point, radiusKm float64) Box {
	dLat := radiusKm / kmPerDegreeLat
	minLat := center.Lat - dLat
	maxLat := center.Lat + dLat

	b := Box{MinLon: -180, MaxLon: 180, MinLat: math.Max(minLat, -90), MaxLat: math.Min(maxLat, 90)}
	if minLat <= -90 || maxLat >= 90 {
		return b
	}

	cosLat := math.Cos(radians(math.Max(math.Abs(minLat), math.Abs(maxLat))))
	if cosLat <= 0 {
		return b
	}
	dLon := radiusKm / (kmPerDegreeLat * cosLat)
	minLon := center.Lon - dLon
	maxLon := center.Lon + dLon
	if minLon < -180 || maxLon > 180 {
		return b
	}
	b.MinLon = minLon
	b.MaxLon = maxLon
	return b
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
