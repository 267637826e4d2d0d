// Package geo provides the bounding-box math, distance conversions, and
// polygon encoding used throughout the cascade.
//
// Conversions between meters and degrees use a flat-earth approximation:
// one degree of latitude is treated as 111,320 m and one degree of
// longitude as 111,320 m scaled by cos(latitude). The error is well
// under the coordinate tolerance for areas up to the 50km regional tier.
package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/skookum/geocascade/internal/types"
)

// MetersPerDegreeLat is the flat-earth meters-per-degree constant.
const MetersPerDegreeLat = 111320.0

// EarthRadiusM is the mean earth radius used for haversine distance.
const EarthRadiusM = 6371000.0

// DegreesLat converts a north-south distance in meters to degrees.
func DegreesLat(meters float64) float64 {
	return meters / MetersPerDegreeLat
}

// DegreesLon converts an east-west distance in meters to degrees at the
// given latitude.
func DegreesLon(meters, lat float64) float64 {
	scale := math.Cos(lat * math.Pi / 180)
	if scale < 1e-6 {
		scale = 1e-6
	}
	return meters / (MetersPerDegreeLat * scale)
}

// BoxAround builds an axis-aligned bounding box of sizeM meters on each
// side, centered on c.
func BoxAround(c types.Coordinate, sizeM float64) types.BoundingBox {
	halfLat := DegreesLat(sizeM / 2)
	halfLon := DegreesLon(sizeM/2, c.Lat)
	return types.BoundingBox{
		West:  c.Lon - halfLon,
		South: c.Lat - halfLat,
		East:  c.Lon + halfLon,
		North: c.Lat + halfLat,
	}
}

// DistanceM returns the haversine distance in meters between two
// coordinates.
func DistanceM(a, b types.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// BearingDeg returns the initial bearing from a to b in degrees
// clockwise from north, normalized to [0, 360).
func BearingDeg(a, b types.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Offset returns the coordinate displaced by northM meters north and
// eastM meters east of c.
func Offset(c types.Coordinate, northM, eastM float64) types.Coordinate {
	return types.Coordinate{
		Lat: c.Lat + DegreesLat(northM),
		Lon: c.Lon + DegreesLon(eastM, c.Lat),
	}
}

// BoxRing returns the closed 5-point ring of a bounding box, counter-
// clockwise from the southwest corner. Rings built this way are valid
// non-self-intersecting polygons by construction.
func BoxRing(b types.BoundingBox) []types.Coordinate {
	return []types.Coordinate{
		{Lat: b.South, Lon: b.West},
		{Lat: b.South, Lon: b.East},
		{Lat: b.North, Lon: b.East},
		{Lat: b.North, Lon: b.West},
		{Lat: b.South, Lon: b.West},
	}
}

// WKT encodes a bounding box as a WKT POLYGON in lon/lat order.
func WKT(b types.BoundingBox) string {
	return fmt.Sprintf("POLYGON((%g %g, %g %g, %g %g, %g %g, %g %g))",
		b.West, b.South,
		b.East, b.South,
		b.East, b.North,
		b.West, b.North,
		b.West, b.South)
}

// FootprintWKT encodes a radius-m footprint around a center as a WKT
// POLYGON bounding box.
func FootprintWKT(c types.Coordinate, radiusM float64) string {
	return WKT(BoxAround(c, radiusM*2))
}

// RingWKT encodes an already closed ring as a WKT POLYGON in lon/lat
// order.
func RingWKT(ring []types.Coordinate) string {
	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, p := range ring {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g %g", p.Lon, p.Lat)
	}
	b.WriteString("))")
	return b.String()
}
