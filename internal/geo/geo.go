// Package geo provides coordinate validation and great-circle distance
// for the proximity read path.
package geo

import (
	"errors"
	"math"

	"marketplace-catalog-service/internal/domain"
)

var (
	ErrInvalidCoordinates = errors.New("geo: coordinates outside valid latitude/longitude range")
	ErrInvalidRadius      = errors.New("geo: radius must be greater than zero")
)

// earthRadiusKm is the mean earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// ValidatePoint checks that p is a usable WGS84 coordinate pair.
func ValidatePoint(p domain.Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidCoordinates
	}
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return ErrInvalidCoordinates
	}
	return nil
}

// ValidateRadius checks that radiusKm is a positive, finite distance.
func ValidateRadius(radiusKm float64) error {
	if radiusKm <= 0 || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return ErrInvalidRadius
	}
	return nil
}

// DistanceKm returns the haversine distance between a and b in kilometers.
func DistanceKm(a, b domain.Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
