// Package geo provides geodesic distance computation, coordinate validation,
// and coarse location encoding for proximity discovery.
package geo

import (
	"errors"
	"math"
)

// Coordinate validation errors.
var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between two WGS84
// coordinates using the haversine formula. The result matches PostGIS
// ST_Distance on geography points to within a fraction of a percent, which
// is sufficient for proximity thresholds in the tens-to-thousands of meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ValidateLat checks that a latitude is within the WGS84 range.
func ValidateLat(lat float64) error {
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return ErrInvalidLatitude
	}
	return nil
}

// ValidateLon checks that a longitude is within the WGS84 range.
func ValidateLon(lon float64) error {
	if lon < -180 || lon > 180 || math.IsNaN(lon) {
		return ErrInvalidLongitude
	}
	return nil
}

// Round rounds a value to the given number of decimal places.
// Coordinates are reported at 7 decimals (millimeter-scale ceiling),
// distances at 2.
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
