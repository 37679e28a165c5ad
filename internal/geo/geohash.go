package geo

import "strings"

// CoarsePrecision is the geohash precision used when logging pin locations.
// Six characters is roughly a ±0.61 km cell, coarse enough that log output
// never pinpoints where a message was actually dropped.
const CoarsePrecision = 6

// base32 is the geohash base32 alphabet (excludes a, i, l, o).
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode encodes latitude and longitude into a geohash string of the given
// precision using the standard interleaved base32 algorithm.
func Encode(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = CoarsePrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	var geohash strings.Builder
	geohash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for geohash.Len() < precision {
		if even {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon > mid {
				ch |= 1 << (4 - bits)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			geohash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return geohash.String()
}

// Coarse returns the coarse geohash cell for a coordinate, suitable for
// structured log fields. Raw pin coordinates are never logged.
func Coarse(lat, lon float64) string {
	return Encode(lat, lon, CoarsePrecision)
}
