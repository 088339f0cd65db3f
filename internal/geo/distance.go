// Package geo provides the inter-event distance used to select and weight
// SSST neighbor events.
package geo

import "math"

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance in kilometers
// between two points given in degrees, combined with the depth difference
// in kilometers to a straight-line separation.
//
// The depth contribution keeps shallow and deep events from being treated
// as neighbors just because their epicenters coincide.
func DistanceKm(lat1, lon1, depth1, lat2, lon2, depth2 float64) float64 {
	surf := haversineKm(lat1, lon1, lat2, lon2)
	dz := depth1 - depth2
	return math.Hypot(surf, dz)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlam := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlam/2)*math.Sin(dlam/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
