package domain

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance between two points
// given in decimal degrees. Inputs are not validated.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a slightly outside [0, 1] for antipodal points.
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
