package geo

import (
	"math"

	"assignment-engine/internal/models"
)

const earthRadiusMeters = 6371000

// DistanceMeters computes the great-circle distance between two points in
// meters, using the haversine formula.
func DistanceMeters(a, b models.Location) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaPhi := (b.Lat - a.Lat) * math.Pi / 180
	deltaLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// DistanceKm computes the great-circle distance in kilometers.
func DistanceKm(a, b models.Location) float64 {
	return DistanceMeters(a, b) / 1000
}

// RoundKm rounds a kilometer distance to the given number of decimals for
// storage.
func RoundKm(km float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(km*factor) / factor
}
