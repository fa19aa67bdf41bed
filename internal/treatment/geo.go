package treatment

import (
	"math"

	"weedtrack/internal/types"
)

const earthRadiusM = 6371e3

// distanceM returns the great-circle distance in metres between two points.
func distanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// boundsOf returns the tightest box around the detections. It panics on an
// empty slice; callers check length first.
func boundsOf(ds []*types.Detection) types.Bounds {
	b := types.Bounds{
		SouthWest: types.Point{Lat: ds[0].Latitude, Lng: ds[0].Longitude},
		NorthEast: types.Point{Lat: ds[0].Latitude, Lng: ds[0].Longitude},
	}
	for _, d := range ds[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, d.Latitude)
		b.SouthWest.Lng = math.Min(b.SouthWest.Lng, d.Longitude)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, d.Latitude)
		b.NorthEast.Lng = math.Max(b.NorthEast.Lng, d.Longitude)
	}
	return b
}

// expand grows the box by deg degrees on every side.
func expand(b types.Bounds, deg float64) types.Bounds {
	return types.Bounds{
		SouthWest: types.Point{Lat: b.SouthWest.Lat - deg, Lng: b.SouthWest.Lng - deg},
		NorthEast: types.Point{Lat: b.NorthEast.Lat + deg, Lng: b.NorthEast.Lng + deg},
	}
}

// corners returns the four corners of b, clockwise from south-west.
func corners(b types.Bounds) []types.Point {
	return []types.Point{
		b.SouthWest,
		{Lat: b.SouthWest.Lat, Lng: b.NorthEast.Lng},
		b.NorthEast,
		{Lat: b.NorthEast.Lat, Lng: b.SouthWest.Lng},
	}
}

// areaSqM approximates the ground area of the box covering the detections.
func areaSqM(ds []*types.Detection) float64 {
	if len(ds) == 0 {
		return 0
	}
	b := boundsOf(ds)
	height := distanceM(b.SouthWest.Lat, b.SouthWest.Lng, b.NorthEast.Lat, b.SouthWest.Lng)
	width := distanceM(b.SouthWest.Lat, b.SouthWest.Lng, b.SouthWest.Lat, b.NorthEast.Lng)
	return height * width
}
