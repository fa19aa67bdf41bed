package treatment

import "weedtrack/internal/types"

// Planning constants.
const (
	SpotRadiusM        = 2.0
	SingleZoneRadiusM  = 3.0
	ClusterDistanceM   = 10.0
	ZoneBufferDeg      = 0.00005
	HighDensityWeeds   = 5
	ZoneHerbicide      = "Moderate-Strength Herbicide"
	BroadcastHerbicide = "Standard Herbicide Mix"
)

// RecommendHerbicide picks a selective herbicide strength from the model
// confidence of a single detection.
func RecommendHerbicide(confidence float64) string {
	switch {
	case confidence >= 0.90:
		return "High-Strength Selective Herbicide"
	case confidence >= 0.75:
		return "Medium-Strength Selective Herbicide"
	default:
		return "Standard Selective Herbicide"
	}
}

// Generate builds treatment areas for the detections using method. The
// result is nil for no detections.
func Generate(method types.TreatmentMethod, ds []*types.Detection) []types.TreatmentArea {
	if len(ds) == 0 {
		return nil
	}
	switch method {
	case types.MethodPrecision:
		areas := make([]types.TreatmentArea, 0, len(ds))
		for _, d := range ds {
			areas = append(areas, types.TreatmentArea{
				Type:       types.AreaSpot,
				Center:     &types.Point{Lat: d.Latitude, Lng: d.Longitude},
				RadiusM:    SpotRadiusM,
				WeedCount:  1,
				Confidence: d.Confidence,
				Herbicide:  RecommendHerbicide(d.Confidence),
			})
		}
		return areas
	case types.MethodZone:
		clusters := cluster(ds)
		areas := make([]types.TreatmentArea, 0, len(clusters))
		for _, c := range clusters {
			areas = append(areas, zoneArea(c))
		}
		return areas
	case types.MethodBroadcast:
		b := boundsOf(ds)
		return []types.TreatmentArea{{
			Type:      types.AreaBroadcast,
			Bounds:    &b,
			WeedCount: len(ds),
			Herbicide: BroadcastHerbicide,
		}}
	}
	return nil
}

// cluster groups detections greedily: each unassigned detection seeds a
// cluster and claims every unassigned detection within ClusterDistanceM of
// the seed. Input order is preserved.
func cluster(ds []*types.Detection) [][]*types.Detection {
	var out [][]*types.Detection
	taken := make([]bool, len(ds))
	for i, seed := range ds {
		if taken[i] {
			continue
		}
		taken[i] = true
		group := []*types.Detection{seed}
		for j := i + 1; j < len(ds); j++ {
			if taken[j] {
				continue
			}
			if distanceM(seed.Latitude, seed.Longitude, ds[j].Latitude, ds[j].Longitude) < ClusterDistanceM {
				taken[j] = true
				group = append(group, ds[j])
			}
		}
		out = append(out, group)
	}
	return out
}

func zoneArea(c []*types.Detection) types.TreatmentArea {
	switch len(c) {
	case 1:
		d := c[0]
		return types.TreatmentArea{
			Type:       types.AreaZone,
			Center:     &types.Point{Lat: d.Latitude, Lng: d.Longitude},
			RadiusM:    SingleZoneRadiusM,
			WeedCount:  1,
			Confidence: d.Confidence,
			Herbicide:  RecommendHerbicide(d.Confidence),
		}
	case 2:
		b := expand(boundsOf(c), ZoneBufferDeg)
		return types.TreatmentArea{
			Type:      types.AreaZone,
			Bounds:    &b,
			WeedCount: 2,
			Herbicide: ZoneHerbicide,
		}
	default:
		return types.TreatmentArea{
			Type:      types.AreaZone,
			Points:    corners(expand(boundsOf(c), ZoneBufferDeg)),
			WeedCount: len(c),
			Herbicide: ZoneHerbicide,
		}
	}
}
