package treatment

import (
	"math"

	"weedtrack/internal/types"
)

// Stats estimates chemical, time and cost for treating ds with method.
// Chemical usage is rounded to 0.1 L; time and cost to whole units.
func Stats(method types.TreatmentMethod, ds []*types.Detection) types.TreatmentStats {
	if len(ds) == 0 {
		return types.TreatmentStats{}
	}
	zones := cluster(ds)
	st := types.TreatmentStats{
		TotalWeeds:         len(ds),
		TreatmentZoneCount: len(zones),
	}
	for _, z := range zones {
		if len(z) >= HighDensityWeeds {
			st.HighDensityAreas++
		}
	}

	var chemical, minutes, cost float64
	switch method {
	case types.MethodPrecision:
		chemical = float64(len(ds)) * 0.05
		minutes = float64(len(ds))
		cost = 10 + chemical*20 + minutes/60*30
	case types.MethodZone:
		chemical = float64(len(ds)) * 0.1
		minutes = float64(len(zones)) * 5
		cost = 20 + chemical*15 + minutes/60*20
	case types.MethodBroadcast:
		area := areaSqM(ds)
		chemical = area * 0.002
		minutes = math.Sqrt(area) * 0.5
		cost = 30 + chemical*10 + minutes/60*10
		st.TreatedAreaSqM = math.Round(area)
	}
	st.ChemicalUsageL = math.Round(chemical*10) / 10
	st.EstimatedTimeMin = math.Round(minutes)
	st.EstimatedCostUSD = math.Round(cost)
	return st
}
