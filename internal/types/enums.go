package types

// MitigationStatus represents the lifecycle state of a Detection.
// The only legal transition is pending -> completed.
type MitigationStatus string

const (
	MitigationPending   MitigationStatus = "pending"
	MitigationCompleted MitigationStatus = "completed"
)

// Valid reports whether s is a known mitigation status.
func (s MitigationStatus) Valid() bool {
	switch s {
	case MitigationPending, MitigationCompleted:
		return true
	}
	return false
}

// PlanStatus represents the lifecycle state of a TreatmentPlan.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in-progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusError      PlanStatus = "error"
)

// PlanStatuses lists every accepted PlanStatus in display order.
var PlanStatuses = []PlanStatus{
	PlanStatusPending,
	PlanStatusInProgress,
	PlanStatusCompleted,
	PlanStatusError,
}

// Valid reports whether s is one of the enumerated plan statuses.
func (s PlanStatus) Valid() bool {
	for _, v := range PlanStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// TreatmentMethod identifies how a treatment plan targets weeds.
type TreatmentMethod string

const (
	MethodPrecision TreatmentMethod = "precision"
	MethodZone      TreatmentMethod = "zone"
	MethodBroadcast TreatmentMethod = "broadcast"
)

// Valid reports whether m is a method the plan generator understands.
func (m TreatmentMethod) Valid() bool {
	switch m {
	case MethodPrecision, MethodZone, MethodBroadcast:
		return true
	}
	return false
}

// AreaType describes the geometry kind of a TreatmentArea.
type AreaType string

const (
	AreaSpot      AreaType = "spot"
	AreaZone      AreaType = "zone"
	AreaBroadcast AreaType = "broadcast"
)

// DetectionSource records where a detection entered the system.
type DetectionSource string

const (
	SourceAPI       DetectionSource = "api"
	SourceInference DetectionSource = "inference"
)

// DefaultDetectionClass is assigned when the caller omits a class.
const DefaultDetectionClass = "weed"
