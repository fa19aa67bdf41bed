package types

import "time"

// MitigationEventType is the SQS message type for applied mitigations.
const MitigationEventType = "mitigation.applied"

// MitigationEvent is the SQS payload published after a mitigation request
// transitions at least one detection. Consumers use it to update field maps
// and treatment dashboards; it is informational and never required for
// correctness of the detection store.
type MitigationEvent struct {
	EventType    string    `json:"event_type"`
	Mode         string    `json:"mode"` // "individual" or "broadcast"
	Method       string    `json:"method"`
	AppliedBy    string    `json:"applied_by"`
	Herbicide    string    `json:"herbicide,omitempty"`
	DetectionIDs []string  `json:"detection_ids"`
	AppliedCount int       `json:"applied_count"`
	Bounds       *Bounds   `json:"bounds,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`

	// Observability
	RequestID string `json:"request_id,omitempty"`
}
