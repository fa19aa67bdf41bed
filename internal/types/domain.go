package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Detection is a single geolocated weed observation.
type Detection struct {
	ID                  string           `json:"id"`
	Latitude            float64          `json:"latitude"`
	Longitude           float64          `json:"longitude"`
	Timestamp           time.Time        `json:"timestamp"`
	Confidence          float64          `json:"confidence"`
	Class               string           `json:"class"`
	Source              DetectionSource  `json:"source,omitempty"`
	MitigationStatus    MitigationStatus `json:"mitigation_status"`
	MitigationTimestamp *time.Time       `json:"mitigation_timestamp,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// IsCompleted reports whether the detection has already been mitigated.
func (d *Detection) IsCompleted() bool {
	return d.MitigationStatus == MitigationCompleted
}

// DetectionInput is the ingestion payload for one detection. Pointer fields
// distinguish an omitted value from a zero value so validation can reject
// missing coordinates instead of silently storing (0, 0).
type DetectionInput struct {
	ID         DetectionID `json:"id"`
	Latitude   *float64    `json:"latitude"`
	Longitude  *float64    `json:"longitude"`
	Timestamp  *string     `json:"timestamp"`
	Confidence *float64    `json:"confidence"`
	Class      string      `json:"class,omitempty"`
}

// DetectionID is the canonical string form of a caller-supplied detection
// identifier. JSON strings and JSON numbers are both accepted so that
// clients sending 42 and "42" address the same record.
type DetectionID string

// UnmarshalJSON accepts a JSON string or number.
func (id *DetectionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = DetectionID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("detection id must be a string or number: %w", err)
	}
	*id = DetectionID(n.String())
	return nil
}

// String returns the canonical identifier.
func (id DetectionID) String() string { return string(id) }

// DetectionFilter restricts List results. Zero values mean "no restriction".
type DetectionFilter struct {
	Status     MitigationStatus
	From       *time.Time
	To         *time.Time
	SortByDate bool
}

// Point is a WGS84 coordinate. It is encoded on the wire as a [lat, lng]
// pair; an object form {"lat": .., "lng": ..} is also accepted on input.
type Point struct {
	Lat float64
	Lng float64
}

// MarshalJSON encodes the point as [lat, lng].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

// UnmarshalJSON decodes either [lat, lng] or {"lat": .., "lng": ..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("coordinate must have exactly 2 elements, got %d", len(pair))
		}
		p.Lat, p.Lng = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Lat == nil || obj.Lng == nil {
		return fmt.Errorf("coordinate requires lat and lng")
	}
	p.Lat, p.Lng = *obj.Lat, *obj.Lng
	return nil
}

// Bounds is an axis-aligned geographic box, inclusive on all edges.
type Bounds struct {
	SouthWest Point `json:"south_west"`
	NorthEast Point `json:"north_east"`
}

// UnmarshalJSON requires both corners. An absent corner would otherwise
// decode to (0,0) and silently widen the box.
func (b *Bounds) UnmarshalJSON(data []byte) error {
	var raw struct {
		SouthWest *Point `json:"south_west"`
		NorthEast *Point `json:"north_east"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.SouthWest == nil || raw.NorthEast == nil {
		return fmt.Errorf("bounds requires south_west and north_east")
	}
	b.SouthWest, b.NorthEast = *raw.SouthWest, *raw.NorthEast
	return nil
}

// Contains reports whether (lat, lng) lies inside the box, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.SouthWest.Lat && lat <= b.NorthEast.Lat &&
		lng >= b.SouthWest.Lng && lng <= b.NorthEast.Lng
}

// Mitigation is an append-only record of a treatment applied to one detection.
type Mitigation struct {
	ID          string    `json:"id"`
	DetectionID string    `json:"detection_id"`
	Method      string    `json:"method"`
	AppliedBy   string    `json:"applied_by"`
	Notes       string    `json:"notes,omitempty"`
	Herbicide   string    `json:"herbicide,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TreatmentArea describes one region targeted by a treatment plan. Exactly
// one geometry is expected: Points (polygon), Bounds, or Center with Radius.
type TreatmentArea struct {
	Type       AreaType `json:"type"`
	Points     []Point  `json:"points,omitempty"`
	Bounds     *Bounds  `json:"bounds,omitempty"`
	Center     *Point   `json:"center,omitempty"`
	RadiusM    float64  `json:"radius,omitempty"`
	WeedCount  int      `json:"weed_count,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Herbicide  string   `json:"herbicide,omitempty"`
}

// TreatmentAreas is the ordered list of areas stored as JSONB.
type TreatmentAreas []TreatmentArea

// TreatmentPlan is a detection-independent remediation intent.
type TreatmentPlan struct {
	ID         string          `json:"id"`
	Method     TreatmentMethod `json:"method"`
	Areas      TreatmentAreas  `json:"areas"`
	TotalWeeds int             `json:"total_weeds"`
	Status     PlanStatus      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TreatmentStats are the resource estimates for applying a plan.
type TreatmentStats struct {
	TotalWeeds         int     `json:"total_weeds"`
	HighDensityAreas   int     `json:"high_density_areas"`
	ChemicalUsageL     float64 `json:"chemical_usage_l"`
	EstimatedTimeMin   float64 `json:"estimated_time_min"`
	EstimatedCostUSD   float64 `json:"estimated_cost_usd"`
	TreatedAreaSqM     float64 `json:"treated_area_sq_m,omitempty"`
	TreatmentZoneCount int     `json:"treatment_zone_count"`
}

// DailyCount is the number of detections observed on one UTC calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// HistoryEntry is a completed detection joined to the mitigation that
// completed it.
type HistoryEntry struct {
	ID             string    `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	AppliedBy      string    `json:"applied_by"`
	MitigationTime time.Time `json:"mitigation_time"`
	Notes          string    `json:"notes,omitempty"`
}

// RawDetection is one bounding box returned by the inference service.
type RawDetection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}
