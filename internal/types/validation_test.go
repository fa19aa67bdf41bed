package types

import (
	"testing"
	"time"
)

func TestBoundsValidate(t *testing.T) {
	tests := []struct {
		name     string
		bounds   Bounds
		wantCode ErrorCode
	}{
		{"valid box", Bounds{SouthWest: Point{10, 20}, NorthEast: Point{11, 21}}, ""},
		{"degenerate point box", Bounds{SouthWest: Point{10, 20}, NorthEast: Point{10, 20}}, ""},
		{"sw latitude out of range", Bounds{SouthWest: Point{-91, 20}, NorthEast: Point{11, 21}}, ErrCodeValidationInvalidLat},
		{"ne longitude out of range", Bounds{SouthWest: Point{10, 20}, NorthEast: Point{11, 181}}, ErrCodeValidationInvalidLon},
		{"inverted latitude", Bounds{SouthWest: Point{12, 20}, NorthEast: Point{11, 21}}, ErrCodeValidationInvalidBounds},
		{"inverted longitude", Bounds{SouthWest: Point{10, 22}, NorthEast: Point{11, 21}}, ErrCodeValidationInvalidBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bounds.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !IsCode(err, tt.wantCode) {
				t.Errorf("Validate() = %v, want code %q", err, tt.wantCode)
			}
		})
	}
}

func TestBoundsContains_InclusiveEdges(t *testing.T) {
	b := Bounds{SouthWest: Point{10, 20}, NorthEast: Point{11, 21}}

	tests := []struct {
		name     string
		lat, lng float64
		want     bool
	}{
		{"south-west corner", 10, 20, true},
		{"north-east corner", 11, 21, true},
		{"interior", 10.5, 20.5, true},
		{"west edge", 10.5, 20, true},
		{"north edge", 11, 20.5, true},
		{"outside north", 11.0001, 20.5, false},
		{"outside west", 10.5, 19.9999, false},
		{"far away", 50, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Contains(tt.lat, tt.lng); got != tt.want {
				t.Errorf("Contains(%v, %v) = %v, want %v", tt.lat, tt.lng, got, tt.want)
			}
		})
	}
}

func TestTreatmentAreaValidate(t *testing.T) {
	tests := []struct {
		name    string
		area    TreatmentArea
		wantErr bool
	}{
		{"polygon", TreatmentArea{Type: AreaZone, Points: []Point{{1, 1}, {1, 2}, {2, 2}}}, false},
		{"bounds", TreatmentArea{Type: AreaBroadcast, Bounds: &Bounds{SouthWest: Point{1, 1}, NorthEast: Point{2, 2}}}, false},
		{"spot", TreatmentArea{Type: AreaSpot, Center: &Point{1, 1}, RadiusM: 2}, false},
		{"missing type", TreatmentArea{Center: &Point{1, 1}, RadiusM: 2}, true},
		{"two-point polygon", TreatmentArea{Type: AreaZone, Points: []Point{{1, 1}, {1, 2}}}, true},
		{"zero radius", TreatmentArea{Type: AreaSpot, Center: &Point{1, 1}}, true},
		{"no geometry", TreatmentArea{Type: AreaSpot}, true},
		{"polygon with bad point", TreatmentArea{Type: AreaZone, Points: []Point{{1, 1}, {1, 2}, {95, 2}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.area.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-01-01T11:00:00+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("ParseTimestamp() = %v, want %v in UTC", got, want)
	}

	if _, err := ParseTimestamp("yesterday"); !IsCode(err, ErrCodeValidationInvalidTimestamp) {
		t.Errorf("expected invalid timestamp error, got %v", err)
	}
}

func TestPlanStatusValid(t *testing.T) {
	for _, s := range PlanStatuses {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []PlanStatus{"bogus", "", "in_progress", "Completed"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}
