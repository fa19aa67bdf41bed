package types

import (
	"fmt"
	"strings"
	"time"
)

// Validation constraint constants.
const (
	MinLat        = -90.0
	MaxLat        = 90.0
	MinLon        = -180.0
	MaxLon        = 180.0
	MinConfidence = 0.0
	MaxConfidence = 1.0
	MinPolygonPts = 3
)

// ValidLatitude reports whether lat is a WGS84 latitude.
func ValidLatitude(lat float64) bool {
	return lat >= MinLat && lat <= MaxLat
}

// ValidLongitude reports whether lng is a WGS84 longitude.
func ValidLongitude(lng float64) bool {
	return lng >= MinLon && lng <= MaxLon
}

// Validate checks both coordinates of the point.
func (p Point) Validate() error {
	if !ValidLatitude(p.Lat) {
		return NewAppError(ErrCodeValidationInvalidLat,
			fmt.Sprintf("latitude %v out of range [%v, %v]", p.Lat, MinLat, MaxLat), nil)
	}
	if !ValidLongitude(p.Lng) {
		return NewAppError(ErrCodeValidationInvalidLon,
			fmt.Sprintf("longitude %v out of range [%v, %v]", p.Lng, MinLon, MaxLon), nil)
	}
	return nil
}

// Validate checks that both corners are valid coordinates and that the
// south-west corner does not lie north or east of the north-east corner.
func (b Bounds) Validate() error {
	if err := b.SouthWest.Validate(); err != nil {
		return err
	}
	if err := b.NorthEast.Validate(); err != nil {
		return err
	}
	if b.SouthWest.Lat > b.NorthEast.Lat || b.SouthWest.Lng > b.NorthEast.Lng {
		return NewAppError(ErrCodeValidationInvalidBounds,
			"south_west corner must be south-west of north_east corner", nil)
	}
	return nil
}

// Validate checks that the area carries a type and one usable geometry.
func (a TreatmentArea) Validate() error {
	if strings.TrimSpace(string(a.Type)) == "" {
		return NewAppError(ErrCodeValidationInvalidArea, "area type is required", nil)
	}
	switch {
	case len(a.Points) > 0:
		if len(a.Points) < MinPolygonPts {
			return NewAppError(ErrCodeValidationInvalidArea,
				fmt.Sprintf("polygon requires at least %d points", MinPolygonPts), nil)
		}
		for _, p := range a.Points {
			if err := p.Validate(); err != nil {
				return err
			}
		}
	case a.Bounds != nil:
		return a.Bounds.Validate()
	case a.Center != nil:
		if err := a.Center.Validate(); err != nil {
			return err
		}
		if a.RadiusM <= 0 {
			return NewAppError(ErrCodeValidationInvalidArea, "radius must be positive", nil)
		}
	default:
		return NewAppError(ErrCodeValidationInvalidArea,
			"area requires points, bounds, or a center with radius", nil)
	}
	return nil
}

// ParseTimestamp parses an RFC 3339 timestamp and normalises it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, NewAppError(ErrCodeValidationInvalidTimestamp,
			fmt.Sprintf("timestamp %q is not RFC 3339", s), err)
	}
	return t.UTC(), nil
}
