package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. Scan is on pointer receivers; Value is
// on value receivers.
var (
	_ sql.Scanner   = (*TreatmentAreas)(nil)
	_ driver.Valuer = TreatmentAreas(nil)
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (ta *TreatmentAreas) Scan(value interface{}) error {
	if value == nil {
		*ta = nil
		return nil
	}
	return scanJSONB(ta, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// A nil list is stored as an empty JSON array so the column stays NOT NULL.
func (ta TreatmentAreas) Value() (driver.Value, error) {
	if ta == nil {
		return []byte("[]"), nil
	}
	return valueJSONB([]TreatmentArea(ta))
}
