package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"weedtrack/internal/types"
)

// parseOptionalFloat returns nil for an empty value so the validator can
// report the field as missing.
func parseOptionalFloat(v, field string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("%s must be a number", field), err, map[string]any{"field": field})
	}
	return &f, nil
}

func splitFields(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func intPtr(n int) *int { return &n }
