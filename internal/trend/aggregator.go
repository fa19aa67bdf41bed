// Package trend derives read-only summaries from detections and their
// mitigation records. Aggregation runs over the materialised records so the
// same logic serves the Postgres and in-memory stores.
package trend

import (
	"context"
	"sort"

	"weedtrack/internal/types"
)

const dateLayout = "2006-01-02"

// Aggregator computes daily counts and mitigation history.
type Aggregator struct {
	detections  types.DetectionRepository
	mitigations types.MitigationRepository
}

// NewAggregator creates an Aggregator over the given repositories.
func NewAggregator(detections types.DetectionRepository, mitigations types.MitigationRepository) *Aggregator {
	return &Aggregator{detections: detections, mitigations: mitigations}
}

// DailyCounts groups every detection by the UTC calendar date of its
// timestamp, ascending by date.
func (a *Aggregator) DailyCounts(ctx context.Context) ([]types.DailyCount, error) {
	ds, err := a.detections.List(ctx, types.DetectionFilter{})
	if err != nil {
		return nil, err
	}
	return CountByDay(ds), nil
}

// CountByDay is the pure form of DailyCounts.
func CountByDay(ds []*types.Detection) []types.DailyCount {
	counts := make(map[string]int)
	for _, d := range ds {
		counts[d.Timestamp.UTC().Format(dateLayout)]++
	}
	out := make([]types.DailyCount, 0, len(counts))
	for date, n := range counts {
		out = append(out, types.DailyCount{Date: date, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// PendingCount returns the number of detections still awaiting mitigation.
func (a *Aggregator) PendingCount(ctx context.Context) (int, error) {
	ds, err := a.detections.List(ctx, types.DetectionFilter{Status: types.MitigationPending})
	if err != nil {
		return 0, err
	}
	return len(ds), nil
}

// MitigationHistory returns completed detections joined to the record that
// completed them, newest mitigation first.
func (a *Aggregator) MitigationHistory(ctx context.Context) ([]types.HistoryEntry, error) {
	ds, err := a.detections.List(ctx, types.DetectionFilter{Status: types.MitigationCompleted})
	if err != nil {
		return nil, err
	}
	ms, err := a.mitigations.List(ctx)
	if err != nil {
		return nil, err
	}
	return JoinHistory(ds, ms), nil
}

// JoinHistory pairs each completed detection with the mitigation record
// whose timestamp equals its mitigation timestamp, falling back to the
// earliest record for that detection. Pending detections and completed
// detections without any record are omitted.
func JoinHistory(ds []*types.Detection, ms []*types.Mitigation) []types.HistoryEntry {
	byDetection := make(map[string][]*types.Mitigation)
	for _, m := range ms {
		byDetection[m.DetectionID] = append(byDetection[m.DetectionID], m)
	}

	out := make([]types.HistoryEntry, 0, len(ds))
	for _, d := range ds {
		if !d.IsCompleted() {
			continue
		}
		m := pickRecord(d, byDetection[d.ID])
		if m == nil {
			continue
		}
		out = append(out, types.HistoryEntry{
			ID:             d.ID,
			Latitude:       d.Latitude,
			Longitude:      d.Longitude,
			Timestamp:      d.Timestamp,
			Method:         m.Method,
			AppliedBy:      m.AppliedBy,
			MitigationTime: m.Timestamp,
			Notes:          m.Notes,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MitigationTime.Equal(out[j].MitigationTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].MitigationTime.After(out[j].MitigationTime)
	})
	return out
}

func pickRecord(d *types.Detection, records []*types.Mitigation) *types.Mitigation {
	var earliest *types.Mitigation
	for _, m := range records {
		if d.MitigationTimestamp != nil && m.Timestamp.Equal(*d.MitigationTimestamp) {
			return m
		}
		if earliest == nil || m.Timestamp.Before(earliest.Timestamp) {
			earliest = m
		}
	}
	return earliest
}
