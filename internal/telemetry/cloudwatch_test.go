package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"weedtrack/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (m *mockCloudWatchClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, want string) {
	t.Helper()
	for _, d := range dims {
		if aws.ToString(d.Name) == name {
			if got := aws.ToString(d.Value); got != want {
				t.Errorf("dimension %s = %q, want %q", name, got, want)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func TestCollector_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCollector(CollectorConfig{Client: cw})

	c.RecordRequest("GET", "/v1/detections", "200", 42*time.Millisecond)
	if c.Buffered() != 1 {
		t.Fatalf("buffered = %d", c.Buffered())
	}
	if cw.callCount() != 0 {
		t.Fatal("recording must not call CloudWatch")
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	input := cw.calls[0]
	if aws.ToString(input.Namespace) != types.MetricNamespace {
		t.Errorf("namespace = %q", aws.ToString(input.Namespace))
	}
	d := input.MetricData[0]
	if aws.ToString(d.MetricName) != types.MetricAPILatency || aws.ToFloat64(d.Value) != 42 {
		t.Errorf("datum = %s %v", aws.ToString(d.MetricName), aws.ToFloat64(d.Value))
	}
	if d.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unit = %s", d.Unit)
	}
	assertDimension(t, d.Dimensions, types.DimEndpoint, "/v1/detections")
	assertDimension(t, d.Dimensions, types.DimMethod, "GET")
	assertDimension(t, d.Dimensions, types.DimStatus, "200")
	if c.Buffered() != 0 {
		t.Error("buffer should be empty after flush")
	}
}

func TestCollector_DomainCounters(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCollector(CollectorConfig{Client: cw, Namespace: "Test"})

	c.RecordDetectionsIngested(types.SourceInference, 3)
	c.RecordMitigationsApplied("broadcast", 2)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	data := cw.calls[0].MetricData
	if len(data) != 2 {
		t.Fatalf("datums = %d", len(data))
	}
	if aws.ToString(data[0].MetricName) != types.MetricDetectionsIngested || aws.ToFloat64(data[0].Value) != 3 {
		t.Errorf("ingested datum wrong")
	}
	assertDimension(t, data[0].Dimensions, types.DimProvider, "inference")
	assertDimension(t, data[1].Dimensions, types.DimMode, "broadcast")
}

func TestCollector_RecordDailyCounts(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCollector(CollectorConfig{Client: cw})

	c.RecordDailyCounts([]types.DailyCount{
		{Date: "2024-01-01", Count: 2},
		{Date: "garbage", Count: 9},
		{Date: "2024-01-02", Count: 1},
	}, 5)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	data := cw.calls[0].MetricData
	if len(data) != 3 {
		t.Fatalf("datums = %d, want 3 (malformed date skipped)", len(data))
	}
	if got := aws.ToTime(data[0].Timestamp); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got)
	}
	if aws.ToString(data[2].MetricName) != types.MetricPendingDetections || aws.ToFloat64(data[2].Value) != 5 {
		t.Errorf("pending datum wrong")
	}
}

func TestCollector_FlushBatches(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCollector(CollectorConfig{Client: cw})
	for i := 0; i < 2500; i++ {
		c.RecordMitigationsApplied("individual", 1)
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cw.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", cw.callCount())
	}
	if len(cw.calls[2].MetricData) != 500 {
		t.Errorf("last batch = %d", len(cw.calls[2].MetricData))
	}
}

func TestCollector_FailedFlushRequeues(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	c := NewCollector(CollectorConfig{Client: cw})
	c.RecordMitigationsApplied("individual", 1)
	c.RecordMitigationsApplied("individual", 1)

	if err := c.Flush(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Buffered() != 2 {
		t.Fatalf("buffered = %d, want 2", c.Buffered())
	}

	cw.returnErr = nil
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Buffered() != 0 {
		t.Errorf("buffered = %d after retry", c.Buffered())
	}
}

func TestCollector_BufferIsBounded(t *testing.T) {
	c := NewCollector(CollectorConfig{Client: &mockCloudWatchClient{}})
	for i := 0; i < maxBuffered+10; i++ {
		c.RecordMitigationsApplied("individual", 1)
	}
	if c.Buffered() != maxBuffered {
		t.Errorf("buffered = %d, want %d", c.Buffered(), maxBuffered)
	}
}

func TestCollector_RunFlushesOnCancel(t *testing.T) {
	cw := &mockCloudWatchClient{}
	c := NewCollector(CollectorConfig{Client: cw, FlushInterval: time.Hour})
	c.RecordMitigationsApplied("broadcast", 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if cw.callCount() != 1 {
		t.Errorf("calls = %d, want final flush", cw.callCount())
	}
}
