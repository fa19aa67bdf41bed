// Package telemetry buffers service metrics and ships them to CloudWatch.
// Hot paths only append to an in-memory buffer; Run flushes it on an
// interval so request latency never waits on PutMetricData.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"weedtrack/internal/types"
)

// CloudWatch accepts at most 1000 datums per PutMetricData call.
const maxDatumsPerCall = 1000

// maxBuffered bounds memory when CloudWatch is unreachable. Older datums
// are dropped first.
const maxBuffered = 20000

// DefaultFlushInterval is used when the collector is created with zero.
const DefaultFlushInterval = 30 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector records API, ingestion and mitigation metrics.
//
// Metrics emitted:
//   - APILatency: Dims {Endpoint, Method, Status}
//   - DetectionsIngested: Dims {Provider} (the detection source)
//   - MitigationsApplied: Dims {Mode}
//   - DailyDetections, PendingDetections: no dims, from the trend reporter
type Collector struct {
	client    CloudWatchClient
	namespace string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	buf     []cwtypes.MetricDatum
	dropped int
}

// CollectorConfig holds the dependencies for creating a Collector.
type CollectorConfig struct {
	Client        CloudWatchClient
	Namespace     string
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// NewCollector creates a Collector with defaults for zero-valued fields.
func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{
		client:    cfg.Client,
		namespace: cfg.Namespace,
		interval:  cfg.FlushInterval,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if c.namespace == "" {
		c.namespace = types.MetricNamespace
	}
	if c.interval <= 0 {
		c.interval = DefaultFlushInterval
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// RecordRequest buffers the latency of one API request.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	c.add(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimEndpoint, endpoint),
		dim(types.DimMethod, method),
		dim(types.DimStatus, status),
	)
}

// RecordDetectionsIngested buffers the number of detections stored.
func (c *Collector) RecordDetectionsIngested(source types.DetectionSource, n int) {
	c.add(types.MetricDetectionsIngested, float64(n), cwtypes.StandardUnitCount,
		dim(types.DimProvider, string(source)))
}

// RecordMitigationsApplied buffers the number of detections transitioned.
func (c *Collector) RecordMitigationsApplied(mode string, n int) {
	c.add(types.MetricMitigationsApplied, float64(n), cwtypes.StandardUnitCount,
		dim(types.DimMode, mode))
}

// RecordDailyCounts buffers one DailyDetections datum per day, timestamped
// at midnight UTC of that day, plus the current pending total.
func (c *Collector) RecordDailyCounts(counts []types.DailyCount, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dc := range counts {
		day, err := time.Parse("2006-01-02", dc.Date)
		if err != nil {
			c.logger.Warn("skipping malformed daily count", "date", dc.Date, "error", err)
			continue
		}
		c.appendLocked(cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricDailyDetections),
			Value:      aws.Float64(float64(dc.Count)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(day),
		})
	}
	c.appendLocked(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPendingDetections),
		Value:      aws.Float64(float64(pending)),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(c.now()),
	})
}

// Run flushes on every tick until ctx is cancelled, then flushes once more
// with a fresh short deadline so buffered datums survive shutdown.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.WarnContext(ctx, "metric flush failed", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := c.Flush(final); err != nil {
				c.logger.Warn("final metric flush failed", "error", err)
			}
			cancel()
			return
		}
	}
}

// Flush sends every buffered datum. Datums from a failed call are put back
// at the front of the buffer for the next flush.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.buf
	c.buf = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.WarnContext(ctx, "metric buffer overflow", "dropped", dropped)
	}

	for len(pending) > 0 {
		n := min(len(pending), maxDatumsPerCall)
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: pending[:n],
		})
		if err != nil {
			c.requeue(pending)
			return err
		}
		pending = pending[n:]
	}
	return nil
}

// Buffered reports how many datums await the next flush.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *Collector) requeue(datums []cwtypes.MetricDatum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]cwtypes.MetricDatum, 0, len(datums)+len(c.buf))
	merged = append(merged, datums...)
	merged = append(merged, c.buf...)
	if over := len(merged) - maxBuffered; over > 0 {
		c.dropped += over
		merged = merged[over:]
	}
	c.buf = merged
}

func (c *Collector) add(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.now()),
		Dimensions: dims,
	})
}

func (c *Collector) appendLocked(d cwtypes.MetricDatum) {
	if len(c.buf) >= maxBuffered {
		c.buf = c.buf[1:]
		c.dropped++
	}
	c.buf = append(c.buf, d)
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
