// Package queue publishes mitigation events to SQS for downstream consumers
// such as field map refreshers and spray scheduling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"weedtrack/internal/config"
	"weedtrack/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// MitigationPublisher implements types.MitigationPublisher on a single
// SQS queue.
type MitigationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewMitigationPublisher returns nil when no queue URL is configured, so the
// caller can pass the result straight to the tracker and get no publishing.
func NewMitigationPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *MitigationPublisher {
	if awsCfg.MitigationQueueURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MitigationPublisher{
		client:   client,
		queueURL: awsCfg.MitigationQueueURL,
		logger:   logger,
	}
}

// PublishMitigation sends evt as a JSON message body. The event type, mode
// and applied count are duplicated as message attributes so subscribers can
// filter without parsing the body.
func (p *MitigationPublisher) PublishMitigation(ctx context.Context, evt types.MitigationEvent) error {
	if p == nil {
		return nil
	}
	if evt.EventType == "" {
		evt.EventType = types.MitigationEventType
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal MitigationEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.EventType),
			},
			"mode": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Mode),
			},
			"applied_count": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(evt.AppliedCount)),
			},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send MitigationEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "mitigation event sent",
		"queue_url", p.queueURL,
		"message_id", aws.ToString(out.MessageId),
		"mode", evt.Mode,
		"applied_count", evt.AppliedCount,
		"request_id", evt.RequestID,
	)
	return nil
}
