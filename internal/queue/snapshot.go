// Package queue carries snapshot announcements over SQS: the batch run
// publishes one message per written snapshot and API instances long-poll the
// queue to reload.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// EventSnapshotPublished is the only event type currently emitted.
const EventSnapshotPublished = "snapshot_published"

// SnapshotEvent is the message body announcing a new snapshot.
type SnapshotEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Records     int       `json:"records"`
	DataHorizon time.Time `json:"data_horizon,omitzero"`
	PublishedAt time.Time `json:"published_at"`
}

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SnapshotNotifier publishes SnapshotEvents to one queue.
type SnapshotNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

func NewSnapshotNotifier(client SQSSender, queueURL string, logger *slog.Logger) *SnapshotNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotNotifier{client: client, queueURL: queueURL, logger: logger}
}

func (n *SnapshotNotifier) NotifySnapshot(ctx context.Context, ev SnapshotEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal SnapshotEvent: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Type),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send SnapshotEvent to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "snapshot announced",
		"queue_url", n.queueURL,
		"run_id", ev.RunID,
		"records", ev.Records,
	)
	return nil
}
