package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSReceiver is the subset of *sqs.Client used by ReloadListener.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ReloadFunc is invoked once per received batch of announcements.
type ReloadFunc func(ctx context.Context, ev SnapshotEvent)

const (
	waitTimeSeconds = 20
	errorBackoff    = 5 * time.Second
)

// ReloadListener long-polls a queue and calls OnSnapshot for every
// announcement. Several announcements received together trigger a single
// reload with the newest event.
type ReloadListener struct {
	client     SQSReceiver
	queueURL   string
	OnSnapshot ReloadFunc
	logger     *slog.Logger
	backoff    time.Duration
}

func NewReloadListener(client SQSReceiver, queueURL string, onSnapshot ReloadFunc, logger *slog.Logger) *ReloadListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadListener{
		client:     client,
		queueURL:   queueURL,
		OnSnapshot: onSnapshot,
		logger:     logger,
		backoff:    errorBackoff,
	}
}

// Run polls until ctx is done. Receive errors are logged and retried after a
// pause.
func (l *ReloadListener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "reload listener started", "queue_url", l.queueURL)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.poll(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			l.logger.WarnContext(ctx, "reload queue receive failed", "error", err)
			t := time.NewTimer(l.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

// poll performs one receive. Messages are deleted once handled; malformed
// bodies are deleted too so they do not redeliver forever.
func (l *ReloadListener) poll(ctx context.Context) error {
	out, err := l.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(l.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     waitTimeSeconds,
	})
	if err != nil {
		return err
	}
	if len(out.Messages) == 0 {
		return nil
	}

	var newest *SnapshotEvent
	for _, msg := range out.Messages {
		var ev SnapshotEvent
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &ev); err != nil || ev.Type != EventSnapshotPublished {
			l.logger.WarnContext(ctx, "discarding unexpected reload message",
				"message_id", aws.ToString(msg.MessageId),
				"error", err,
			)
		} else if newest == nil || ev.PublishedAt.After(newest.PublishedAt) {
			newest = &ev
		}
	}

	if newest != nil {
		l.OnSnapshot(ctx, *newest)
	}

	for _, msg := range out.Messages {
		if _, err := l.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(l.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			l.logger.WarnContext(ctx, "failed to delete reload message",
				"message_id", aws.ToString(msg.MessageId),
				"error", err,
			)
		}
	}
	return nil
}
