package batcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// Handler is the Lambda entrypoint. It accepts either a scheduled
// EventBridge event, whose detail may carry RunOptions, or a bare RunOptions
// document for manual invocations. An empty payload runs with the defaults.
func (b *Batcher) Handler(ctx context.Context, payload json.RawMessage) (*RunReport, error) {
	opts, err := ParseTrigger(payload)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, opts)
}

// ParseTrigger extracts RunOptions from a Lambda payload.
func ParseTrigger(payload json.RawMessage) (RunOptions, error) {
	var opts RunOptions
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return opts, nil
	}

	var ev events.CloudWatchEvent
	if err := json.Unmarshal(trimmed, &ev); err == nil && ev.Source != "" {
		detail := bytes.TrimSpace(ev.Detail)
		if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
			return opts, nil
		}
		if err := json.Unmarshal(detail, &opts); err != nil {
			return opts, fmt.Errorf("batcher: invalid event detail: %w", err)
		}
		return opts, nil
	}

	if err := json.Unmarshal(trimmed, &opts); err != nil {
		return opts, fmt.Errorf("batcher: payload is neither a scheduled event nor run options: %w", err)
	}
	return opts, nil
}
