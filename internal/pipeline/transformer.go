// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// ErrEmptyNotification is returned for a request with neither a visible
// notification nor a data payload; FCM would accept it and deliver nothing.
var ErrEmptyNotification = errors.New("notification has no title, body or data")

// NotificationRequestTransformer is a dataflow Transformer that safely unmarshals
// and validates a raw message payload into a structured notification.NotificationRequest.
//
// The native struct's UnmarshalJSON handles the protobuf wire form and URN
// validation. Any failure sets skip so the StreamingService can handle the
// Nack/DLQ logic.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.NotificationRequest, bool, error) {
	var nativeReq notification.NotificationRequest

	if err := json.Unmarshal(msg.Payload, &nativeReq); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}

	c := nativeReq.Content
	if c.Title == "" && c.Body == "" && len(nativeReq.DataPayload) == 0 {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, ErrEmptyNotification)
	}

	return &nativeReq, false, nil
}
