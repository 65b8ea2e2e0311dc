// Package dispatch holds the contracts between the notification pipeline,
// the push platforms and the device token store.
package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Report is what a platform learned about the recipients of one dispatch.
type Report struct {
	// Receipt is a short human-readable summary for logs.
	Receipt string
	// Invalid lists tokens (or web endpoints) the platform says are dead.
	Invalid []string
	// Canonical maps a token to the id the platform wants used instead.
	Canonical map[string]string
}

// Dispatcher sends one notification to a batch of FCM registration tokens.
//
// A nil error with a populated Report means the batch is done, even if
// some recipients failed permanently. A non-nil error means the batch
// should be redelivered; the Report may still carry tokens to clean up.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (Report, error)
}

// WebDispatcher is the VAPID counterpart of Dispatcher. Report.Invalid
// holds subscription endpoints.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, content notification.NotificationContent, data map[string]string) (Report, error)
}

// TokenStore manages where a user's notifications are delivered.
type TokenStore interface {
	RegisterFCM(ctx context.Context, user urn.URN, token string) error
	RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error
	UnregisterFCM(ctx context.Context, user urn.URN, token string) error
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error

	// ReplaceFCM swaps a token for the canonical id FCM reported for it.
	ReplaceFCM(ctx context.Context, user urn.URN, oldToken, newToken string) error

	// Fetch returns a request whose FCMTokens and WebSubscriptions hold
	// every device registered for user.
	Fetch(ctx context.Context, user urn.URN) (*notification.NotificationRequest, error)
}
