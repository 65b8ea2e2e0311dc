package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-fcm-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const defaultTTL = 60

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends to every subscription. Report.Invalid holds the endpoints
// the push service reported as gone, which should be removed from the DB.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	content notification.NotificationContent,
	data map[string]string,
) (dispatch.Report, error) {

	report := dispatch.Report{}
	successCount := 0
	failureCount := 0

	// 1. Prepare Payload (Standard JSON structure)
	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
		},
		"data": data,
	})
	if err != nil {
		return report, fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, sub := range subs {
		status, err := d.send(ctx, payloadBytes, sub)
		if err != nil {
			// Transport error (DNS, Timeout) - Log and skip, don't delete
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}

		switch status {
		case http.StatusCreated, http.StatusOK:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			report.Invalid = append(report.Invalid, sub.Endpoint)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", status, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	report.Receipt = fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(report.Invalid), failureCount)
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, payload []byte, sub notification.WebPushSubscription) (int, error) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             defaultTTL,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
