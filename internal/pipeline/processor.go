package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NewProcessor creates the logic that handles the "Fan-Out".
// Mobile tokens and web subscriptions have different dispatchers because
// their recipients have different shapes.
func NewProcessor(
	fcmDispatcher dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	tokenStore dispatch.TokenStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notification.NotificationRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID.String(),
			"pubsub_msg_id", original.ID,
		)

		// 1. Fetch & Fan-Out (The Lookup)
		// The incoming request has the Content, but the Store has the Tokens.
		enrichedReq, err := tokenStore.Fetch(ctx, request.RecipientID)
		if err != nil {
			procLogger.Error("Failed to fetch device tokens", "err", err)
			return err
		}

		// 2. Path A: FCM (Mobile)
		if len(enrichedReq.FCMTokens) > 0 {
			report, err := fcmDispatcher.Dispatch(ctx, enrichedReq.FCMTokens, request.Content, request.DataPayload)

			// Self-healing runs even when the batch will be retried.
			healFCM(ctx, tokenStore, request.RecipientID, report, procLogger)

			if err != nil {
				procLogger.Error("FCM Dispatch failed", "err", err)
				return err // Retryable
			}
			procLogger.Info("FCM Dispatched", "receipt", report.Receipt)
		}

		// 3. Path B: Web (VAPID)
		if len(enrichedReq.WebSubscriptions) > 0 {
			report, err := webDispatcher.Dispatch(ctx, enrichedReq.WebSubscriptions, request.Content, request.DataPayload)

			if len(report.Invalid) > 0 {
				procLogger.Info("Cleaning up invalid Web subscriptions", "count", len(report.Invalid))
				for _, endpoint := range report.Invalid {
					if err := tokenStore.UnregisterWeb(ctx, request.RecipientID, endpoint); err != nil {
						procLogger.Warn("Failed to delete Web subscription", "endpoint", endpoint, "err", err)
					}
				}
			}

			if err != nil {
				procLogger.Error("Web Dispatch failed", "err", err)
				return err // Retryable
			}
			procLogger.Info("Web Dispatched", "receipt", report.Receipt)
		}

		if len(enrichedReq.FCMTokens) == 0 && len(enrichedReq.WebSubscriptions) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
		}

		return nil
	}
}

// healFCM removes dead tokens and swaps tokens FCM has replaced with a
// canonical id. Store failures are logged, never returned.
func healFCM(ctx context.Context, store dispatch.TokenStore, user urn.URN, report dispatch.Report, logger *slog.Logger) {
	if len(report.Invalid) > 0 {
		logger.Info("Cleaning up invalid FCM tokens", "count", len(report.Invalid))
		for _, t := range report.Invalid {
			if err := store.UnregisterFCM(ctx, user, t); err != nil {
				logger.Warn("Failed to delete FCM token", "err", err)
			}
		}
	}
	if len(report.Canonical) > 0 {
		logger.Info("Replacing FCM tokens with canonical ids", "count", len(report.Canonical))
		for oldToken, newToken := range report.Canonical {
			if err := store.ReplaceFCM(ctx, user, oldToken, newToken); err != nil {
				logger.Warn("Failed to replace FCM token", "err", err)
			}
		}
	}
}
