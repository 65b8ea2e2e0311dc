// Package fcm dispatches notifications to mobile devices through the legacy
// FCM HTTP API.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-fcm-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	legacy "github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Sender is the subset of *legacy.Client the dispatcher uses.
type Sender interface {
	Send(ctx context.Context, m *legacy.Message) (*legacy.Response, error)
}

type Dispatcher struct {
	client   Sender
	defaults config.FCMConfig
	logger   *slog.Logger
}

// NewDispatcher applies the per-message fields of cfg (priority, TTL,
// collapse key, ...) to every message it sends.
func NewDispatcher(client Sender, cfg config.FCMConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		defaults: cfg,
		logger:   logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (dispatch.Report, error) {
	if len(tokens) == 0 {
		return dispatch.Report{Receipt: "skipped: no tokens"}, nil
	}

	msg, err := d.buildMessage(tokens, content, data)
	if err != nil {
		// Nothing about this payload will change on redelivery.
		d.logger.Error("Could not build FCM message (dropping)", "err", err)
		return dispatch.Report{Receipt: "skipped: invalid_payload"}, nil
	}

	resp, err := d.client.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, legacy.ErrBadRequest) {
			d.logger.Error("FCM rejected batch as bad request (dropping)", "err", err)
			return dispatch.Report{Receipt: "skipped: bad_request"}, nil
		}

		var fcmErr *legacy.Error
		if errors.As(err, &fcmErr) && fcmErr.RetryAfter != "" {
			d.logger.Warn("FCM asked for backoff", "retry_after", fcmErr.RetryAfter)
		}
		// Auth, server, protocol and network failures -> Retry
		return dispatch.Report{}, fmt.Errorf("fcm transport failed: %w", err)
	}

	report, retryable := d.classify(msg, resp)
	if retryable > 0 {
		return report, fmt.Errorf("batch had %d retryable errors", retryable)
	}
	return report, nil
}

func (d *Dispatcher) buildMessage(tokens []string, content notification.NotificationContent, data map[string]string) (*legacy.Message, error) {
	msg := legacy.NewMessage()
	if err := msg.SetRegistrationIDs(tokens); err != nil {
		return nil, err
	}

	for key, value := range map[string]string{
		"title": content.Title,
		"body":  content.Body,
		"sound": content.Sound,
	} {
		if value == "" {
			continue
		}
		if err := msg.AddNotification(key, value); err != nil {
			return nil, err
		}
	}

	if len(data) > 0 {
		payload := make(map[string]any, len(data))
		for k, v := range data {
			payload[k] = v
		}
		if err := msg.SetData(payload); err != nil {
			return nil, err
		}
	}

	cfg := d.defaults
	if cfg.Priority != "" {
		if err := msg.SetPriority(legacy.Priority(cfg.Priority)); err != nil {
			return nil, err
		}
	}
	if cfg.TimeToLive != nil {
		msg.SetTimeToLive(*cfg.TimeToLive)
	}
	if cfg.CollapseKey != "" {
		if err := msg.SetCollapseKey(cfg.CollapseKey); err != nil {
			return nil, err
		}
	}
	if cfg.RestrictedPackageName != "" {
		if err := msg.SetRestrictedPackageName(cfg.RestrictedPackageName); err != nil {
			return nil, err
		}
	}
	msg.SetDryRun(cfg.DryRun).SetDelayWhileIdle(cfg.DelayWhileIdle)
	return msg, nil
}

// classify walks the recipients in send order so the report is stable.
func (d *Dispatcher) classify(msg *legacy.Message, resp *legacy.Response) (dispatch.Report, int) {
	errs := resp.Result(legacy.FieldError)
	canonical := resp.Result(legacy.FieldRegistrationID)

	report := dispatch.Report{}
	retryable := 0
	for _, token := range msg.RegistrationIDs() {
		if code, failed := errs[token]; failed {
			switch c := legacy.ErrorCode(code); {
			case c.Unregistered():
				report.Invalid = append(report.Invalid, token)
			case c.Retryable():
				retryable++
			default:
				d.logger.Warn("FCM rejected recipient", "error", code)
			}
			continue
		}
		if newID, ok := canonical[token]; ok && newID != token {
			if report.Canonical == nil {
				report.Canonical = make(map[string]string)
			}
			report.Canonical[token] = newID
		}
	}

	report.Receipt = fmt.Sprintf("multicast:%d success:%d invalid:%d canonical:%d",
		resp.MulticastID(), resp.SuccessCount(), len(report.Invalid), len(report.Canonical))
	return report, retryable
}
