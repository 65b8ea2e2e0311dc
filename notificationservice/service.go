// Package notificationservice runs the legacy FCM delivery pipeline and the
// device registration API as one microservice.
package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fcm-legacy/internal/api"
	"github.com/tinywideclouds/go-fcm-legacy/internal/pipeline"
	"github.com/tinywideclouds/go-fcm-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// APIPrefix is where the token registration routes are mounted.
const APIPrefix = "/api/v1/"

// Wrapper couples the HTTP surface with the Pub/Sub delivery pipeline so
// both start and stop together.
type Wrapper struct {
	*microservice.BaseServer
	delivery *messagepipeline.StreamingService[notification.NotificationRequest]
	logger   *slog.Logger
}

// handler is the part of the base server's mux the routes need.
type handler interface {
	Handle(pattern string, h http.Handler)
}

// New builds the service. fcmDispatcher is normally the legacy dispatcher
// configured from cfg.FCM; the service logs that configuration so a dry-run
// or non-default endpoint is visible at startup.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	fcmDispatcher dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	tokenStore dispatch.TokenStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	svcLogger := logger.With("component", "NotificationService")
	logFCMSettings(svcLogger, cfg.FCM)

	delivery, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.NotificationRequestTransformer,
		pipeline.NewProcessor(fcmDispatcher, webDispatcher, tokenStore, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pipeline: %w", err)
	}

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)
	mountTokenAPI(
		baseServer.Mux(),
		api.NewTokenAPI(tokenStore, logger),
		middleware.NewCorsMiddleware(cfg.CorsConfig, logger),
		authMiddleware,
	)

	return &Wrapper{
		BaseServer: baseServer,
		delivery:   delivery,
		logger:     svcLogger,
	}, nil
}

func logFCMSettings(logger *slog.Logger, f config.FCMConfig) {
	attrs := []any{"endpoint", f.Endpoint, "timeout", f.Timeout, "priority", f.Priority}
	if f.TimeToLive != nil {
		attrs = append(attrs, "time_to_live", *f.TimeToLive)
	}
	if f.CollapseKey != "" {
		attrs = append(attrs, "collapse_key", f.CollapseKey)
	}
	if f.DryRun {
		logger.Warn("Legacy FCM is in dry-run mode; devices will not receive messages", attrs...)
		return
	}
	logger.Info("Legacy FCM delivery configured", attrs...)
}

// mountTokenAPI registers the device routes. Every route is authenticated;
// only the preflight is open.
func mountTokenAPI(mux handler, tokenAPI *api.TokenAPI, cors, auth func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST " + APIPrefix + "register/fcm":   tokenAPI.RegisterFCM,
		"POST " + APIPrefix + "register/web":   tokenAPI.RegisterWeb,
		"POST " + APIPrefix + "unregister/fcm": tokenAPI.UnregisterFCM,
		"POST " + APIPrefix + "unregister/web": tokenAPI.UnregisterWeb,
	}
	for pattern, h := range routes {
		mux.Handle(pattern, cors(auth(h)))
	}

	mux.Handle("OPTIONS "+APIPrefix, cors(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))
}

// Start begins consuming before the HTTP server reports ready.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Delivery pipeline starting...")
	if err := w.delivery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start delivery pipeline: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops consumption first so no message is acked after the server
// goes away, then the HTTP server. The last error wins.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.delivery.Stop(ctx); err != nil {
		w.logger.Error("Delivery pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
