//go:build integration

package notificationservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	fcmDispatch "github.com/tinywideclouds/go-fcm-legacy/internal/platform/fcm"
	fsStore "github.com/tinywideclouds/go-fcm-legacy/internal/storage/firestore"
	"github.com/tinywideclouds/go-fcm-legacy/notificationservice"
	"github.com/tinywideclouds/go-fcm-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/dispatch"
	legacy "github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
)

// --- Fakes ---

// fakeFCM answers legacy sends: "dead-*" ids are NotRegistered, ids listed in
// canonical get a registration_id, everything else succeeds.
type fakeFCM struct {
	mu        sync.Mutex
	canonical map[string]string
	batches   [][]string
	lastBody  map[string]any
}

func (f *fakeFCM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RegistrationIDs []string       `json:"registration_ids"`
		Notification    map[string]any `json:"notification"`
	}
	raw, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.batches = append(f.batches, body.RegistrationIDs)
	_ = json.Unmarshal(raw, &f.lastBody)
	f.mu.Unlock()

	results := make([]map[string]any, 0, len(body.RegistrationIDs))
	success, failure, canonical := 0, 0, 0
	for i, id := range body.RegistrationIDs {
		switch {
		case len(id) > 5 && id[:5] == "dead-":
			failure++
			results = append(results, map[string]any{"error": "NotRegistered"})
		case f.canonical[id] != "":
			success++
			canonical++
			results = append(results, map[string]any{
				"message_id":      fmt.Sprintf("0:%d", i),
				"registration_id": f.canonical[id],
			})
		default:
			success++
			results = append(results, map[string]any{"message_id": fmt.Sprintf("0:%d", i)})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"multicast_id":  4242,
		"success":       success,
		"failure":       failure,
		"canonical_ids": canonical,
		"results":       results,
	})
}

func (f *fakeFCM) Batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

func (f *fakeFCM) LastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

type nopWebDispatcher struct{}

func (nopWebDispatcher) Dispatch(context.Context, []notification.WebPushSubscription, notification.NotificationContent, map[string]string) (dispatch.Report, error) {
	return dispatch.Report{Receipt: "web-skipped"}, nil
}

// --- Test ---

func TestNotificationService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	tokenStore := fsStore.NewFirestoreStore(fsClient, logger)

	// 2. Legacy FCM, pointed at a local fake
	fake := &fakeFCM{canonical: map[string]string{"old-id": "canonical-id"}}
	fcmServer := httptest.NewServer(fake)
	t.Cleanup(fcmServer.Close)

	fcmCfg := config.FCMConfig{APIKey: "integration-key", Priority: "high"}
	client, err := legacy.NewClient(fcmCfg.APIKey,
		legacy.WithEndpoint(fcmServer.URL),
		legacy.WithHTTPClient(fcmServer.Client()),
		legacy.WithLogger(logger),
	)
	require.NoError(t, err)
	fcmDispatcher := fcmDispatch.NewDispatcher(client, fcmCfg, logger)

	t.Run("Register -> Publish -> Legacy send -> Self-heal", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := notificationservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			fcmDispatcher,
			nopWebDispatcher{},
			tokenStore,
			func(h http.Handler) http.Handler { return h },
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() {
			if err := svc.Start(svcCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.Logf("service.Start() returned: %v", err)
			}
		}()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: the user has one live, one dead and one stale device.
		userURN, err := urn.Parse("urn:sm:user:" + uuid.NewString())
		require.NoError(t, err)
		for _, token := range []string{"live-id", "dead-id", "old-id"} {
			require.NoError(t, tokenStore.RegisterFCM(ctx, userURN, token))
		}

		// Step B: publish without tokens; the service resolves them.
		payload, err := json.Marshal(&notification.NotificationRequest{
			RecipientID: userURN,
			Content:     notification.NotificationContent{Title: "Hello", Body: "World"},
			DataPayload: map[string]string{"conversation": "c-1"},
		})
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(fake.Batches()) == 1
		}, 15*time.Second, 100*time.Millisecond)

		assert.ElementsMatch(t, []string{"live-id", "dead-id", "old-id"}, fake.Batches()[0])
		body := fake.LastBody()
		assert.Equal(t, "high", body["priority"])
		assert.Equal(t, map[string]any{"title": "Hello", "body": "World"}, body["notification"])
		assert.Equal(t, map[string]any{"conversation": "c-1"}, body["data"])

		// Step C: the dead id is gone and the stale id was replaced.
		require.Eventually(t, func() bool {
			req, err := tokenStore.Fetch(ctx, userURN)
			if err != nil {
				return false
			}
			return len(req.FCMTokens) == 2 &&
				slices.Contains(req.FCMTokens, "live-id") && slices.Contains(req.FCMTokens, "canonical-id")
		}, 10*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
