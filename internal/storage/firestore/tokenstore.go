// Package firestore is the source of truth for a user's push endpoints.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const (
	platformFCM = "fcm"
	platformWeb = "web"
)

// FirestoreStore implements dispatch.TokenStore.
// Layout: users/{urn}/devices/{sha256(token or endpoint)}.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		logger: logger.With("component", "FirestoreStore"),
	}
}

// deviceRecord holds either an FCM registration id or a web subscription.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	Token           string                            `firestore:"token,omitempty"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

func fcmRecord(token string) deviceRecord {
	return deviceRecord{Platform: platformFCM, Token: token, UpdatedAt: time.Now()}
}

// --- DOOR A: FCM (Mobile) ---

func (s *FirestoreStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	if _, err := s.deviceRef(user, hashKey(token)).Set(ctx, fcmRecord(token)); err != nil {
		return fmt.Errorf("register fcm token for %s: %w", user.String(), err)
	}
	return nil
}

func (s *FirestoreStore) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	if _, err := s.deviceRef(user, hashKey(token)).Delete(ctx); err != nil {
		return fmt.Errorf("unregister fcm token for %s: %w", user.String(), err)
	}
	return nil
}

// ReplaceFCM swaps a registration id for the canonical id FCM reported for
// it. Both writes land in one transaction so a device is never left with
// neither row.
func (s *FirestoreStore) ReplaceFCM(ctx context.Context, user urn.URN, oldToken, newToken string) error {
	if oldToken == newToken {
		return nil
	}
	oldRef := s.deviceRef(user, hashKey(oldToken))
	newRef := s.deviceRef(user, hashKey(newToken))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Delete(oldRef); err != nil {
			return err
		}
		return tx.Set(newRef, fcmRecord(newToken))
	})
	if err != nil {
		return fmt.Errorf("replace fcm token for %s: %w", user.String(), err)
	}
	return nil
}

// --- DOOR B: Web (VAPID) ---

func (s *FirestoreStore) RegisterWeb(ctx context.Context, user urn.URN, sub notification.WebPushSubscription) error {
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	if _, err := s.deviceRef(user, hashKey(sub.Endpoint)).Set(ctx, record); err != nil {
		return fmt.Errorf("register web subscription for %s: %w", user.String(), err)
	}
	return nil
}

func (s *FirestoreStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if _, err := s.deviceRef(user, hashKey(endpoint)).Delete(ctx); err != nil {
		return fmt.Errorf("unregister web subscription for %s: %w", user.String(), err)
	}
	return nil
}

// --- FAN-OUT ---

// Fetch sorts every device the user has into the FCM and web buckets.
func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) (*notification.NotificationRequest, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	req := &notification.NotificationRequest{
		RecipientID:      user,
		FCMTokens:        make([]string, 0),
		WebSubscriptions: make([]notification.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping unreadable device record", "user", user.String(), "doc", doc.Ref.ID, "err", err)
			continue
		}

		switch {
		case record.Platform == platformWeb && record.WebSubscription != nil:
			req.WebSubscriptions = append(req.WebSubscriptions, *record.WebSubscription)
		case record.Token != "":
			req.FCMTokens = append(req.FCMTokens, record.Token)
		}
	}

	return req, nil
}

// --- Helpers ---

func (s *FirestoreStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *FirestoreStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

// hashKey keeps document ids fixed-length and spreads writes.
func hashKey(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
