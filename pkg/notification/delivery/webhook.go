package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// bearerTokenTTL bounds how long a per-delivery JWT bearer token
// stays valid, so a captured token can't be replayed against the
// destination long after the notification it authenticated.
const bearerTokenTTL = 5 * time.Minute

// WebhookDestination is where a user's webhook notifications are
// posted, and the per-user secret used to sign the payload so the
// receiving endpoint can authenticate it came from this service.
// JWTSecret is optional: when set, delivery additionally carries a
// short-lived signed bearer token for endpoints that authenticate via
// Authorization header rather than (or alongside) the body signature.
type WebhookDestination struct {
	Endpoint  string
	Secret    string
	JWTSecret string
}

// bearerToken builds and signs a short-lived JWT authenticating one
// webhook delivery attempt: subject is the notified user, with the
// notification ID as a claim so the receiving endpoint can correlate
// the token to the specific delivery it accompanies.
func bearerToken(secret, userID, notificationID string) (string, error) {
	now := time.Now().UTC()
	token, err := jwt.NewBuilder().
		Subject(userID).
		Claim("notification_id", notificationID).
		IssuedAt(now).
		Expiration(now.Add(bearerTokenTTL)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build webhook bearer token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), []byte(secret)))
	if err != nil {
		return "", fmt.Errorf("failed to sign webhook bearer token: %w", err)
	}
	return string(signed), nil
}

// WebhookDestinationLookup resolves a user ID to its configured
// webhook endpoint and signing secret.
type WebhookDestinationLookup interface {
	WebhookForUser(ctx context.Context, userID string) (WebhookDestination, error)
}

// encodeWebhookPayload writes notification's wire shape (§6:
// notification_id, rule_id, user_id, transaction, severity, title,
// body, issued_at) with go-faster/jx rather than encoding/json --
// every outbound webhook call pays this cost, and jx's io.Writer-style
// builder skips the reflection encoding/json does per field.
func encodeWebhookPayload(n *domain.AlertNotification) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("notification_id")
	e.Str(n.ID)
	e.FieldStart("rule_id")
	e.Str(n.RuleID)
	e.FieldStart("user_id")
	e.Str(n.UserID)

	e.FieldStart("transaction")
	encodeTransaction(&e, n.Transaction)

	e.FieldStart("severity")
	e.Str(string(n.Severity))
	e.FieldStart("title")
	e.Str(n.Title)
	e.FieldStart("body")
	e.Str(n.Body)
	e.FieldStart("issued_at")
	e.Str(n.CreatedAt.UTC().Format(time.RFC3339Nano))

	e.ObjEnd()
	return e.Bytes()
}

func encodeTransaction(e *jx.Encoder, txn *domain.Transaction) {
	if txn == nil {
		e.Null()
		return
	}
	e.ObjStart()
	e.FieldStart("id")
	e.Str(txn.ID)
	e.FieldStart("user_id")
	e.Str(txn.UserID)
	e.FieldStart("card_id")
	e.Str(txn.CardID)
	e.FieldStart("amount")
	e.Str(txn.Amount.StringFixed(2))
	e.FieldStart("currency")
	e.Str(txn.Currency)
	e.FieldStart("merchant_name")
	e.Str(txn.MerchantName)
	e.FieldStart("merchant_category")
	e.Str(txn.MerchantCategory)
	e.FieldStart("occurred_at")
	e.Str(txn.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("status")
	e.Str(string(txn.Status))
	if txn.Coords != nil {
		e.FieldStart("coords")
		e.ObjStart()
		e.FieldStart("lat")
		e.Float64(txn.Coords.Lat)
		e.FieldStart("lon")
		e.Float64(txn.Coords.Lon)
		e.ObjEnd()
	}
	e.ObjEnd()
}

// WebhookDeliveryService posts a notification to the user's configured
// HTTPS endpoint, signing the body with HMAC-SHA256 so the receiver
// can verify authenticity. A 2xx response is success; 4xx is a
// terminal failure (the endpoint rejected the payload outright); 5xx
// and transport-level errors are retried with backoff.
type WebhookDeliveryService struct {
	destinations WebhookDestinationLookup
	retry        RetryPolicy
	httpClient   *http.Client
}

// NewWebhookDeliveryService builds a WebhookDeliveryService resolving
// endpoints through destinations.
func NewWebhookDeliveryService(destinations WebhookDestinationLookup) *WebhookDeliveryService {
	return &WebhookDeliveryService{
		destinations: destinations,
		retry:        DefaultRetryPolicy,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookDeliveryService) Deliver(ctx context.Context, notification *domain.AlertNotification) error {
	dest, err := s.destinations.WebhookForUser(ctx, notification.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve webhook destination for user %s: %w", notification.UserID, err)
	}

	body := encodeWebhookPayload(notification)

	signature := signPayload(dest.Secret, body)

	var bearer string
	if dest.JWTSecret != "" {
		bearer, err = bearerToken(dest.JWTSecret, notification.UserID, notification.ID)
		if err != nil {
			return fmt.Errorf("failed to build bearer token for user %s: %w", notification.UserID, err)
		}
	}

	return withRetry(ctx, s.retry, func() error {
		return s.post(ctx, dest.Endpoint, signature, bearer, body)
	})
}

func (s *WebhookDeliveryService) post(ctx context.Context, endpoint, signature, bearer string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256="+signature)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return retryable("webhook request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("webhook endpoint rejected payload with status %d", resp.StatusCode)
	default:
		return retryable("webhook request failed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
