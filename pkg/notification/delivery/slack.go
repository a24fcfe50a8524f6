package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// SlackDestinationLookup resolves a user ID to the incoming-webhook
// URL their Slack notifications should be posted to.
type SlackDestinationLookup interface {
	SlackWebhookForUser(ctx context.Context, userID string) (string, error)
}

// SlackDeliveryService posts a notification to a user's configured
// Slack incoming webhook. slack.PostWebhookContext returns a
// *slack.StatusCodeError for any non-2xx response; a 5xx is retried,
// everything else is terminal.
type SlackDeliveryService struct {
	destinations SlackDestinationLookup
	retry        RetryPolicy
	post         func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackDeliveryService builds a SlackDeliveryService resolving
// webhook URLs through destinations.
func NewSlackDeliveryService(destinations SlackDestinationLookup) *SlackDeliveryService {
	return &SlackDeliveryService{
		destinations: destinations,
		retry:        DefaultRetryPolicy,
		post:         slack.PostWebhookContext,
	}
}

// NewSlackDeliveryServiceForTest builds a SlackDeliveryService with its
// webhook post function overridden, so tests can exercise Deliver's
// retry classification without a real Slack endpoint.
func NewSlackDeliveryServiceForTest(destinations SlackDestinationLookup, post func(ctx context.Context, url string, msg *slack.WebhookMessage) error) *SlackDeliveryService {
	return &SlackDeliveryService{
		destinations: destinations,
		retry:        DefaultRetryPolicy,
		post:         post,
	}
}

func (s *SlackDeliveryService) Deliver(ctx context.Context, notification *domain.AlertNotification) error {
	url, err := s.destinations.SlackWebhookForUser(ctx, notification.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve slack webhook for user %s: %w", notification.UserID, err)
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", notification.Title, notification.Body),
	}

	return withRetry(ctx, s.retry, func() error {
		return classifySlackError(s.post(ctx, url, msg))
	})
}

func classifySlackError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 {
			return retryable("slack webhook transient error", err)
		}
		return fmt.Errorf("slack webhook rejected payload: %w", err)
	}

	return retryable("slack webhook request failed", err)
}
