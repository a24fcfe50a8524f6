package validation

import (
	"strings"
	"time"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// clockSkew bounds how far into the future a timestamp may be before
// it is rejected as implausible.
const clockSkew = 5 * time.Minute

var validChannels = map[domain.Channel]bool{
	domain.ChannelEmail:   true,
	domain.ChannelWebhook: true,
	domain.ChannelSlack:   true,
	domain.ChannelSMS:     true,
}

var validNotificationStatuses = map[domain.NotificationStatus]bool{
	domain.NotificationQueued: true,
	domain.NotificationSent:   true,
	domain.NotificationFailed: true,
	domain.NotificationRead:   true,
}

// AlertNotificationValidator checks an AlertNotification against the
// data store's field constraints before it is persisted (§3 invariants).
type AlertNotificationValidator struct{}

// NewAlertNotificationValidator constructs a validator. It holds no
// state and is safe to share.
func NewAlertNotificationValidator() *AlertNotificationValidator {
	return &AlertNotificationValidator{}
}

// Validate returns nil when n satisfies every field constraint, or a
// ValidationError carrying one entry per failing field.
func (v *AlertNotificationValidator) Validate(n *domain.AlertNotification) *ValidationError {
	if n == nil {
		err := NewValidationError("alert_notification", "notification cannot be nil")
		return err
	}

	err := NewValidationError("alert_notification", "one or more fields are invalid")

	if strings.TrimSpace(n.RuleID) == "" {
		err.AddFieldError("rule_id", "rule_id is required")
	} else if len(n.RuleID) > 255 {
		err.AddFieldError("rule_id", "rule_id must be at most 255 characters")
	}

	if strings.TrimSpace(n.UserID) == "" {
		err.AddFieldError("user_id", "user_id is required")
	} else if len(n.UserID) > 255 {
		err.AddFieldError("user_id", "user_id must be at most 255 characters")
	}

	if strings.TrimSpace(string(n.Channel)) == "" {
		err.AddFieldError("channel", "channel is required")
	} else if !validChannels[domain.Channel(strings.ToLower(string(n.Channel)))] {
		err.AddFieldError("channel", "channel must be one of email, webhook, slack, sms")
	}

	if strings.TrimSpace(n.Title) == "" {
		err.AddFieldError("title", "title is required")
	}

	if strings.TrimSpace(n.Body) == "" {
		err.AddFieldError("body", "body is required")
	}

	if strings.TrimSpace(string(n.Status)) == "" {
		err.AddFieldError("status", "status is required")
	} else if !validNotificationStatuses[domain.NotificationStatus(strings.ToUpper(string(n.Status)))] {
		err.AddFieldError("status", "status must be one of QUEUED, SENT, FAILED, READ")
	}

	if n.CreatedAt.IsZero() {
		err.AddFieldError("created_at", "created_at is required")
	} else if n.CreatedAt.After(time.Now().Add(clockSkew)) {
		err.AddFieldError("created_at", "created_at cannot be in the future")
	}

	if len(err.FieldErrors) == 0 {
		return nil
	}
	return err
}
