package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// SMTPConfig addresses the outbound mail relay used for the email
// channel.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// RecipientLookup resolves a user ID to the address a notification
// should be delivered to.
type RecipientLookup interface {
	EmailForUser(ctx context.Context, userID string) (string, error)
}

// EmailDeliveryService sends a notification as a plain-text email over
// SMTP. An SMTP reply in the 5xx range is a terminal failure (bad
// address, relay policy rejection); 4xx and transport-level errors are
// retried with backoff.
type EmailDeliveryService struct {
	cfg        SMTPConfig
	recipients RecipientLookup
	retry      RetryPolicy
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailOption customises an EmailDeliveryService at construction time.
type EmailOption func(*EmailDeliveryService)

// WithSendMailFunc overrides the SMTP transport, used by tests to
// exercise Deliver's retry classification without a real mail relay.
func WithSendMailFunc(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) EmailOption {
	return func(s *EmailDeliveryService) { s.sendMail = fn }
}

// NewEmailDeliveryService builds an EmailDeliveryService against cfg,
// resolving recipient addresses through recipients.
func NewEmailDeliveryService(cfg SMTPConfig, recipients RecipientLookup, opts ...EmailOption) *EmailDeliveryService {
	s := &EmailDeliveryService{
		cfg:        cfg,
		recipients: recipients,
		retry:      DefaultRetryPolicy,
		sendMail:   smtp.SendMail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EmailDeliveryService) Deliver(ctx context.Context, notification *domain.AlertNotification) error {
	to, err := s.recipients.EmailForUser(ctx, notification.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient for user %s: %w", notification.UserID, err)
	}

	msg := buildMIMEMessage(s.cfg.From, to, notification.Title, notification.Body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	return withRetry(ctx, s.retry, func() error {
		return classifySMTPError(s.sendMail(s.cfg.addr(), auth, s.cfg.From, []string{to}, msg))
	})
}

func buildMIMEMessage(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		from, to, subject, body,
	))
}

func classifySMTPError(err error) error {
	if err == nil {
		return nil
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return fmt.Errorf("email permanently rejected by relay: %w", err)
		}
		return retryable("smtp transient error", err)
	}

	return retryable("smtp send failed", err)
}
