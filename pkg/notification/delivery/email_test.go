package delivery_test

import (
	"context"
	"fmt"
	"net/smtp"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
)

type staticRecipientLookup struct {
	address string
	err     error
}

func (l staticRecipientLookup) EmailForUser(ctx context.Context, userID string) (string, error) {
	return l.address, l.err
}

var _ = Describe("EmailDeliveryService", func() {
	var notification *domain.AlertNotification

	BeforeEach(func() {
		notification = &domain.AlertNotification{
			RuleID:        "rule-1",
			UserID:        "user-1",
			TransactionID: "txn-1",
			Channel:       domain.ChannelEmail,
			Title:         "Large purchase",
			Body:          "A $500 purchase was made at Example Store",
		}
	})

	It("delivers successfully when the relay accepts the message", func() {
		lookup := staticRecipientLookup{address: "user@example.com"}
		service := delivery.NewEmailDeliveryService(
			delivery.SMTPConfig{Host: "mail.internal", Port: "25", From: "alerts@spendmonitor.example"},
			lookup,
			delivery.WithSendMailFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
				return nil
			}),
		)

		err := service.Deliver(context.Background(), notification)
		Expect(err).ToNot(HaveOccurred())
	})

	It("treats a 5xx SMTP reply as a permanent failure", func() {
		lookup := staticRecipientLookup{address: "user@example.com"}
		service := delivery.NewEmailDeliveryService(
			delivery.SMTPConfig{Host: "mail.internal", Port: "25", From: "alerts@spendmonitor.example"},
			lookup,
			delivery.WithSendMailFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
				return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
			}),
		)

		err := service.Deliver(context.Background(), notification)
		Expect(err).To(HaveOccurred())
		Expect(delivery.IsRetryable(err)).To(BeFalse())
	})

	It("treats a 4xx SMTP reply as retryable", func() {
		attempts := 0
		lookup := staticRecipientLookup{address: "user@example.com"}
		service := delivery.NewEmailDeliveryService(
			delivery.SMTPConfig{Host: "mail.internal", Port: "25", From: "alerts@spendmonitor.example"},
			lookup,
			delivery.WithSendMailFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
				attempts++
				if attempts < 2 {
					return &textproto.Error{Code: 421, Msg: "service not available"}
				}
				return nil
			}),
		)

		err := service.Deliver(context.Background(), notification)
		Expect(err).ToNot(HaveOccurred())
		Expect(attempts).To(BeNumerically(">=", 2))
	})

	It("fails terminally when the recipient cannot be resolved", func() {
		lookup := staticRecipientLookup{err: fmt.Errorf("user not found")}
		service := delivery.NewEmailDeliveryService(
			delivery.SMTPConfig{Host: "mail.internal", Port: "25", From: "alerts@spendmonitor.example"},
			lookup,
		)

		err := service.Deliver(context.Background(), notification)
		Expect(err).To(HaveOccurred())
		Expect(delivery.IsRetryable(err)).To(BeFalse())
	})
})
