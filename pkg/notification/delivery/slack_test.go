package delivery_test

import (
	"context"
	"errors"

	"github.com/slack-go/slack"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
)

type staticSlackLookup struct {
	url string
}

func (l staticSlackLookup) SlackWebhookForUser(ctx context.Context, userID string) (string, error) {
	return l.url, nil
}

var _ = Describe("SlackDeliveryService", func() {
	var notification *domain.AlertNotification

	BeforeEach(func() {
		notification = &domain.AlertNotification{
			RuleID:  "rule-1",
			UserID:  "user-1",
			Channel: domain.ChannelSlack,
			Title:   "Large purchase",
			Body:    "A $500 purchase was made at Example Store",
		}
	})

	It("succeeds when the webhook post reports no error", func() {
		service := delivery.NewSlackDeliveryServiceForTest(staticSlackLookup{url: "https://hooks.slack.test/x"},
			func(ctx context.Context, url string, msg *slack.WebhookMessage) error { return nil })

		err := service.Deliver(context.Background(), notification)
		Expect(err).ToNot(HaveOccurred())
	})

	It("treats a 4xx status as a terminal, non-retryable failure", func() {
		service := delivery.NewSlackDeliveryServiceForTest(staticSlackLookup{url: "https://hooks.slack.test/x"},
			func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
				return slack.StatusCodeError{Code: 400, Status: "Bad Request"}
			})

		err := service.Deliver(context.Background(), notification)
		Expect(err).To(HaveOccurred())
		Expect(delivery.IsRetryable(err)).To(BeFalse())
	})

	It("treats a 5xx status as retryable", func() {
		service := delivery.NewSlackDeliveryServiceForTest(staticSlackLookup{url: "https://hooks.slack.test/x"},
			func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
				return slack.StatusCodeError{Code: 503, Status: "Service Unavailable"}
			})

		err := service.Deliver(context.Background(), notification)
		Expect(err).To(HaveOccurred())
		Expect(delivery.IsRetryable(err)).To(BeTrue())
	})

	It("treats a transport error as retryable", func() {
		service := delivery.NewSlackDeliveryServiceForTest(staticSlackLookup{url: "https://hooks.slack.test/x"},
			func(ctx context.Context, url string, msg *slack.WebhookMessage) error { return errors.New("dial tcp: timeout") })

		err := service.Deliver(context.Background(), notification)
		Expect(err).To(HaveOccurred())
		Expect(delivery.IsRetryable(err)).To(BeTrue())
	})
})
