package evaluator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/spendmonitor/alertengine/pkg/behavior"
	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/evaluator"
)

var _ = Describe("EvaluateCheap", func() {
	It("reports a rule kind that is not cheap", func() {
		rule := &domain.AlertRule{Kind: domain.RuleKindFrequency}
		Expect(evaluator.IsCheap(rule, "")).To(BeFalse())
	})

	It("treats LOCATION as cheap unless the geo_scope is home-relative", func() {
		staticRule := &domain.AlertRule{Kind: domain.RuleKindLocation}
		Expect(evaluator.IsCheap(staticRule, "outside usa")).To(BeTrue())
		Expect(evaluator.IsCheap(staticRule, "home:user-1")).To(BeFalse())
	})

	It("matches a MERCHANT_PATTERN rule against the transaction's merchant name", func() {
		rule := &domain.AlertRule{
			Kind:          domain.RuleKindMerchantPattern,
			TriggerSchema: map[string]interface{}{"merchant": "coffee"},
		}
		txn := &domain.Transaction{MerchantName: "Downtown Coffee Shop", Amount: decimal.NewFromFloat(5), OccurredAt: time.Now()}

		triggered, _, _, err := evaluator.EvaluateCheap(rule, txn, &domain.User{})
		Expect(err).ToNot(HaveOccurred())
		Expect(triggered).To(BeTrue())
	})

	It("does not match a MERCHANT_PATTERN rule against an unrelated merchant", func() {
		rule := &domain.AlertRule{
			Kind:          domain.RuleKindMerchantPattern,
			TriggerSchema: map[string]interface{}{"merchant": "coffee"},
		}
		txn := &domain.Transaction{MerchantName: "Hardware Store", Amount: decimal.NewFromFloat(5), OccurredAt: time.Now()}

		triggered, _, _, err := evaluator.EvaluateCheap(rule, txn, &domain.User{})
		Expect(err).ToNot(HaveOccurred())
		Expect(triggered).To(BeFalse())
	})

	It("reports impossible travel when the gap to the last known location is too fast", func() {
		rule := &domain.AlertRule{Kind: domain.RuleKindLocation}
		now := time.Now()
		user := &domain.User{
			LastKnownCoords: &domain.Coordinates{Lat: 40.7128, Lon: -74.0060}, // New York
			LastKnownAt:     now.Add(-1 * time.Hour),
		}
		txn := &domain.Transaction{
			Coords:     &domain.Coordinates{Lat: 35.6762, Lon: 139.6503}, // Tokyo, an hour later
			Amount:     decimal.NewFromFloat(20),
			OccurredAt: now,
		}

		triggered, _, risk, err := evaluator.EvaluateCheap(rule, txn, user)
		Expect(err).ToNot(HaveOccurred())
		Expect(triggered).To(BeTrue())
		Expect(risk).To(Equal(behavior.LocationRiskImpossibleTravel))
	})
})
