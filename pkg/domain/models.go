// Package domain holds the persistent entities shared by every
// component of the alert pipeline: the data store (C1), the rule
// compiler (C3), the evaluator (C4), the behavioural analyzer (C5),
// and the notification dispatcher (C6).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of an ingested transaction.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionDeclined TransactionStatus = "DECLINED"
	TransactionSettled  TransactionStatus = "SETTLED"
	TransactionRefunded TransactionStatus = "REFUNDED"
)

// Severity ranks an alert rule's urgency.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MED"
	SeverityHigh   Severity = "HIGH"
)

// Channel is a notification delivery surface.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
	ChannelSMS     Channel = "sms"
)

// NotificationStatus is the lifecycle state of an AlertNotification.
// Transitions are monotone: QUEUED -> SENT|FAILED, SENT -> READ
// (terminal); FAILED is terminal unless redelivered.
type NotificationStatus string

const (
	NotificationQueued NotificationStatus = "QUEUED"
	NotificationSent   NotificationStatus = "SENT"
	NotificationFailed NotificationStatus = "FAILED"
	NotificationRead   NotificationStatus = "READ"
)

// Coordinates is a lat/lon pair, used for both user home location and
// transaction merchant location.
type Coordinates struct {
	Lat float64
	Lon float64
}

// User is an account holder whose transactions are monitored.
type User struct {
	ID               string
	Email            string
	HomeCoords       *Coordinates
	CreditLimit      decimal.Decimal
	CurrentBalance   decimal.Decimal
	LocationConsent  bool
	LastKnownCoords  *Coordinates
	LastKnownAt      time.Time
	Timezone         string
	CreatedAt        time.Time
}

// CreditCard is a card issued to a User.
type CreditCard struct {
	ID     string
	UserID string
	Last4  string
	Network string
	Issuer  string
	Active  bool
}

// Transaction is an append-only record of card activity. Status may
// advance but rows are never mutated in place beyond status and
// settlement metadata.
type Transaction struct {
	ID               string
	UserID           string
	CardID           string
	Amount           decimal.Decimal
	Currency         string
	MerchantName     string
	MerchantCategory string
	OccurredAt       time.Time
	Coords           *Coordinates
	Status           TransactionStatus
}

// RuleKind identifies the predicate family a compiled AlertRule
// implements; it drives both cheap-rule CEL program selection (C4)
// and SQL template synthesis (C3).
type RuleKind string

const (
	RuleKindThreshold          RuleKind = "THRESHOLD"
	RuleKindPctDeltaVsBaseline RuleKind = "PCT_DELTA_VS_BASELINE"
	RuleKindMerchantPattern    RuleKind = "MERCHANT_PATTERN"
	RuleKindLocation           RuleKind = "LOCATION"
	RuleKindFrequency          RuleKind = "FREQUENCY"
	RuleKindRecurringDrift     RuleKind = "RECURRING_DRIFT"
	RuleKindCategoryRatio      RuleKind = "CATEGORY_RATIO"
)

// AlertRule is a compiled, validated monitoring rule produced by the
// rule compiler (C3) from a user's free-form sentence.
type AlertRule struct {
	ID               string
	UserID           string
	NLText           string
	Name             string
	Kind             RuleKind
	SQLText          string
	SQLParamsSchema  map[string]interface{}
	TriggerSchema    map[string]interface{}
	Severity         Severity
	Channels         []Channel
	IsActive         bool
	CreatedAt        time.Time
	LastTriggeredAt  *time.Time
	TriggerCount     int64
	NLEmbedding      []float64
	ValidatedSQL     bool
}

// AlertNotification is a single delivery attempt record for one
// (rule, transaction, channel) triple.
type AlertNotification struct {
	ID            string
	RuleID        string
	UserID        string
	TransactionID string
	Transaction   *Transaction
	Channel       Channel
	Severity      Severity
	Title         string
	Body          string
	Status        NotificationStatus
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	ReadAt        *time.Time
	Error         string
}

// CategorySynonym maps a free-form merchant category string onto a
// canonical one, used by C3 (rule prompts) and C5 (baseline grouping).
type CategorySynonym struct {
	Canonical string
	Synonym   string
	Embedding []float64
}
