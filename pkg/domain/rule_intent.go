package domain

import "time"

// Operator is a comparison used by THRESHOLD and PCT_DELTA_VS_BASELINE
// rules.
type Operator string

const (
	OpGreaterThan        Operator = ">"
	OpLessThan           Operator = "<"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThanOrEqual    Operator = "<="
	OpEqual              Operator = "=="
)

// Baseline identifies the comparison population for
// PCT_DELTA_VS_BASELINE and RECURRING_DRIFT rules.
type Baseline string

const (
	BaselineAvg            Baseline = "AVG"
	BaselineMedian         Baseline = "MEDIAN"
	BaselineLastN          Baseline = "LAST_N"
	BaselineSameMerchantN  Baseline = "SAME_MERCHANT_LAST_N"
)

// RuleIntent is the structured slot-fill the LLM produces from a
// user's free-form sentence. Nothing here is ever interpolated
// directly into SQL: the compiler's template synthesizer reads these
// fields and emits parameterized SQL, never raw LLM text.
type RuleIntent struct {
	Kind         RuleKind       `json:"kind" validate:"required"`
	Amount       *float64       `json:"amount,omitempty"`
	Operator     Operator       `json:"operator,omitempty"`
	Baseline     Baseline       `json:"baseline,omitempty"`
	Window       *time.Duration `json:"window,omitempty"`
	Category     string         `json:"category,omitempty"`
	Merchant     string         `json:"merchant,omitempty"`
	GeoScope     string         `json:"geo_scope,omitempty"`
	ThresholdPct *float64       `json:"threshold_pct,omitempty"`
	Channels     []Channel      `json:"channels" validate:"required,min=1"`

	// Confidence is the model's self-reported confidence in [0,1].
	// Below the compiler's ambiguity threshold, the intent is routed
	// to Ambiguous rather than Synthesize.
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ParseOutcomeKind tags which branch a Parse step landed on.
type ParseOutcomeKind string

const (
	ParseOutcomeValid     ParseOutcomeKind = "valid"
	ParseOutcomeInvalid   ParseOutcomeKind = "invalid"
	ParseOutcomeAmbiguous ParseOutcomeKind = "ambiguous"
)

// ParseOutcome is the result of the Parse state: a RuleIntent on
// success, or the reason the sentence could not be turned into one.
type ParseOutcome struct {
	Kind      ParseOutcomeKind
	Intent    *RuleIntent
	Reason    string   // populated for Invalid
	Hints     []string // populated for Invalid: example sentences
	Questions []string // populated for Ambiguous: clarifying questions
}
