// Package llm wraps a natural-language model provider behind a single
// Client interface used by the rule compiler's Parse state to turn a
// user's free-form sentence into a structured RuleIntent.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/internal/config"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// Client extracts a RuleIntent from a user's free-form sentence and
// exposes a raw chat-completion escape hatch for callers (e.g. the
// AI-enhanced client) that need free-text model output.
type Client interface {
	ExtractRuleIntent(ctx context.Context, nlText, timezone string) (*domain.RuleIntent, error)
	ChatCompletion(ctx context.Context, prompt string) (string, error)
	IsHealthy() bool
}

// ruleIntentPromptTemplate instructs the model to fill RuleIntent's
// slots and nothing else: the model never writes SQL, only JSON slot
// values the compiler's Synthesize step later turns into a
// parameterized query.
const ruleIntentPromptTemplate = `<|system|>
You are a rule-compilation assistant for a credit-card spend monitor.
Convert the user's sentence into a single JSON object matching this
schema, and output ONLY the JSON object, no other text:

{
  "kind": one of THRESHOLD, PCT_DELTA_VS_BASELINE, LOCATION, MERCHANT_PATTERN, FREQUENCY, RECURRING_DRIFT, CATEGORY_RATIO,
  "amount": number or null,
  "operator": one of ">", "<", ">=", "<=", "==", or null,
  "baseline": one of "AVG", "MEDIAN", "LAST_N", "SAME_MERCHANT_LAST_N", or null,
  "window_seconds": integer number of seconds or null,
  "category": string or null,
  "merchant": string or null,
  "geo_scope": string or null,
  "threshold_pct": number or null,
  "channels": array of "email", "webhook", "slack", "sms",
  "confidence": number between 0 and 1,
  "reasoning": short string explaining the slot choices
}

RULE KINDS:
- THRESHOLD: a single transaction's amount crosses a fixed number.
- PCT_DELTA_VS_BASELINE: spend deviates from a historical baseline by a percentage.
- LOCATION: a transaction occurs outside (or inside) a named geographic scope.
- MERCHANT_PATTERN: a transaction matches a merchant name or category pattern.
- FREQUENCY: more than N transactions occur within a time window.
- RECURRING_DRIFT: a recurring charge's amount changes from its usual value.
- CATEGORY_RATIO: spend in one category exceeds a ratio of total spend.

If the sentence is not expressible as any of these kinds, set "kind" to
null and explain why in "reasoning". If required slots are missing or
ambiguous, still emit your best-guess JSON but set "confidence" below
0.5 and list the missing information in "reasoning".
<|user|>
Timezone: %s
Current time: %s
Sentence: "%s"

Examples of sentences this schema can express:
%s

Default notification channel if none is named: %s
<|assistant|>
`

type client struct {
	config  config.LLMConfig
	backend backend
	log     *logrus.Logger
	healthy bool
}

// NewClient builds a Client for cfg.Provider. Supported providers are
// localai, anthropic, bedrock, vertexai, and mistral; each backend
// shares the same prompt template and JSON-slot-fill contract, only
// the wire call differs.
func NewClient(cfg config.LLMConfig, log *logrus.Logger) (Client, error) {
	if log == nil {
		log = logrus.New()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &client{
		config:  cfg,
		backend: b,
		log:     log,
		healthy: true,
	}, nil
}

func (c *client) generatePrompt(nlText, timezone string) string {
	if timezone == "" {
		timezone = "UTC"
	}
	examples := `"alert me if I spend more than $500 at one time"
"tell me if my dining spend this month is 50% above my usual"
"notify me if a card is used outside the US"
"let me know about more than 5 transactions in an hour"
"flag it if my Netflix subscription price changes"`

	return fmt.Sprintf(
		ruleIntentPromptTemplate,
		timezone,
		time.Now().UTC().Format(time.RFC3339),
		nlText,
		examples,
		string(domain.ChannelEmail),
	)
}

// rawRuleIntent mirrors the model's JSON output before it is folded
// into a domain.RuleIntent; window_seconds lets the model reason in
// seconds without knowing Go's time.Duration string grammar.
type rawRuleIntent struct {
	Kind          *string  `json:"kind"`
	Amount        *float64 `json:"amount"`
	Operator      *string  `json:"operator"`
	Baseline      *string  `json:"baseline"`
	WindowSeconds *int64   `json:"window_seconds"`
	Category      *string  `json:"category"`
	Merchant      *string  `json:"merchant"`
	GeoScope      *string  `json:"geo_scope"`
	ThresholdPct  *float64 `json:"threshold_pct"`
	Channels      []string `json:"channels"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
}

// ExtractRuleIntent sends nlText to the configured model and decodes
// its JSON response into a RuleIntent. It never fails on a parseable-
// but-low-confidence response: the compiler's Parse state is
// responsible for routing low-confidence intents to Ambiguous.
func (c *client) ExtractRuleIntent(ctx context.Context, nlText, timezone string) (*domain.RuleIntent, error) {
	prompt := c.generatePrompt(nlText, timezone)

	raw, err := c.ChatCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	var parsed rawRuleIntent
	if err := json.Unmarshal(extractJSONObject(raw), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable model response: %w", err)
	}

	intent := &domain.RuleIntent{
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
	}
	if parsed.Kind != nil {
		intent.Kind = domain.RuleKind(*parsed.Kind)
	}
	intent.Amount = parsed.Amount
	if parsed.Operator != nil {
		intent.Operator = domain.Operator(*parsed.Operator)
	}
	if parsed.Baseline != nil {
		intent.Baseline = domain.Baseline(*parsed.Baseline)
	}
	if parsed.WindowSeconds != nil {
		d := time.Duration(*parsed.WindowSeconds) * time.Second
		intent.Window = &d
	}
	if parsed.Category != nil {
		intent.Category = *parsed.Category
	}
	if parsed.Merchant != nil {
		intent.Merchant = *parsed.Merchant
	}
	if parsed.GeoScope != nil {
		intent.GeoScope = *parsed.GeoScope
	}
	intent.ThresholdPct = parsed.ThresholdPct
	for _, ch := range parsed.Channels {
		intent.Channels = append(intent.Channels, domain.Channel(ch))
	}

	return intent, nil
}

// extractJSONObject trims any prose a model wraps around the JSON
// object it was asked to emit, returning the span from the first '{'
// to the last '}' (braces are not matched, so trailing prose that
// itself contains a '}' stays in the span). If no such span is found
// the input is returned unchanged so the
// caller's json.Unmarshal produces a descriptive error.
func extractJSONObject(s string) []byte {
	b := []byte(s)
	start := bytes.IndexByte(b, '{')
	end := bytes.LastIndexByte(b, '}')
	if start == -1 || end == -1 || end < start {
		return b
	}
	return b[start : end+1]
}

// ChatCompletion sends prompt to the configured provider's backend and
// returns the raw text response.
func (c *client) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	text, err := c.backend.complete(runCtx, prompt)
	if err != nil {
		c.healthy = false
		return "", fmt.Errorf("request to %s provider failed: %w", c.config.Provider, err)
	}
	c.healthy = true
	return text, nil
}

// IsHealthy reports whether the most recent chat completion succeeded.
func (c *client) IsHealthy() bool {
	return c.healthy
}
