package rulecompiler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spendmonitor/alertengine/pkg/ai/llm"
	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/storage/vector"
	"github.com/spendmonitor/alertengine/pkg/telemetry"
)

// RuleLister lists a user's existing rules for the normalized-text
// dedup fallback used when the vector store has no embedding for a
// candidate rule yet (e.g. the embedding provider is unavailable).
type RuleLister interface {
	ListRulesForUser(ctx context.Context, userID string) ([]*domain.AlertRule, error)
}

// Thresholds bundles the confidence and similarity cutoffs that decide
// whether a compiled rule lands as Valid, Ambiguous, or DuplicateOf.
type Thresholds struct {
	// MinConfidence is the LLM-reported confidence below which a
	// parse is treated as Ambiguous rather than proceeding to Ground.
	MinConfidence float64
	// DuplicateSimilarity is the cosine-similarity floor above which
	// a candidate rule is considered a duplicate of an existing one.
	DuplicateSimilarity float64
}

// DefaultThresholds matches the acceptance examples worked through in
// the authoring flow.
var DefaultThresholds = Thresholds{MinConfidence: 0.6, DuplicateSimilarity: 0.92}

// Compiler drives the Parse -> Ground -> Synthesize -> Validate ->
// DedupCheck state machine that turns one sentence into a compiled
// AlertRule.
type Compiler struct {
	llmClient        llm.Client
	grounder         Grounder
	synthesizer      Synthesizer
	grammarValidator *GrammarValidator
	sqlRunner        SQLRunner
	vectorDB         vector.Database
	embeddingService vector.EmbeddingService
	ruleLister       RuleLister
	thresholds       atomic.Pointer[Thresholds]
	log              *logrus.Logger
}

// NewCompiler wires every stage of the compile pipeline. sqlRunner and
// vectorDB may be nil in tests that only exercise Parse/Ground/
// Synthesize/static-Validate.
func NewCompiler(
	llmClient llm.Client,
	grounder Grounder,
	sqlRunner SQLRunner,
	vectorDB vector.Database,
	embeddingService vector.EmbeddingService,
	ruleLister RuleLister,
	thresholds Thresholds,
	log *logrus.Logger,
) *Compiler {
	c := &Compiler{
		llmClient:        llmClient,
		grounder:         grounder,
		synthesizer:      NewDefaultSynthesizer(),
		grammarValidator: NewGrammarValidator(DefaultSchema),
		sqlRunner:        sqlRunner,
		vectorDB:         vectorDB,
		embeddingService: embeddingService,
		ruleLister:       ruleLister,
		log:              log,
	}
	c.thresholds.Store(&thresholds)
	return c
}

// SetThresholds atomically swaps the confidence/similarity cutoffs used
// by every Compile call after this point, so a config-file edit can
// retune the compiler without restarting the process or racing an
// in-flight compile.
func (c *Compiler) SetThresholds(t Thresholds) {
	c.thresholds.Store(&t)
}

// Compile runs one sentence through the full pipeline and returns the
// terminal CompileResult: Valid, Invalid, Ambiguous, or DuplicateOf.
func (c *Compiler) Compile(ctx context.Context, userID, nlText, timezone string) (*CompileResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rulecompiler.Compile",
		trace.WithAttributes(attribute.String("alertengine.user_id", userID)))
	defer span.End()

	intent, err := c.llmClient.ExtractRuleIntent(ctx, nlText, timezone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse sentence")
		return nil, fmt.Errorf("failed to parse sentence: %w", err)
	}
	span.SetAttributes(attribute.String("alertengine.rule_kind", string(intent.Kind)))

	if intent.Kind == "" {
		return ambiguous([]string{
			"I couldn't match that to a rule I know how to monitor. Could you rephrase it in terms of an amount, a merchant, a category, or a location?",
		}), nil
	}

	thresholds := c.thresholds.Load()

	if intent.Confidence > 0 && intent.Confidence < thresholds.MinConfidence {
		return ambiguous([]string{
			fmt.Sprintf("I'm not confident I understood that correctly (%.0f%% confidence). Could you be more specific?", intent.Confidence*100),
		}), nil
	}

	grounded, err := c.grounder.Ground(ctx, intent, userID)
	if err != nil {
		return invalid(err.Error(), "rephrase with an explicit amount, merchant, category, or location"), nil
	}

	sqlText, paramsSchema, err := c.synthesizer.Synthesize(grounded)
	if err != nil {
		return invalid(err.Error()), nil
	}

	if err := c.grammarValidator.Validate(sqlText); err != nil {
		c.log.WithError(err).WithField("user_id", userID).WithField("stack", fmt.Sprintf("%+v", err)).
			Error("rule compiler produced SQL that failed grammar validation")
		return invalid("the compiled query failed validation: "+err.Error(), "try rephrasing the rule"), nil
	}

	if c.sqlRunner != nil {
		if err := c.validateExecutable(ctx, sqlText, paramsSchema, userID); err != nil {
			return invalid(err.Error(), "the rule couldn't be test-run against your transaction history"), nil
		}
	}

	dup, err := c.dedupCheck(ctx, userID, nlText, grounded)
	if err != nil {
		c.log.WithError(err).Warn("dedup check failed, proceeding without it")
	}
	if dup != "" {
		return duplicateOf(dup), nil
	}

	rule := &domain.AlertRule{
		ID:              uuid.NewString(),
		UserID:          userID,
		NLText:          nlText,
		Name:            ruleName(grounded),
		Kind:            grounded.Kind,
		SQLText:         sqlText,
		SQLParamsSchema: paramsSchema,
		TriggerSchema:   triggerSchema(grounded),
		Severity:        domain.SeverityMedium,
		Channels:        grounded.Channels,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		ValidatedSQL:    c.sqlRunner != nil,
	}

	if c.embeddingService != nil {
		if embedding, err := c.embeddingService.GenerateTextEmbedding(ctx, nlText); err == nil {
			rule.NLEmbedding = embedding
		}
	}

	if c.vectorDB != nil {
		pattern := &vector.RulePattern{
			ID:        rule.ID,
			RuleKind:  string(rule.Kind),
			NLText:    nlText,
			UserID:    userID,
			SQLText:   sqlText,
			Embedding: rule.NLEmbedding,
			CreatedAt: rule.CreatedAt,
			UpdatedAt: rule.CreatedAt,
		}
		if err := c.vectorDB.StoreRulePattern(ctx, pattern); err != nil {
			c.log.WithError(err).Warn("failed to store rule pattern for future dedup checks")
		}
	}

	return valid(rule), nil
}

// validateExecutable runs the synthesized SQL with placeholder bound
// params, asserting it returns the required single-row shape without
// erroring. It does not judge Triggered; a compiled rule need not
// trigger against the user's own history to be valid.
func (c *Compiler) validateExecutable(ctx context.Context, sqlText string, paramsSchema map[string]interface{}, userID string) error {
	params := map[string]interface{}{}
	for name := range paramsSchema {
		params[name] = placeholderValue(name)
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.sqlRunner.RunRuleSQL(runCtx, sqlText, params, userID); err != nil {
		return fmt.Errorf("dynamic validation failed: %w", err)
	}
	return nil
}

func placeholderValue(param string) interface{} {
	switch param {
	case "user_id", "txn_id":
		return uuid.Nil.String()
	case "window_start", "window_end":
		return time.Now().UTC()
	case "amount", "threshold_pct":
		return 0.0
	default:
		return ""
	}
}

// dedupCheck compares a grounded intent against the user's existing
// rules, preferring vector similarity and falling back to normalized
// text comparison when the vector store or embedding service is
// unavailable. It returns the duplicate rule's ID, or "" if none
// found.
func (c *Compiler) dedupCheck(ctx context.Context, userID, nlText string, intent *domain.RuleIntent) (string, error) {
	if c.vectorDB != nil && c.embeddingService != nil {
		embedding, err := c.embeddingService.GenerateTextEmbedding(ctx, nlText)
		if err == nil {
			query := &vector.RulePattern{RuleKind: string(intent.Kind), NLText: nlText, UserID: userID, Embedding: embedding}
			matches, err := c.vectorDB.FindSimilarPatterns(ctx, query, 1, c.thresholds.Load().DuplicateSimilarity)
			if err == nil && len(matches) > 0 {
				return matches[0].Pattern.ID, nil
			}
		}
	}

	if c.ruleLister == nil {
		return "", nil
	}
	existing, err := c.ruleLister.ListRulesForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	normalized := normalizeText(nlText)
	for _, rule := range existing {
		if rule.Kind == intent.Kind && normalizeText(rule.NLText) == normalized {
			return rule.ID, nil
		}
	}
	return "", nil
}

// triggerSchema captures the grounded RuleIntent's concrete field
// values so the evaluator's cheap-rule path can bind them into a CEL
// program without re-deriving them from SQLText.
func triggerSchema(intent *domain.RuleIntent) map[string]interface{} {
	schema := map[string]interface{}{}
	if intent.Amount != nil {
		schema["amount"] = *intent.Amount
	}
	if intent.Operator != "" {
		schema["operator"] = string(intent.Operator)
	}
	if intent.Baseline != "" {
		schema["baseline"] = string(intent.Baseline)
	}
	if intent.Window != nil {
		schema["window_seconds"] = intent.Window.Seconds()
	}
	if intent.Category != "" {
		schema["category"] = intent.Category
	}
	if intent.Merchant != "" {
		schema["merchant"] = intent.Merchant
	}
	if intent.GeoScope != "" {
		schema["geo_scope"] = intent.GeoScope
	}
	if intent.ThresholdPct != nil {
		schema["threshold_pct"] = *intent.ThresholdPct
	}
	return schema
}

func normalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(fields, " ")
}

func ruleName(intent *domain.RuleIntent) string {
	switch intent.Kind {
	case domain.RuleKindThreshold:
		return "Threshold alert"
	case domain.RuleKindPctDeltaVsBaseline:
		return "Spending change alert"
	case domain.RuleKindLocation:
		return "Location alert"
	case domain.RuleKindMerchantPattern:
		if intent.Merchant != "" {
			return fmt.Sprintf("Merchant alert: %s", intent.Merchant)
		}
		return fmt.Sprintf("Category alert: %s", intent.Category)
	case domain.RuleKindFrequency:
		return "Frequency alert"
	case domain.RuleKindRecurringDrift:
		return fmt.Sprintf("Recurring charge alert: %s", intent.Merchant)
	case domain.RuleKindCategoryRatio:
		return fmt.Sprintf("Category ratio alert: %s", intent.Category)
	default:
		return "Custom alert"
	}
}
