package rulecompiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/spendmonitor/alertengine/pkg/domain"
	sharedmath "github.com/spendmonitor/alertengine/pkg/shared/math"
	"github.com/spendmonitor/alertengine/pkg/storage/vector"
)

// Grounder canonicalises the raw slots an LLM filled in a RuleIntent
// against known categories, merchants, and the requesting user's own
// record, then checks that every field the rule's Kind requires is
// present.
type Grounder interface {
	Ground(ctx context.Context, intent *domain.RuleIntent, userID string) (*domain.RuleIntent, error)
}

// directCategorySynonyms covers the common free-form spellings a user
// types without needing an embedding lookup.
var directCategorySynonyms = map[string]string{
	"food":        "dining",
	"restaurants": "dining",
	"eating out":  "dining",
	"takeout":     "dining",
	"groceries":   "groceries",
	"grocery":     "groceries",
	"gas":         "fuel",
	"petrol":      "fuel",
	"fuel":        "fuel",
	"travel":      "travel",
	"flights":     "travel",
	"hotels":      "travel",
	"subscriptions": "subscriptions",
	"streaming":     "subscriptions",
	"shopping":      "retail",
	"retail":        "retail",
}

// DefaultGrounder is the reference Grounder. synonyms is looked up
// before falling back to embedding similarity against the supplied
// CategorySynonym corpus; userLookup resolves "home"-relative geo
// scopes against the requesting user's own record.
type DefaultGrounder struct {
	synonyms         []domain.CategorySynonym
	embeddingService vector.EmbeddingService
	userLookup       UserLookup
}

// NewDefaultGrounder builds a DefaultGrounder. synonyms and
// embeddingService may be nil/empty; category grounding then relies
// solely on directCategorySynonyms and passes through anything else
// lowercased. userLookup may be nil; "home"-relative geo scopes are
// then left ungrounded.
func NewDefaultGrounder(synonyms []domain.CategorySynonym, embeddingService vector.EmbeddingService, userLookup UserLookup) *DefaultGrounder {
	return &DefaultGrounder{synonyms: synonyms, embeddingService: embeddingService, userLookup: userLookup}
}

// requiredFields lists, per RuleKind, which RuleIntent fields must be
// present after grounding for the intent to proceed to Synthesize.
func requiredFields(kind domain.RuleKind) []string {
	switch kind {
	case domain.RuleKindThreshold:
		return []string{"amount", "operator"}
	case domain.RuleKindPctDeltaVsBaseline:
		return []string{"threshold_pct", "baseline"}
	case domain.RuleKindLocation:
		return []string{"geo_scope"}
	case domain.RuleKindMerchantPattern:
		return []string{"merchant_or_category"}
	case domain.RuleKindFrequency:
		return []string{"amount", "window"}
	case domain.RuleKindRecurringDrift:
		return []string{"merchant"}
	case domain.RuleKindCategoryRatio:
		return []string{"category", "threshold_pct"}
	default:
		return []string{"kind"}
	}
}

// Ground canonicalises intent's category/merchant/geo_scope fields
// and verifies intent.Kind's required fields are present, returning
// an error naming every missing field when they are not.
func (g *DefaultGrounder) Ground(ctx context.Context, intent *domain.RuleIntent, userID string) (*domain.RuleIntent, error) {
	grounded := *intent

	if grounded.Category != "" {
		grounded.Category = g.canonicalCategory(ctx, grounded.Category)
	}

	if grounded.Merchant != "" {
		grounded.Merchant = strings.TrimSpace(grounded.Merchant)
	}

	if grounded.GeoScope != "" {
		grounded.GeoScope = g.resolveGeoScope(ctx, grounded.GeoScope, userID)
	}

	if len(grounded.Channels) == 0 {
		return nil, fmt.Errorf("missing required field: channels")
	}

	var missing []string
	for _, field := range requiredFields(grounded.Kind) {
		if !hasField(&grounded, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	return &grounded, nil
}

func hasField(intent *domain.RuleIntent, field string) bool {
	switch field {
	case "amount":
		return intent.Amount != nil
	case "operator":
		return intent.Operator != ""
	case "threshold_pct":
		return intent.ThresholdPct != nil
	case "baseline":
		return intent.Baseline != ""
	case "geo_scope":
		return intent.GeoScope != ""
	case "merchant":
		return intent.Merchant != ""
	case "category":
		return intent.Category != ""
	case "merchant_or_category":
		return intent.Merchant != "" || intent.Category != ""
	case "window":
		return intent.Window != nil
	case "kind":
		return intent.Kind != ""
	default:
		return false
	}
}

func (g *DefaultGrounder) canonicalCategory(ctx context.Context, raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := directCategorySynonyms[lower]; ok {
		return canonical
	}

	if g.embeddingService == nil || len(g.synonyms) == 0 {
		return lower
	}

	queryEmbedding, err := g.embeddingService.GenerateTextEmbedding(ctx, lower)
	if err != nil {
		return lower
	}

	best := ""
	bestScore := 0.0
	for _, syn := range g.synonyms {
		if len(syn.Embedding) != len(queryEmbedding) {
			continue
		}
		score := sharedmath.CosineSimilarity(queryEmbedding, syn.Embedding)
		if score > bestScore {
			bestScore = score
			best = syn.Canonical
		}
	}
	const categoryMatchThreshold = 0.75
	if best != "" && bestScore >= categoryMatchThreshold {
		return best
	}
	return lower
}

// resolveGeoScope turns "home"-relative phrasing into a scope the
// evaluator's location_risk check can act on without a second user
// lookup at evaluation time. Anything else (a named country/region)
// passes through unchanged.
func (g *DefaultGrounder) resolveGeoScope(ctx context.Context, raw, userID string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch lower {
	case "home", "home state", "home_state", "home country", "home_country":
		if g.userLookup == nil {
			return lower
		}
		if _, err := g.userLookup.GetUser(ctx, userID); err != nil {
			return lower
		}
		return "home:" + userID
	default:
		return lower
	}
}
