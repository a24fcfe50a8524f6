package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	sharedmath "github.com/spendmonitor/alertengine/pkg/shared/math"
)

// DispatchTrace is the record of one rule evaluation that led to a
// notification attempt: the compiled rule that fired, the LLM
// reasoning that produced it, and the outcome of delivering it. The
// pattern extractor turns traces like this into RulePatterns for the
// vector store.
type DispatchTrace struct {
	ID                  int64
	TransactionID       string
	RuleKind            string
	EvaluatedAt         time.Time
	EvaluationStartTime *time.Time
	EvaluationEndTime   *time.Time

	NLText             string
	Severity           string
	UserID             string
	ContextLabels      map[string]string
	ContextAnnotations map[string]string

	ModelUsed       string
	ModelConfidence float64
	ModelReasoning  *string

	TriggerParameters map[string]interface{}

	PreConditionState  map[string]interface{}
	PostConditionState map[string]interface{}

	DeliveryStatus string

	EffectivenessScore      *float64
	EffectivenessAssessedAt *time.Time
	EvaluationDurationMs    *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

const simpleEmbeddingDimension = 128

// PatternExtractor turns a DispatchTrace into a RulePattern ready for
// storage, and supports comparing and featurizing RulePatterns for
// downstream analytics.
type PatternExtractor interface {
	ExtractPattern(ctx context.Context, trace *DispatchTrace) (*RulePattern, error)
	ExtractFeatures(ctx context.Context, pattern *RulePattern) (map[string]float64, error)
	CalculateSimilarity(a, b *RulePattern) float64
	GenerateEmbedding(ctx context.Context, pattern *RulePattern) ([]float64, error)
}

// DefaultPatternExtractor is the reference PatternExtractor. It can
// generate its own simple hash-based embeddings, or delegate to an
// EmbeddingService when one is configured.
type DefaultPatternExtractor struct {
	embeddingService EmbeddingService
	log              *logrus.Logger
}

// NewDefaultPatternExtractor builds a DefaultPatternExtractor.
// embeddingService may be nil, in which case GenerateEmbedding falls
// back to a self-contained 128-dimension hash embedding.
func NewDefaultPatternExtractor(embeddingService EmbeddingService, log *logrus.Logger) *DefaultPatternExtractor {
	if log == nil {
		log = logrus.New()
	}
	return &DefaultPatternExtractor{embeddingService: embeddingService, log: log}
}

// ExtractPattern builds a RulePattern describing the rule that fired
// in trace.
func (e *DefaultPatternExtractor) ExtractPattern(ctx context.Context, trace *DispatchTrace) (*RulePattern, error) {
	if trace == nil {
		return nil, fmt.Errorf("dispatch trace cannot be nil")
	}

	channel := extractChannel(trace)

	pattern := &RulePattern{
		ID:                fmt.Sprintf("pattern-%s-%d", trace.TransactionID, trace.ID),
		RuleKind:          trace.RuleKind,
		NLText:            trace.NLText,
		UserID:            trace.UserID,
		Severity:          trace.Severity,
		TriggerParameters: trace.TriggerParameters,
		ContextLabels:     trace.ContextLabels,
		PreConditions: map[string]interface{}{
			"rule_kind": trace.RuleKind,
			"severity":  trace.Severity,
		},
		PostConditions: map[string]interface{}{
			"delivery_status": trace.DeliveryStatus,
		},
		Metadata: map[string]interface{}{
			"transaction_id":   trace.TransactionID,
			"model_used":       trace.ModelUsed,
			"model_confidence": trace.ModelConfidence,
			"channel":          channel,
		},
		CreatedAt: trace.CreatedAt,
		UpdatedAt: trace.UpdatedAt,
	}

	if trace.EffectivenessScore != nil {
		pattern.EffectivenessData = e.buildEffectivenessData(trace)
	}

	embedding, err := e.GenerateEmbedding(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	pattern.Embedding = embedding

	return pattern, nil
}

func extractChannel(trace *DispatchTrace) string {
	if trace.TriggerParameters != nil {
		if v, ok := trace.TriggerParameters["channel"].(string); ok && v != "" {
			return v
		}
	}
	if trace.ContextLabels != nil {
		if v, ok := trace.ContextLabels["channel"]; ok && v != "" {
			return v
		}
	}
	return ""
}

func (e *DefaultPatternExtractor) buildEffectivenessData(trace *DispatchTrace) *EffectivenessData {
	score := *trace.EffectivenessScore

	data := &EffectivenessData{
		Score: score,
		ContextualFactors: map[string]float64{
			"model_confidence": trace.ModelConfidence,
		},
	}

	if score >= 0.5 {
		data.TriggerCount = 1
	} else {
		data.FalsePositiveCount = 1
	}

	if trace.EffectivenessAssessedAt != nil {
		data.LastAssessed = *trace.EffectivenessAssessedAt
	}

	if trace.EvaluationDurationMs != nil {
		data.AverageEvaluationTime = time.Duration(*trace.EvaluationDurationMs) * time.Millisecond
	}

	return data
}

// ExtractFeatures reduces pattern to a flat feature vector suitable
// for lightweight scoring models.
func (e *DefaultPatternExtractor) ExtractFeatures(ctx context.Context, pattern *RulePattern) (map[string]float64, error) {
	features := map[string]float64{
		"rule_kind_hash":         hashToUnitInterval(pattern.RuleKind),
		"severity_score":         severityScore(pattern.Severity),
		"user_group_criticality": userGroupCriticality(pattern.UserID),
		"parameter_count":        float64(len(pattern.TriggerParameters)),
		"context_label_count":    float64(len(pattern.ContextLabels)),
	}

	if !pattern.CreatedAt.IsZero() {
		features["hour_of_day"] = float64(pattern.CreatedAt.Hour()) / 24.0
		features["day_of_week"] = float64(int(pattern.CreatedAt.Weekday())) / 7.0
	}

	if ed := pattern.EffectivenessData; ed != nil {
		features["effectiveness_score"] = ed.Score
		total := ed.TriggerCount + ed.FalsePositiveCount
		if total > 0 {
			features["precision_rate"] = float64(ed.TriggerCount) / float64(total)
		}
		features["evaluation_time_log"] = math.Log1p(ed.AverageEvaluationTime.Seconds())
	}

	return features, nil
}

func severityScore(severity string) float64 {
	switch severity {
	case "critical":
		return 1.0
	case "warning":
		return 0.7
	case "info":
		return 0.3
	default:
		return 0.0
	}
}

func userGroupCriticality(group string) float64 {
	switch group {
	case "enterprise":
		return 1.0
	case "fraud_ops":
		return 0.9
	case "pro":
		return 0.8
	case "internal":
		return 0.6
	case "trial":
		return 0.5
	case "default":
		return 0.4
	default:
		return 0.5
	}
}

func hashToUnitInterval(s string) float64 {
	sum := sha256.Sum256([]byte(s))
	return float64(binary.BigEndian.Uint32(sum[:4])) / float64(math.MaxUint32)
}

// CalculateSimilarity combines cosine similarity between a and b's
// embeddings with a small boost for matching rule kind, severity, and
// user ID -- patterns that look alike numerically AND describe the
// same kind of rule rank higher than numerical similarity alone.
func (e *DefaultPatternExtractor) CalculateSimilarity(a, b *RulePattern) float64 {
	if len(a.Embedding) != len(b.Embedding) {
		return 0.0
	}

	similarity := sharedmath.CosineSimilarity(a.Embedding, b.Embedding)

	matches := 0
	if a.RuleKind != "" && a.RuleKind == b.RuleKind {
		matches++
	}
	if a.Severity != "" && a.Severity == b.Severity {
		matches++
	}
	if a.UserID != "" && a.UserID == b.UserID {
		matches++
	}

	similarity += float64(matches) * 0.05
	if similarity > 1.0 {
		similarity = 1.0
	}
	return similarity
}

// GenerateEmbedding produces a deterministic embedding for pattern.
// When an EmbeddingService is configured it is used directly;
// otherwise a self-contained 128-dimension hash embedding is built
// from the pattern's rule kind, text, severity, and user ID.
func (e *DefaultPatternExtractor) GenerateEmbedding(ctx context.Context, pattern *RulePattern) ([]float64, error) {
	text := fmt.Sprintf("%s %s %s %s", pattern.RuleKind, pattern.NLText, pattern.Severity, pattern.UserID)

	if e.embeddingService != nil {
		return e.embeddingService.GenerateTextEmbedding(ctx, text)
	}

	vec := make([]float64, simpleEmbeddingDimension)
	for _, token := range tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		idx := int(binary.BigEndian.Uint32(sum[:4])) % simpleEmbeddingDimension
		vec[idx] += 1.0
	}
	return normalize(vec), nil
}
