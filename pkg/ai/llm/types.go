package llm

import (
	"context"
	"time"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// EnhancedRuleIntent wraps a basic RuleIntent with the output of an
// AIResponseProcessor's validation, reasoning, confidence, and
// contextual enhancement passes.
type EnhancedRuleIntent struct {
	*domain.RuleIntent
	ValidationResult      *ValidationResult
	ReasoningAnalysis      *ReasoningAnalysis
	ConfidenceAssessment   *ConfidenceAssessment
	ContextualEnhancement  *ContextualEnhancement
	ProcessingMetadata     *ProcessingMetadata
}

// ValidationResult is an AI-assisted second opinion on whether a
// RuleIntent is appropriate and complete, beyond the compiler's own
// grammar/required-field checks.
type ValidationResult struct {
	IsValid            bool
	ValidationScore    float64
	ActionAppropriate  bool
	ParametersComplete bool
	RiskAssessment     *RiskAssessment
	Violations         []ValidationViolation
	Recommendations    []string
	AlternativeActions []string
}

// ValidationViolation describes one way a RuleIntent fails an AI
// validation check.
type ValidationViolation struct {
	Field    string
	Message  string
	Severity string
}

// RiskAssessment estimates the blast radius of acting on a compiled
// rule: how many notifications it is likely to generate and how
// reversible a mistaken one is (an unwanted notification is cheap to
// dismiss; a missed fraud alert is not).
type RiskAssessment struct {
	RiskLevel          string
	BlastRadius        string
	ReversibilityScore float64
}

// ReasoningAnalysis scores the coherence of the model's stated
// reasoning for the slots it filled.
type ReasoningAnalysis struct {
	QualityScore       float64
	CoherenceScore     float64
	CompletenessScore  float64
	LogicalConsistency bool
	EvidenceSupport    float64
}

// ConfidenceAssessment recalibrates the model's self-reported
// confidence against the knowledge base's historical pattern data.
type ConfidenceAssessment struct {
	CalibratedConfidence  float64
	OriginalConfidence    float64
	ConfidenceReliability float64
	SuggestedThreshold    float64
}

// ContextualEnhancement folds in situational signals the raw model
// call did not have access to.
type ContextualEnhancement struct {
	SituationalContext *SituationalContext
	TimelineAnalysis   *TimelineAnalysis
}

// SituationalContext describes non-financial context around the
// authoring request.
type SituationalContext struct {
	Urgency        string
	BusinessImpact string
	PeakTraffic    bool
}

// TimelineAnalysis estimates how long the compiled rule should take
// to become actionable.
type TimelineAnalysis struct {
	ExpectedDuration time.Duration
	OptimalTiming    string
}

// ProcessingMetadata records what the enhancement pipeline actually
// did, including partial failures that a caller may want to surface.
type ProcessingMetadata struct {
	ProcessingTime      time.Duration
	AIModelUsed         string
	ProcessingSteps     []string
	ValidationsPassed   int
	ValidationsFailed   int
	EnhancementsApplied []string
	ProcessingErrors    []string
}

// HistoricalPattern is a previously observed rule-authoring pattern
// the knowledge base can surface to inform confidence calibration.
type HistoricalPattern struct {
	Pattern       string
	Frequency     int
	LastSeen      time.Time
	Effectiveness float64
	Context       string
}

// ValidationRule is a knowledge-base-supplied business rule an
// AIResponseProcessor checks a RuleIntent against, beyond the
// compiler's own grammar validation.
type ValidationRule struct {
	Name        string
	Description string
	Severity    string
}

// SystemStateAnalysis summarizes the pipeline's current health as
// input to contextual enhancement (e.g. whether it's safe to suggest
// an aggressive threshold during a known high-volume period).
type SystemStateAnalysis struct {
	HealthScore    float64
	StabilityScore float64
}

// AIResponseProcessor turns a raw model response into an
// EnhancedRuleIntent and offers standalone validation/reasoning/
// confidence/context passes an EnhancedClient composes.
type AIResponseProcessor interface {
	ProcessResponse(ctx context.Context, rawResponse string, nlText string) (*EnhancedRuleIntent, error)
	ValidateRuleIntent(ctx context.Context, intent *domain.RuleIntent, nlText string) (*ValidationResult, error)
	AnalyzeReasoning(ctx context.Context, reasoning string, nlText string) (*ReasoningAnalysis, error)
	AssessConfidence(ctx context.Context, intent *domain.RuleIntent, nlText string) (*ConfidenceAssessment, error)
	EnhanceContext(ctx context.Context, intent *domain.RuleIntent, nlText string) (*ContextualEnhancement, error)
	IsHealthy() bool
}

// KnowledgeBase supplies historical and risk context an
// AIResponseProcessor can draw on beyond the current request.
type KnowledgeBase interface {
	GetRuleKindRisk(kind domain.RuleKind) *RiskAssessment
	GetHistoricalPatterns(nlText string) []HistoricalPattern
	GetValidationRules() []ValidationRule
	GetSystemState(ctx context.Context) (*SystemStateAnalysis, error)
}
