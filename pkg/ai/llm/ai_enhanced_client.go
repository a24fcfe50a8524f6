package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/internal/config"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// EnhancedClient layers AI-assisted validation, reasoning analysis,
// confidence calibration, and contextual enhancement on top of a
// basic Client's RuleIntent extraction. When the response processor
// is unavailable or unhealthy it falls back to the basic extraction
// alone, recording the degradation in ProcessingMetadata rather than
// failing the authoring request.
type EnhancedClient interface {
	ExtractRuleIntentWithEnhancement(ctx context.Context, nlText, timezone string) (*EnhancedRuleIntent, error)
	ValidateRuleIntent(ctx context.Context, intent *domain.RuleIntent, nlText string) (*ValidationResult, error)
	GetResponseProcessor() AIResponseProcessor
	SetResponseProcessor(p AIResponseProcessor)
}

type enhancedClient struct {
	basicClient       Client
	responseProcessor AIResponseProcessor
	knowledgeBase     KnowledgeBase
	config            config.LLMConfig
	log               *logrus.Logger
}

// NewEnhancedClientWithProcessor builds an EnhancedClient backed by a
// real Client constructed from cfg.
func NewEnhancedClientWithProcessor(cfg config.LLMConfig, processor AIResponseProcessor, log *logrus.Logger) (EnhancedClient, error) {
	basic, err := NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create basic LLM client: %w", err)
	}
	return &enhancedClient{
		basicClient:       basic,
		responseProcessor: processor,
		config:            cfg,
		log:               log,
	}, nil
}

// NewEnhancedClientForTesting builds an EnhancedClient around an
// already-constructed basic Client, response processor, and knowledge
// base, bypassing provider validation and network setup.
func NewEnhancedClientForTesting(basic Client, processor AIResponseProcessor, kb KnowledgeBase, cfg config.LLMConfig, log *logrus.Logger) EnhancedClient {
	return &enhancedClient{
		basicClient:       basic,
		responseProcessor: processor,
		knowledgeBase:     kb,
		config:            cfg,
		log:               log,
	}
}

// ExtractRuleIntentWithEnhancement extracts a RuleIntent via the basic
// client, then enriches it through the response processor when one is
// configured and healthy. A processor failure or unhealthy processor
// degrades to the basic intent wrapped with fallback metadata rather
// than failing the whole call: a user's rule is still worth compiling
// even without AI-assisted validation.
func (e *enhancedClient) ExtractRuleIntentWithEnhancement(ctx context.Context, nlText, timezone string) (*EnhancedRuleIntent, error) {
	start := time.Now()

	intent, err := e.basicClient.ExtractRuleIntent(ctx, nlText, timezone)
	if err != nil {
		return nil, err
	}

	if e.responseProcessor == nil || !e.responseProcessor.IsHealthy() {
		return &EnhancedRuleIntent{
			RuleIntent: intent,
			ProcessingMetadata: &ProcessingMetadata{
				ProcessingTime:   time.Since(start),
				AIModelUsed:      "basic_client_only",
				ProcessingErrors: []string{"AI response processor unavailable"},
			},
		}, nil
	}

	raw, err := e.basicClient.ChatCompletion(ctx, nlText)
	if err != nil {
		raw = ""
	}

	enhanced, procErr := e.responseProcessor.ProcessResponse(ctx, raw, nlText)
	if procErr != nil {
		return &EnhancedRuleIntent{
			RuleIntent: intent,
			ProcessingMetadata: &ProcessingMetadata{
				ProcessingTime:   time.Since(start),
				AIModelUsed:      "basic_client_only",
				ProcessingErrors: []string{procErr.Error()},
			},
		}, nil
	}

	if enhanced.RuleIntent == nil {
		enhanced.RuleIntent = intent
	}
	return enhanced, nil
}

// ValidateRuleIntent delegates to the response processor's AI-assisted
// validation. Unlike extraction, validation has no meaningful basic
// fallback, so an unavailable processor is a hard error.
func (e *enhancedClient) ValidateRuleIntent(ctx context.Context, intent *domain.RuleIntent, nlText string) (*ValidationResult, error) {
	if e.responseProcessor == nil || !e.responseProcessor.IsHealthy() {
		return nil, fmt.Errorf("AI response processor unavailable")
	}
	return e.responseProcessor.ValidateRuleIntent(ctx, intent, nlText)
}

func (e *enhancedClient) GetResponseProcessor() AIResponseProcessor {
	return e.responseProcessor
}

func (e *enhancedClient) SetResponseProcessor(p AIResponseProcessor) {
	e.responseProcessor = p
}
