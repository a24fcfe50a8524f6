package llm_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/internal/config"
	"github.com/spendmonitor/alertengine/pkg/ai/llm"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

var _ = Describe("AI Enhanced LLM Client", func() {
	var (
		ctx                   context.Context
		logger                *logrus.Logger
		mockBasicClient       *MockLLMClient
		mockResponseProcessor *MockAIResponseProcessor
		mockKnowledgeBase     *MockKnowledgeBase
		enhancedClient        llm.EnhancedClient
		testNLText            string
		testConfig            config.LLMConfig
	)

	BeforeEach(func() {
		ctx = context.Background()

		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)

		testConfig = config.LLMConfig{
			Provider:    "localai",
			Endpoint:    "http://localhost:8080",
			Model:       "granite-3.0-8b-instruct",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
		}

		mockBasicClient = NewMockLLMClient()
		mockResponseProcessor = NewMockAIResponseProcessor()
		mockKnowledgeBase = NewMockKnowledgeBase()

		testNLText = "alert me if a single transaction exceeds $500"
	})

	Describe("NewEnhancedClient", func() {
		It("should create a new enhanced client with custom response processor (mock-based)", func() {
			client, err := llm.NewEnhancedClientWithProcessor(testConfig, mockResponseProcessor, logger)

			Expect(err).NotTo(HaveOccurred())
			Expect(client).NotTo(BeNil())
			Expect(client.GetResponseProcessor()).To(Equal(mockResponseProcessor))
		})

		It("should provide AI processing capabilities interface", func() {
			client, err := llm.NewEnhancedClientWithProcessor(testConfig, mockResponseProcessor, logger)

			Expect(err).NotTo(HaveOccurred())
			Expect(client).NotTo(BeNil())

			Expect(client.GetResponseProcessor()).NotTo(BeNil())
			Expect(client.GetResponseProcessor()).To(Equal(mockResponseProcessor))
		})
	})

	Describe("ExtractRuleIntentWithEnhancement (Mock-based)", func() {
		BeforeEach(func() {
			enhancedClient = llm.NewEnhancedClientForTesting(
				mockBasicClient,
				mockResponseProcessor,
				mockKnowledgeBase,
				testConfig,
				logger,
			)

			mockBasicClient.SetIntentResponse(&domain.RuleIntent{
				Kind:       domain.RuleKindThreshold,
				Operator:   domain.OpGreaterThan,
				Channels:   []domain.Channel{domain.ChannelEmail},
				Confidence: 0.85,
				Reasoning:  "single-transaction threshold rule",
			})
		})

		Context("with AI processing of the basic client's response", func() {
			BeforeEach(func() {
				mockResponseProcessor.SetProcessResponse(&llm.EnhancedRuleIntent{
					RuleIntent: &domain.RuleIntent{
						Kind:       domain.RuleKindThreshold,
						Operator:   domain.OpGreaterThan,
						Channels:   []domain.Channel{domain.ChannelEmail},
						Confidence: 0.85,
					},
					ValidationResult: &llm.ValidationResult{
						IsValid:            true,
						ValidationScore:    0.9,
						ActionAppropriate:  true,
						ParametersComplete: true,
						RiskAssessment: &llm.RiskAssessment{
							RiskLevel:          "low",
							BlastRadius:        "single_user",
							ReversibilityScore: 0.95,
						},
					},
					ReasoningAnalysis: &llm.ReasoningAnalysis{
						QualityScore:       0.85,
						CoherenceScore:     0.90,
						CompletenessScore:  0.80,
						LogicalConsistency: true,
						EvidenceSupport:    0.88,
					},
					ConfidenceAssessment: &llm.ConfidenceAssessment{
						CalibratedConfidence:  0.82,
						OriginalConfidence:    0.85,
						ConfidenceReliability: 0.9,
						SuggestedThreshold:    0.75,
					},
					ContextualEnhancement: &llm.ContextualEnhancement{
						SituationalContext: &llm.SituationalContext{
							Urgency:        "medium",
							BusinessImpact: "low",
							PeakTraffic:    false,
						},
						TimelineAnalysis: &llm.TimelineAnalysis{
							ExpectedDuration: 5 * time.Minute,
							OptimalTiming:    "immediate",
						},
					},
					ProcessingMetadata: &llm.ProcessingMetadata{
						ProcessingTime:      100 * time.Millisecond,
						AIModelUsed:         "ai_response_processor",
						ProcessingSteps:     []string{"validation", "reasoning_analysis", "confidence_calibration", "contextual_enhancement"},
						ValidationsPassed:   4,
						ValidationsFailed:   0,
						EnhancementsApplied: []string{"validation", "reasoning_analysis", "confidence_calibration", "contextual_enhancement"},
					},
				})
			})

			It("should provide AI-enhanced analysis with mock clients", func() {
				result, err := enhancedClient.ExtractRuleIntentWithEnhancement(ctx, testNLText, "UTC")

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())

				Expect(result.RuleIntent).NotTo(BeNil())
				Expect(result.Kind).To(Equal(domain.RuleKindThreshold))
				Expect(result.ProcessingMetadata).NotTo(BeNil())
			})
		})

		Context("with AI response processor failure", func() {
			BeforeEach(func() {
				mockResponseProcessor.SetError("AI processing service temporarily unavailable")
			})

			It("should fallback gracefully when AI processor fails", func() {
				result, err := enhancedClient.ExtractRuleIntentWithEnhancement(ctx, testNLText, "UTC")

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())

				Expect(result.RuleIntent).NotTo(BeNil())
				Expect(result.ProcessingMetadata).NotTo(BeNil())
				Expect(result.ProcessingMetadata.ProcessingErrors).NotTo(BeEmpty())
			})
		})

		Context("with unhealthy AI response processor", func() {
			BeforeEach(func() {
				mockResponseProcessor.SetHealthy(false)
			})

			It("should fall back to basic recommendation when processor is unhealthy", func() {
				result, err := enhancedClient.ExtractRuleIntentWithEnhancement(ctx, testNLText, "UTC")

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())

				Expect(result.ProcessingMetadata.AIModelUsed).To(Equal("basic_client_only"))
				Expect(result.ProcessingMetadata.ProcessingErrors).To(ContainElement("AI response processor unavailable"))
			})
		})
	})

	Describe("ValidateRuleIntent", func() {
		var testIntent *domain.RuleIntent

		BeforeEach(func() {
			enhancedClient = llm.NewEnhancedClientForTesting(
				mockBasicClient,
				mockResponseProcessor,
				mockKnowledgeBase,
				testConfig,
				logger,
			)

			testIntent = &domain.RuleIntent{
				Kind:       domain.RuleKindFrequency,
				Confidence: 0.75,
				Channels:   []domain.Channel{domain.ChannelEmail},
			}
		})

		Context("with healthy AI response processor", func() {
			BeforeEach(func() {
				mockResponseProcessor.SetValidationResult(&llm.ValidationResult{
					IsValid:            true,
					ValidationScore:    0.85,
					ActionAppropriate:  true,
					ParametersComplete: true,
					RiskAssessment: &llm.RiskAssessment{
						RiskLevel:          "medium",
						BlastRadius:        "single_user",
						ReversibilityScore: 0.8,
					},
					Violations:         []llm.ValidationViolation{},
					Recommendations:    []string{"Confirm window length with user"},
					AlternativeActions: []string{"THRESHOLD", "CATEGORY_RATIO"},
				})
			})

			It("should validate recommendation with AI analysis", func() {
				result, err := enhancedClient.ValidateRuleIntent(ctx, testIntent, testNLText)

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())
				Expect(result.IsValid).To(BeTrue())
				Expect(result.ValidationScore).To(Equal(0.85))
				Expect(result.ActionAppropriate).To(BeTrue())
				Expect(result.RiskAssessment.RiskLevel).To(Equal("medium"))
				Expect(result.Recommendations).To(HaveLen(1))
				Expect(result.AlternativeActions).To(HaveLen(2))
			})
		})

		Context("with unhealthy AI response processor", func() {
			BeforeEach(func() {
				mockResponseProcessor.SetHealthy(false)
			})

			It("should return error when processor is unavailable", func() {
				_, err := enhancedClient.ValidateRuleIntent(ctx, testIntent, testNLText)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("AI response processor unavailable"))
			})
		})
	})

	Describe("Response Processor Management", func() {
		It("should allow setting and getting response processor", func() {
			client, err := llm.NewEnhancedClientWithProcessor(testConfig, mockResponseProcessor, logger)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.GetResponseProcessor()).To(Equal(mockResponseProcessor))

			newProcessor := NewMockAIResponseProcessor()
			client.SetResponseProcessor(newProcessor)
			Expect(client.GetResponseProcessor()).To(Equal(newProcessor))
		})
	})

	Describe("Knowledge base integration", func() {
		BeforeEach(func() {
			mockKnowledgeBase.SetRuleKindRisk(domain.RuleKindThreshold, &llm.RiskAssessment{
				RiskLevel:          "low",
				BlastRadius:        "single_user",
				ReversibilityScore: 0.95,
			})

			mockKnowledgeBase.SetHistoricalPatterns([]llm.HistoricalPattern{
				{
					Pattern:       "large_purchase_threshold",
					Frequency:     10,
					LastSeen:      time.Now().Add(-6 * time.Hour),
					Effectiveness: 0.9,
					Context:       "Threshold rules on single large purchases rarely false-positive",
				},
			})
		})

		It("should integrate knowledge base without requiring network connections", func() {
			client := llm.NewEnhancedClientForTesting(
				mockBasicClient,
				mockResponseProcessor,
				mockKnowledgeBase,
				testConfig,
				logger,
			)

			processor := client.GetResponseProcessor()
			Expect(processor).NotTo(BeNil())
			Expect(processor).To(Equal(mockResponseProcessor))

			mockResponseProcessor.SetHealthy(true)
			Expect(processor.IsHealthy()).To(BeTrue())
		})

		It("should provide system state analysis", func() {
			systemState, err := mockKnowledgeBase.GetSystemState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(systemState).NotTo(BeNil())
			Expect(systemState.HealthScore).To(BeNumerically(">", 0))
		})
	})

	Describe("Error Handling and Resilience", func() {
		Context("when basic client fails", func() {
			BeforeEach(func() {
				mockBasicClient.SetError("LLM provider temporarily unavailable")
			})

			It("should propagate basic client errors appropriately", func() {
				client := llm.NewEnhancedClientForTesting(
					mockBasicClient,
					mockResponseProcessor,
					mockKnowledgeBase,
					testConfig,
					logger,
				)
				Expect(client).NotTo(BeNil())

				result, err := client.ExtractRuleIntentWithEnhancement(ctx, testNLText, "UTC")
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(err.Error()).To(ContainSubstring("LLM provider temporarily unavailable"))
			})
		})

		Context("with various AI processing failures", func() {
			BeforeEach(func() {
				enhancedClient = llm.NewEnhancedClientForTesting(
					mockBasicClient,
					mockResponseProcessor,
					mockKnowledgeBase,
					testConfig,
					logger,
				)

				mockBasicClient.SetIntentResponse(&domain.RuleIntent{
					Kind:       domain.RuleKindThreshold,
					Confidence: 0.85,
					Channels:   []domain.Channel{domain.ChannelEmail},
				})
			})

			It("should handle validation failures gracefully", func() {
				mockResponseProcessor.SetValidationError("Validation service timeout")

				result, err := enhancedClient.ValidateRuleIntent(ctx, &domain.RuleIntent{
					Kind:       domain.RuleKindLocation,
					Confidence: 0.8,
				}, testNLText)

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
			})

			It("should handle partial AI processing failures", func() {
				partialResponse := &llm.EnhancedRuleIntent{
					RuleIntent: &domain.RuleIntent{
						Kind:       domain.RuleKindThreshold,
						Confidence: 0.8,
					},
					ValidationResult: &llm.ValidationResult{
						IsValid:         true,
						ValidationScore: 0.8,
					},
					ProcessingMetadata: &llm.ProcessingMetadata{
						ProcessingErrors:  []string{"reasoning analysis failed", "contextual enhancement failed"},
						ProcessingSteps:   []string{"basic_parsing", "validation"},
						ValidationsPassed: 1,
						ProcessingTime:    50 * time.Millisecond,
					},
				}

				mockResponseProcessor.SetProcessResponse(partialResponse)

				result, err := enhancedClient.ExtractRuleIntentWithEnhancement(ctx, testNLText, "UTC")

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())
				Expect(result.ValidationResult).NotTo(BeNil())
				Expect(result.ReasoningAnalysis).To(BeNil())
				Expect(result.ProcessingMetadata.ProcessingErrors).To(HaveLen(2))
			})
		})
	})
})

// Mock implementations for testing

type MockLLMClient struct {
	response  *domain.RuleIntent
	error     string
	healthy   bool
	callCount int
}

func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{healthy: true}
}

func (m *MockLLMClient) SetIntentResponse(response *domain.RuleIntent) {
	m.response = response
	m.error = ""
}

func (m *MockLLMClient) SetError(err string) {
	m.error = err
	m.response = nil
}

func (m *MockLLMClient) SetHealthy(healthy bool) {
	m.healthy = healthy
}

func (m *MockLLMClient) GetCallCount() int {
	return m.callCount
}

func (m *MockLLMClient) ExtractRuleIntent(ctx context.Context, nlText, timezone string) (*domain.RuleIntent, error) {
	m.callCount++

	if m.error != "" {
		return nil, fmt.Errorf(m.error)
	}

	if m.response != nil {
		return m.response, nil
	}

	return &domain.RuleIntent{
		Confidence: 0.5,
		Reasoning:  "default mock response",
	}, nil
}

func (m *MockLLMClient) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	m.callCount++
	if m.error != "" {
		return "", fmt.Errorf(m.error)
	}
	return `{"kind": "THRESHOLD", "confidence": 0.85}`, nil
}

func (m *MockLLMClient) IsHealthy() bool {
	return m.healthy
}

type MockAIResponseProcessor struct {
	processResponse      *llm.EnhancedRuleIntent
	validationResult     *llm.ValidationResult
	reasoningAnalysis    *llm.ReasoningAnalysis
	confidenceAssessment *llm.ConfidenceAssessment
	processError         string
	validationError      string
	healthy              bool
}

func NewMockAIResponseProcessor() *MockAIResponseProcessor {
	return &MockAIResponseProcessor{healthy: true}
}

func (m *MockAIResponseProcessor) SetProcessResponse(response *llm.EnhancedRuleIntent) {
	m.processResponse = response
	m.processError = ""
}

func (m *MockAIResponseProcessor) SetValidationResult(result *llm.ValidationResult) {
	m.validationResult = result
	m.validationError = ""
}

func (m *MockAIResponseProcessor) SetError(err string) {
	m.processError = err
}

func (m *MockAIResponseProcessor) SetValidationError(err string) {
	m.validationError = err
}

func (m *MockAIResponseProcessor) SetHealthy(healthy bool) {
	m.healthy = healthy
}

func (m *MockAIResponseProcessor) ProcessResponse(ctx context.Context, rawResponse string, nlText string) (*llm.EnhancedRuleIntent, error) {
	if m.processError != "" {
		return nil, fmt.Errorf(m.processError)
	}
	if m.processResponse != nil {
		return m.processResponse, nil
	}
	return nil, fmt.Errorf("no mock response configured")
}

func (m *MockAIResponseProcessor) ValidateRuleIntent(ctx context.Context, intent *domain.RuleIntent, nlText string) (*llm.ValidationResult, error) {
	if m.validationError != "" {
		return nil, fmt.Errorf(m.validationError)
	}
	if m.validationResult != nil {
		return m.validationResult, nil
	}
	return nil, fmt.Errorf("no mock validation result configured")
}

func (m *MockAIResponseProcessor) AnalyzeReasoning(ctx context.Context, reasoning string, nlText string) (*llm.ReasoningAnalysis, error) {
	if m.reasoningAnalysis != nil {
		return m.reasoningAnalysis, nil
	}
	return nil, fmt.Errorf("no mock reasoning analysis configured")
}

func (m *MockAIResponseProcessor) AssessConfidence(ctx context.Context, intent *domain.RuleIntent, nlText string) (*llm.ConfidenceAssessment, error) {
	if m.confidenceAssessment != nil {
		return m.confidenceAssessment, nil
	}
	return nil, fmt.Errorf("no mock confidence assessment configured")
}

func (m *MockAIResponseProcessor) EnhanceContext(ctx context.Context, intent *domain.RuleIntent, nlText string) (*llm.ContextualEnhancement, error) {
	return nil, fmt.Errorf("no mock contextual enhancement configured")
}

func (m *MockAIResponseProcessor) IsHealthy() bool {
	return m.healthy
}

type MockKnowledgeBase struct {
	ruleKindRisks      map[domain.RuleKind]*llm.RiskAssessment
	historicalPatterns []llm.HistoricalPattern
	validationRules    []llm.ValidationRule
	systemState        *llm.SystemStateAnalysis
}

func NewMockKnowledgeBase() *MockKnowledgeBase {
	return &MockKnowledgeBase{
		ruleKindRisks:      make(map[domain.RuleKind]*llm.RiskAssessment),
		historicalPatterns: []llm.HistoricalPattern{},
		validationRules:    []llm.ValidationRule{},
	}
}

func (m *MockKnowledgeBase) SetRuleKindRisk(kind domain.RuleKind, risk *llm.RiskAssessment) {
	m.ruleKindRisks[kind] = risk
}

func (m *MockKnowledgeBase) SetHistoricalPatterns(patterns []llm.HistoricalPattern) {
	m.historicalPatterns = patterns
}

func (m *MockKnowledgeBase) GetRuleKindRisk(kind domain.RuleKind) *llm.RiskAssessment {
	return m.ruleKindRisks[kind]
}

func (m *MockKnowledgeBase) GetHistoricalPatterns(nlText string) []llm.HistoricalPattern {
	return m.historicalPatterns
}

func (m *MockKnowledgeBase) GetValidationRules() []llm.ValidationRule {
	return m.validationRules
}

func (m *MockKnowledgeBase) GetSystemState(ctx context.Context) (*llm.SystemStateAnalysis, error) {
	if m.systemState != nil {
		return m.systemState, nil
	}
	return &llm.SystemStateAnalysis{
		HealthScore:    0.8,
		StabilityScore: 0.75,
	}, nil
}
