package vector_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/pkg/storage/vector"
)

var _ = Describe("MemoryVectorDatabase", func() {
	var (
		db     *vector.MemoryVectorDatabase
		logger *logrus.Logger
		ctx    context.Context
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
		db = vector.NewMemoryVectorDatabase(logger)
		ctx = context.Background()
	})

	Describe("NewMemoryVectorDatabase", func() {
		It("should create a new memory vector database", func() {
			db := vector.NewMemoryVectorDatabase(logger)
			Expect(db).NotTo(BeNil())
			Expect(db.GetPatternCount()).To(Equal(0))
		})
	})

	Describe("StoreRulePattern", func() {
		Context("when storing a valid pattern", func() {
			It("should store the pattern successfully", func() {
				pattern := createTestPattern("test-1", "threshold", "large purchase alert")

				err := db.StoreRulePattern(ctx, pattern)

				Expect(err).NotTo(HaveOccurred())
				Expect(db.GetPatternCount()).To(Equal(1))
			})

			It("should update the pattern timestamps", func() {
				pattern := createTestPattern("test-2", "merchant_pattern", "casino merchant alert")
				originalCreatedAt := pattern.CreatedAt

				err := db.StoreRulePattern(ctx, pattern)

				Expect(err).NotTo(HaveOccurred())

				storedPattern, err := db.GetPattern("test-2")
				Expect(err).NotTo(HaveOccurred())
				Expect(storedPattern.CreatedAt).To(Equal(originalCreatedAt))
				Expect(storedPattern.UpdatedAt).To(BeTemporally(">=", originalCreatedAt))
			})
		})

		Context("when pattern ID is empty", func() {
			It("should return an error", func() {
				pattern := createTestPattern("", "threshold", "large purchase alert")

				err := db.StoreRulePattern(ctx, pattern)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("pattern ID cannot be empty"))
			})
		})

		Context("when pattern embedding is empty", func() {
			It("should return an error", func() {
				pattern := createTestPattern("test-3", "threshold", "large purchase alert")
				pattern.Embedding = []float64{}

				err := db.StoreRulePattern(ctx, pattern)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("pattern embedding cannot be empty"))
			})
		})
	})

	Describe("FindSimilarPatterns", func() {
		BeforeEach(func() {
			patterns := []*vector.RulePattern{
				createTestPatternWithEmbedding("pattern-1", "threshold", "large purchase alert", []float64{1.0, 0.5, 0.0}, 0.9),
				createTestPatternWithEmbedding("pattern-2", "threshold", "large purchase alert", []float64{0.9, 0.4, 0.1}, 0.8),
				createTestPatternWithEmbedding("pattern-3", "merchant_pattern", "casino merchant alert", []float64{0.1, 0.9, 0.5}, 0.7),
				createTestPatternWithEmbedding("pattern-4", "threshold", "big transaction alert", []float64{0.8, 0.6, 0.2}, 0.85),
			}

			for _, pattern := range patterns {
				err := db.StoreRulePattern(ctx, pattern)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		Context("when finding similar patterns with valid query", func() {
			It("should return similar patterns ordered by similarity", func() {
				queryPattern := createTestPatternWithEmbedding("query", "threshold", "large purchase alert", []float64{0.95, 0.45, 0.05}, 0.0)

				similarPatterns, err := db.FindSimilarPatterns(ctx, queryPattern, 3, 0.5)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(similarPatterns)).To(BeNumerically(">=", 2))

				for i := 1; i < len(similarPatterns); i++ {
					Expect(similarPatterns[i-1].Similarity).To(BeNumerically(">=", similarPatterns[i].Similarity))
				}

				for i, pattern := range similarPatterns {
					Expect(pattern.Rank).To(Equal(i + 1))
				}
			})

			It("should respect the similarity threshold", func() {
				queryPattern := createTestPatternWithEmbedding("query", "merchant_pattern", "casino merchant alert", []float64{0.0, 1.0, 0.0}, 0.0)

				similarPatterns, err := db.FindSimilarPatterns(ctx, queryPattern, 10, 0.9)

				Expect(err).NotTo(HaveOccurred())
				for _, pattern := range similarPatterns {
					Expect(pattern.Similarity).To(BeNumerically(">=", 0.9))
				}
			})

			It("should respect the limit parameter", func() {
				queryPattern := createTestPatternWithEmbedding("query", "threshold", "large purchase alert", []float64{1.0, 0.5, 0.0}, 0.0)

				similarPatterns, err := db.FindSimilarPatterns(ctx, queryPattern, 2, 0.0)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(similarPatterns)).To(BeNumerically("<=", 2))
			})

			It("should exclude the same pattern from results", func() {
				queryPattern := createTestPatternWithEmbedding("same-pattern", "threshold", "large purchase alert", []float64{1.0, 0.5, 0.0}, 0.9)
				err := db.StoreRulePattern(ctx, queryPattern)
				Expect(err).NotTo(HaveOccurred())

				similarPatterns, err := db.FindSimilarPatterns(ctx, queryPattern, 10, 0.0)

				Expect(err).NotTo(HaveOccurred())
				for _, pattern := range similarPatterns {
					Expect(pattern.Pattern.ID).NotTo(Equal("same-pattern"))
				}
			})
		})

		Context("when query pattern has empty embedding", func() {
			It("should return an error", func() {
				queryPattern := createTestPattern("query", "threshold", "large purchase alert")
				queryPattern.Embedding = []float64{}

				_, err := db.FindSimilarPatterns(ctx, queryPattern, 5, 0.5)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("query pattern embedding cannot be empty"))
			})
		})
	})

	Describe("UpdatePatternEffectiveness", func() {
		BeforeEach(func() {
			pattern := createTestPattern("update-test", "threshold", "large purchase alert")
			err := db.StoreRulePattern(ctx, pattern)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("when updating existing pattern", func() {
			It("should update the effectiveness score", func() {
				err := db.UpdatePatternEffectiveness(ctx, "update-test", 0.95)

				Expect(err).NotTo(HaveOccurred())

				pattern, err := db.GetPattern("update-test")
				Expect(err).NotTo(HaveOccurred())
				Expect(pattern.EffectivenessData.Score).To(Equal(0.95))
				Expect(pattern.EffectivenessData.LastAssessed).To(BeTemporally("~", time.Now(), time.Second))
			})

			It("should create effectiveness data if it doesn't exist", func() {
				pattern := createTestPattern("no-effectiveness", "merchant_pattern", "casino merchant alert")
				pattern.EffectivenessData = nil
				err := db.StoreRulePattern(ctx, pattern)
				Expect(err).NotTo(HaveOccurred())

				err = db.UpdatePatternEffectiveness(ctx, "no-effectiveness", 0.75)

				Expect(err).NotTo(HaveOccurred())

				updatedPattern, err := db.GetPattern("no-effectiveness")
				Expect(err).NotTo(HaveOccurred())
				Expect(updatedPattern.EffectivenessData).NotTo(BeNil())
				Expect(updatedPattern.EffectivenessData.Score).To(Equal(0.75))
			})
		})

		Context("when pattern does not exist", func() {
			It("should return an error", func() {
				err := db.UpdatePatternEffectiveness(ctx, "non-existent", 0.8)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("pattern with ID non-existent not found"))
			})
		})
	})

	Describe("SearchBySemantics", func() {
		BeforeEach(func() {
			patterns := []*vector.RulePattern{
				createTestPattern("purchase-1", "threshold", "alert me on large purchases over $500"),
				createTestPattern("purchase-2", "threshold", "warn me about large purchase amounts"),
				createTestPattern("baseline-1", "pct_delta_vs_baseline", "flag spending that deviates from baseline"),
				createTestPattern("merchant-1", "merchant_pattern", "notify me about casino merchant charges"),
				createTestPattern("travel-1", "location", "alert on impossible travel transactions"),
			}

			for _, pattern := range patterns {
				err := db.StoreRulePattern(ctx, pattern)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		Context("when searching for purchase-related patterns", func() {
			It("should find patterns related to purchases", func() {
				results, err := db.SearchBySemantics(ctx, "purchase", 10)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(results)).To(BeNumerically(">=", 2))

				foundPurchasePattern := false
				for _, pattern := range results {
					if pattern.ID == "purchase-1" || pattern.ID == "purchase-2" {
						foundPurchasePattern = true
						break
					}
				}
				Expect(foundPurchasePattern).To(BeTrue())
			})
		})

		Context("when searching for baseline deviations", func() {
			It("should find baseline-related patterns", func() {
				results, err := db.SearchBySemantics(ctx, "baseline", 10)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(results)).To(BeNumerically(">=", 1))

				if len(results) > 1 {
					for i := 1; i < len(results); i++ {
						prevScore := 0.0
						currScore := 0.0
						if results[i-1].EffectivenessData != nil {
							prevScore = results[i-1].EffectivenessData.Score
						}
						if results[i].EffectivenessData != nil {
							currScore = results[i].EffectivenessData.Score
						}
						Expect(prevScore).To(BeNumerically(">=", currScore))
					}
				}
			})
		})

		Context("when searching with limit", func() {
			It("should respect the limit parameter", func() {
				results, err := db.SearchBySemantics(ctx, "purchase", 1)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(results)).To(BeNumerically("<=", 1))
			})
		})

		Context("when no patterns match", func() {
			It("should return empty results", func() {
				results, err := db.SearchBySemantics(ctx, "nonexistent", 10)

				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(BeEmpty())
			})
		})
	})

	Describe("DeletePattern", func() {
		BeforeEach(func() {
			pattern := createTestPattern("delete-test", "threshold", "large purchase alert")
			err := db.StoreRulePattern(ctx, pattern)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("when deleting existing pattern", func() {
			It("should remove the pattern", func() {
				err := db.DeletePattern(ctx, "delete-test")

				Expect(err).NotTo(HaveOccurred())
				Expect(db.GetPatternCount()).To(Equal(0))

				_, err = db.GetPattern("delete-test")
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when pattern does not exist", func() {
			It("should return an error", func() {
				err := db.DeletePattern(ctx, "non-existent")

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("pattern with ID non-existent not found"))
			})
		})
	})

	Describe("GetPatternAnalytics", func() {
		BeforeEach(func() {
			patterns := []*vector.RulePattern{
				createTestPatternWithEmbedding("analytics-1", "threshold", "critical", []float64{1.0, 0.0, 0.0}, 0.9),
				createTestPatternWithEmbedding("analytics-2", "threshold", "warning", []float64{0.0, 1.0, 0.0}, 0.8),
				createTestPatternWithEmbedding("analytics-3", "merchant_pattern", "critical", []float64{0.0, 0.0, 1.0}, 0.7),
				createTestPatternWithEmbedding("analytics-4", "pct_delta_vs_baseline", "warning", []float64{0.5, 0.5, 0.0}, 0.6),
				createTestPatternWithEmbedding("analytics-5", "threshold", "critical", []float64{0.3, 0.3, 0.4}, 0.95),
			}

			for _, pattern := range patterns {
				pattern.Severity = pattern.NLText
				err := db.StoreRulePattern(ctx, pattern)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		Context("when generating analytics", func() {
			It("should return comprehensive analytics", func() {
				analytics, err := db.GetPatternAnalytics(ctx)

				Expect(err).NotTo(HaveOccurred())
				Expect(analytics).NotTo(BeNil())
				Expect(analytics.TotalRules).To(Equal(5))
				Expect(analytics.RulesByKind).To(HaveKey("threshold"))
				Expect(analytics.RulesByKind).To(HaveKey("merchant_pattern"))
				Expect(analytics.RulesByKind).To(HaveKey("pct_delta_vs_baseline"))
				Expect(analytics.RulesBySeverity).To(HaveKey("critical"))
				Expect(analytics.RulesBySeverity).To(HaveKey("warning"))
			})

			It("should calculate correct averages", func() {
				analytics, err := db.GetPatternAnalytics(ctx)

				Expect(err).NotTo(HaveOccurred())
				Expect(analytics.AverageEffectiveness).To(BeNumerically("~", 0.79, 0.01))
			})

			It("should categorize effectiveness properly", func() {
				analytics, err := db.GetPatternAnalytics(ctx)

				Expect(err).NotTo(HaveOccurred())
				Expect(analytics.EffectivenessDistribution).To(HaveKey("excellent"))
				Expect(analytics.EffectivenessDistribution).To(HaveKey("very_good"))
				Expect(analytics.EffectivenessDistribution).To(HaveKey("good"))
				Expect(analytics.EffectivenessDistribution).To(HaveKey("fair"))
			})

			It("should return top performing patterns", func() {
				analytics, err := db.GetPatternAnalytics(ctx)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(analytics.TopPerformingRules)).To(BeNumerically(">=", 1))

				if len(analytics.TopPerformingRules) > 0 {
					topPattern := analytics.TopPerformingRules[0]
					Expect(topPattern.EffectivenessData.Score).To(Equal(0.95))
				}
			})

			It("should return recent patterns", func() {
				analytics, err := db.GetPatternAnalytics(ctx)

				Expect(err).NotTo(HaveOccurred())
				Expect(len(analytics.RecentRules)).To(BeNumerically(">=", 1))

				if len(analytics.RecentRules) > 1 {
					for i := 1; i < len(analytics.RecentRules); i++ {
						prev := analytics.RecentRules[i-1].CreatedAt
						curr := analytics.RecentRules[i].CreatedAt
						Expect(prev.After(curr) || prev.Equal(curr)).To(BeTrue())
					}
				}
			})
		})
	})

	Describe("IsHealthy", func() {
		It("should report healthy status", func() {
			err := db.IsHealthy(ctx)

			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Clear", func() {
		BeforeEach(func() {
			patterns := []*vector.RulePattern{
				createTestPattern("clear-1", "threshold", "large purchase alert"),
				createTestPattern("clear-2", "merchant_pattern", "casino merchant alert"),
			}

			for _, pattern := range patterns {
				err := db.StoreRulePattern(ctx, pattern)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should remove all patterns", func() {
			Expect(db.GetPatternCount()).To(Equal(2))

			db.Clear()

			Expect(db.GetPatternCount()).To(Equal(0))
		})
	})

	Describe("Concurrent Access", func() {
		It("should handle concurrent reads and writes safely", func() {
			done := make(chan bool, 3)

			go func() {
				defer GinkgoRecover()
				for i := 0; i < 10; i++ {
					pattern := createTestPattern(fmt.Sprintf("concurrent-write-%d", i), "threshold", "large purchase alert")
					err := db.StoreRulePattern(ctx, pattern)
					Expect(err).NotTo(HaveOccurred())
				}
				done <- true
			}()

			go func() {
				defer GinkgoRecover()
				for i := 0; i < 10; i++ {
					_ = db.GetPatternCount()
					_, _ = db.GetPatternAnalytics(ctx)
				}
				done <- true
			}()

			go func() {
				defer GinkgoRecover()
				queryPattern := createTestPattern("concurrent-query", "threshold", "large purchase alert")
				for i := 0; i < 10; i++ {
					_, _ = db.FindSimilarPatterns(ctx, queryPattern, 5, 0.3)
				}
				done <- true
			}()

			<-done
			<-done
			<-done

			Expect(db.GetPatternCount()).To(BeNumerically(">", 0))
		})
	})
})

// Helper functions

func createTestPattern(id, ruleKind, nlText string) *vector.RulePattern {
	return &vector.RulePattern{
		ID:       id,
		RuleKind: ruleKind,
		NLText:   nlText,
		Severity: "med",
		UserID:   "test-user",
		SQLText:  "SELECT 1 FROM transactions WHERE amount > $1",
		TriggerParameters: map[string]interface{}{
			"threshold": 500,
			"reason":    "testing",
		},
		ContextLabels: map[string]string{
			"channel": "email",
			"version": "1.0.0",
		},
		PreConditions: map[string]interface{}{
			"severity": "med",
		},
		PostConditions: map[string]interface{}{
			"compiled": true,
		},
		EffectivenessData: &vector.EffectivenessData{
			Score:                 0.8,
			TriggerCount:          1,
			FalsePositiveCount:    0,
			AverageEvaluationTime: 30 * time.Millisecond,
			SuppressedCount:       0,
			RecurrenceRate:        0.0,
			ContextualFactors: map[string]float64{
				"hour_of_day": 0.5,
				"day_of_week": 0.3,
			},
			LastAssessed: time.Now(),
		},
		Embedding: []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
		Metadata: map[string]interface{}{
			"test": true,
		},
	}
}

func createTestPatternWithEmbedding(id, ruleKind, nlText string, embedding []float64, effectiveness float64) *vector.RulePattern {
	pattern := createTestPattern(id, ruleKind, nlText)
	pattern.Embedding = embedding
	pattern.EffectivenessData.Score = effectiveness
	return pattern
}
