package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	sharedmath "github.com/spendmonitor/alertengine/pkg/shared/math"
)

// MemoryVectorDatabase is an in-process Database backed by a map and
// brute-force cosine similarity. It satisfies Database for tests and
// for deployments too small to justify a pgvector instance.
type MemoryVectorDatabase struct {
	mu       sync.RWMutex
	patterns map[string]*RulePattern
	log      *logrus.Logger
}

// NewMemoryVectorDatabase builds an empty MemoryVectorDatabase.
func NewMemoryVectorDatabase(log *logrus.Logger) *MemoryVectorDatabase {
	return &MemoryVectorDatabase{
		patterns: make(map[string]*RulePattern),
		log:      log,
	}
}

// StoreRulePattern validates and inserts or replaces pattern.
func (db *MemoryVectorDatabase) StoreRulePattern(ctx context.Context, pattern *RulePattern) error {
	if pattern.ID == "" {
		return fmt.Errorf("pattern ID cannot be empty")
	}
	if len(pattern.Embedding) == 0 {
		return fmt.Errorf("pattern embedding cannot be empty")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	stored := *pattern
	if existing, ok := db.patterns[pattern.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()

	db.patterns[pattern.ID] = &stored
	return nil
}

// GetPattern returns the pattern with id.
func (db *MemoryVectorDatabase) GetPattern(id string) (*RulePattern, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	pattern, ok := db.patterns[id]
	if !ok {
		return nil, fmt.Errorf("pattern with ID %s not found", id)
	}
	return pattern, nil
}

// FindSimilarPatterns ranks every stored pattern (other than query
// itself) by cosine similarity to query's embedding, keeping those at
// or above threshold, sorted descending, capped at limit.
func (db *MemoryVectorDatabase) FindSimilarPatterns(ctx context.Context, query *RulePattern, limit int, threshold float64) ([]*SimilarPattern, error) {
	if len(query.Embedding) == 0 {
		return nil, fmt.Errorf("query pattern embedding cannot be empty")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var matches []*SimilarPattern
	for id, pattern := range db.patterns {
		if id == query.ID {
			continue
		}
		similarity := sharedmath.CosineSimilarity(query.Embedding, pattern.Embedding)
		if similarity >= threshold {
			matches = append(matches, &SimilarPattern{Pattern: pattern, Similarity: similarity})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	for i, m := range matches {
		m.Rank = i + 1
	}

	return matches, nil
}

// UpdatePatternEffectiveness sets score on the named pattern's
// EffectivenessData, creating it if absent.
func (db *MemoryVectorDatabase) UpdatePatternEffectiveness(ctx context.Context, id string, score float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	pattern, ok := db.patterns[id]
	if !ok {
		return fmt.Errorf("pattern with ID %s not found", id)
	}

	if pattern.EffectivenessData == nil {
		pattern.EffectivenessData = &EffectivenessData{}
	}
	pattern.EffectivenessData.Score = score
	pattern.EffectivenessData.LastAssessed = time.Now()
	return nil
}

// SearchBySemantics does a naive substring match against each
// pattern's NLText, sorted by effectiveness score descending.
func (db *MemoryVectorDatabase) SearchBySemantics(ctx context.Context, text string, limit int) ([]*RulePattern, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	needle := strings.ToLower(text)
	var matches []*RulePattern
	for _, pattern := range db.patterns {
		if strings.Contains(strings.ToLower(pattern.NLText), needle) {
			matches = append(matches, pattern)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return scoreOf(matches[i]) > scoreOf(matches[j])
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scoreOf(p *RulePattern) float64 {
	if p.EffectivenessData == nil {
		return 0
	}
	return p.EffectivenessData.Score
}

// DeletePattern removes the pattern with id.
func (db *MemoryVectorDatabase) DeletePattern(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.patterns[id]; !ok {
		return fmt.Errorf("pattern with ID %s not found", id)
	}
	delete(db.patterns, id)
	return nil
}

// GetPatternAnalytics summarizes every stored pattern.
func (db *MemoryVectorDatabase) GetPatternAnalytics(ctx context.Context) (*RuleAnalytics, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	analytics := &RuleAnalytics{
		RulesByKind:               make(map[string]int),
		RulesBySeverity:           make(map[string]int),
		EffectivenessDistribution: make(map[string]int),
		GeneratedAt:               time.Now(),
	}

	var all []*RulePattern
	var totalScore float64
	var scoredCount int

	for _, pattern := range db.patterns {
		all = append(all, pattern)
		analytics.RulesByKind[pattern.RuleKind]++
		if pattern.Severity != "" {
			analytics.RulesBySeverity[pattern.Severity]++
		}
		if pattern.EffectivenessData != nil {
			totalScore += pattern.EffectivenessData.Score
			scoredCount++
			analytics.EffectivenessDistribution[effectivenessBucket(pattern.EffectivenessData.Score)]++
		}
	}

	analytics.TotalRules = len(all)
	if scoredCount > 0 {
		analytics.AverageEffectiveness = totalScore / float64(scoredCount)
	}

	top := make([]*RulePattern, len(all))
	copy(top, all)
	sort.Slice(top, func(i, j int) bool {
		return scoreOf(top[i]) > scoreOf(top[j])
	})
	if len(top) > 5 {
		top = top[:5]
	}
	analytics.TopPerformingRules = top

	recent := make([]*RulePattern, len(all))
	copy(recent, all)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}
	analytics.RecentRules = recent

	return analytics, nil
}

func effectivenessBucket(score float64) string {
	switch {
	case score >= 0.95:
		return "excellent"
	case score >= 0.8:
		return "very_good"
	case score >= 0.65:
		return "good"
	case score >= 0.5:
		return "fair"
	default:
		return "poor"
	}
}

// IsHealthy always succeeds for the in-memory implementation.
func (db *MemoryVectorDatabase) IsHealthy(ctx context.Context) error {
	return nil
}

// GetPatternCount returns the number of stored patterns.
func (db *MemoryVectorDatabase) GetPatternCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.patterns)
}

// Clear removes every stored pattern.
func (db *MemoryVectorDatabase) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patterns = make(map[string]*RulePattern)
}
