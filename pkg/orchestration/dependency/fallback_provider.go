package dependency

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	sharedmath "github.com/spendmonitor/alertengine/pkg/shared/math"
)

// FallbackMetrics tracks how often and how successfully a fallback
// provider has substituted for its primary dependency.
type FallbackMetrics struct {
	FallbacksProvided    int64
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
}

// VectorSearchResult is one hit from an in-memory similarity search.
type VectorSearchResult struct {
	ID         string
	Similarity float64
	Metadata   map[string]interface{}
}

type storedVector struct {
	id       string
	vector   []float64
	metadata map[string]interface{}
}

// InMemoryVectorFallback stands in for the embedding/similarity
// store's persistent backend when it is unavailable: enough capability
// to keep rule-dedup and pattern matching working in a degraded mode,
// not a durable store.
type InMemoryVectorFallback struct {
	mu      sync.Mutex
	log     *logrus.Logger
	vectors []storedVector
	metrics FallbackMetrics
}

// NewInMemoryVectorFallback builds an empty vector fallback.
func NewInMemoryVectorFallback(log *logrus.Logger) *InMemoryVectorFallback {
	return &InMemoryVectorFallback{log: log}
}

// ProvideFallback dispatches a degraded-mode vector operation by name:
// "store" persists a vector+metadata in memory, "search" runs a linear
// cosine-similarity scan over everything stored so far.
func (f *InMemoryVectorFallback) ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metrics.TotalOperations++
	f.metrics.FallbacksProvided++

	var result interface{}
	var err error
	switch operation {
	case "store":
		result, err = f.storeLocked(params)
	case "search":
		result, err = f.searchLocked(params)
	default:
		err = fmt.Errorf("vector fallback: unsupported operation %q", operation)
	}

	if err != nil {
		f.metrics.FailedOperations++
		f.log.WithError(err).WithField("operation", operation).Warn("vector fallback operation failed")
		return nil, err
	}
	f.metrics.SuccessfulOperations++
	return result, nil
}

func (f *InMemoryVectorFallback) storeLocked(params map[string]interface{}) (interface{}, error) {
	id, _ := params["id"].(string)
	vector, _ := params["vector"].([]float64)
	metadata, _ := params["metadata"].(map[string]interface{})

	f.vectors = append(f.vectors, storedVector{id: id, vector: vector, metadata: metadata})
	return id, nil
}

func (f *InMemoryVectorFallback) searchLocked(params map[string]interface{}) (interface{}, error) {
	query, _ := params["vector"].([]float64)
	limit, _ := params["limit"].(int)
	if limit <= 0 {
		limit = len(f.vectors)
	}

	results := make([]VectorSearchResult, 0, len(f.vectors))
	for _, v := range f.vectors {
		sim := f.CalculateSimilarity(query, v.vector)
		results = append(results, VectorSearchResult{ID: v.id, Similarity: sim, Metadata: v.metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// CalculateSimilarity returns the cosine similarity between a and b.
func (f *InMemoryVectorFallback) CalculateSimilarity(a, b []float64) float64 {
	return sharedmath.CosineSimilarity(a, b)
}

// GetMetrics returns a snapshot of this fallback's usage metrics.
func (f *InMemoryVectorFallback) GetMetrics() FallbackMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

// InMemoryPatternFallback stands in for the rule/category pattern
// store when it is unavailable: keeps recently seen patterns
// retrievable by type, ranked by success rate, so rule compilation can
// still consult historical patterns in a degraded mode.
type InMemoryPatternFallback struct {
	mu       sync.Mutex
	log      *logrus.Logger
	patterns []map[string]interface{}
	metrics  FallbackMetrics
}

// NewInMemoryPatternFallback builds an empty pattern fallback.
func NewInMemoryPatternFallback(log *logrus.Logger) *InMemoryPatternFallback {
	return &InMemoryPatternFallback{log: log}
}

// ProvideFallback dispatches a degraded-mode pattern operation by
// name: "store_pattern" appends a pattern record, "get_patterns_by_type"
// filters by the "type" field and optionally orders by success_rate.
func (f *InMemoryPatternFallback) ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metrics.TotalOperations++
	f.metrics.FallbacksProvided++

	var result interface{}
	var err error
	switch operation {
	case "store_pattern":
		result, err = f.storePatternLocked(params)
	case "get_patterns_by_type":
		result, err = f.patternsByTypeLocked(params)
	default:
		err = fmt.Errorf("pattern fallback: unsupported operation %q", operation)
	}

	if err != nil {
		f.metrics.FailedOperations++
		f.log.WithError(err).WithField("operation", operation).Warn("pattern fallback operation failed")
		return nil, err
	}
	f.metrics.SuccessfulOperations++
	return result, nil
}

func (f *InMemoryPatternFallback) storePatternLocked(params map[string]interface{}) (interface{}, error) {
	pattern, ok := params["pattern"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("pattern fallback: missing pattern payload")
	}
	f.patterns = append(f.patterns, pattern)
	return pattern["id"], nil
}

func (f *InMemoryPatternFallback) patternsByTypeLocked(params map[string]interface{}) (interface{}, error) {
	patternType, _ := params["type"].(string)
	orderBy, _ := params["order_by"].(string)

	matched := make([]map[string]interface{}, 0, len(f.patterns))
	for _, p := range f.patterns {
		if t, _ := p["type"].(string); t == patternType {
			matched = append(matched, p)
		}
	}

	if orderBy == "success_rate" {
		sort.Slice(matched, func(i, j int) bool {
			ri, _ := matched[i]["success_rate"].(float64)
			rj, _ := matched[j]["success_rate"].(float64)
			return ri > rj
		})
	}
	return matched, nil
}

// GetMetrics returns a snapshot of this fallback's usage metrics.
func (f *InMemoryPatternFallback) GetMetrics() FallbackMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

// DependencyConfig toggles fallback behaviour for a DependencyManager.
type DependencyConfig struct {
	EnableFallbacks bool
}

// HealthReport summarises which fallback providers a DependencyManager
// currently has registered.
type HealthReport struct {
	FallbacksAvailable []string
}

// DependencyManager is a registry of fallback providers that reports
// which ones are registered. The orchestrator does not consult it when
// a circuit breaker opens.
type DependencyManager struct {
	mu        sync.Mutex
	config    *DependencyConfig
	log       *logrus.Logger
	fallbacks map[string]interface{}
}

// NewDependencyManager builds a DependencyManager with no fallbacks
// registered yet.
func NewDependencyManager(config *DependencyConfig, log *logrus.Logger) *DependencyManager {
	return &DependencyManager{
		config:    config,
		log:       log,
		fallbacks: make(map[string]interface{}),
	}
}

// RegisterFallback associates name with a fallback provider (an
// *InMemoryVectorFallback, *InMemoryPatternFallback, or any other type
// implementing ProvideFallback).
func (dm *DependencyManager) RegisterFallback(name string, fallback interface{}) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if name == "" {
		return fmt.Errorf("dependency manager: fallback name must not be empty")
	}
	dm.fallbacks[name] = fallback
	dm.log.WithField("fallback", name).Info("registered fallback provider")
	return nil
}

// GetHealthReport lists the currently registered fallback providers.
func (dm *DependencyManager) GetHealthReport() HealthReport {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	names := make([]string, 0, len(dm.fallbacks))
	for name := range dm.fallbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return HealthReport{FallbacksAvailable: names}
}
