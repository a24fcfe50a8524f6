package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultEmbeddingDimension = 384

// EmbeddingService turns text, trigger parameters, or context labels
// into a fixed-dimension vector for similarity search.
type EmbeddingService interface {
	GenerateTextEmbedding(ctx context.Context, text string) ([]float64, error)
	GenerateActionEmbedding(ctx context.Context, action string, parameters map[string]interface{}) ([]float64, error)
	GenerateContextEmbedding(ctx context.Context, labels map[string]string, metadata map[string]interface{}) ([]float64, error)
	CombineEmbeddings(embeddings ...[]float64) []float64
	GetEmbeddingDimension() int
}

// LocalEmbeddingService is a deterministic, dependency-free embedder:
// each token is hashed into a bucket of the output vector, producing
// a bag-of-tokens embedding that is stable across runs and requires
// no network call. It is not semantically rich, but it is exact,
// fast, and good enough to catch near-duplicate rule text.
type LocalEmbeddingService struct {
	dimension int
	log       *logrus.Logger
}

// NewLocalEmbeddingService builds a LocalEmbeddingService with the
// given dimension, falling back to 384 when dimension is non-positive.
func NewLocalEmbeddingService(dimension int, log *logrus.Logger) *LocalEmbeddingService {
	if dimension <= 0 {
		dimension = defaultEmbeddingDimension
	}
	if log == nil {
		log = logrus.New()
	}
	return &LocalEmbeddingService{dimension: dimension, log: log}
}

// GetEmbeddingDimension returns the configured vector length.
func (s *LocalEmbeddingService) GetEmbeddingDimension() int {
	return s.dimension
}

func (s *LocalEmbeddingService) bucketFor(token string) int {
	sum := sha256.Sum256([]byte(token))
	return int(binary.BigEndian.Uint32(sum[:4])) % s.dimension
}

func (s *LocalEmbeddingService) accumulate(vec []float64, text string) {
	for _, token := range tokenize(text) {
		idx := s.bucketFor(token)
		if idx < 0 {
			idx += s.dimension
		}
		vec[idx] += 1.0
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func normalize(vec []float64) []float64 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return vec
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// GenerateTextEmbedding hashes text's tokens into buckets and
// L2-normalizes the result. Empty text yields the zero vector.
func (s *LocalEmbeddingService) GenerateTextEmbedding(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, s.dimension)
	if text == "" {
		return vec, nil
	}
	s.accumulate(vec, text)
	return normalize(vec), nil
}

// GenerateActionEmbedding folds an action name and its scalar
// parameters into a single string before embedding. Non-scalar
// parameter values (slices, maps) are ignored.
func (s *LocalEmbeddingService) GenerateActionEmbedding(ctx context.Context, action string, parameters map[string]interface{}) ([]float64, error) {
	var sb strings.Builder
	sb.WriteString(action)

	for _, key := range sortedKeys(parameters) {
		val := parameters[key]
		switch v := val.(type) {
		case nil:
			continue
		case string:
			sb.WriteString(" ")
			sb.WriteString(key)
			sb.WriteString(" ")
			sb.WriteString(v)
		case bool:
			sb.WriteString(fmt.Sprintf(" %s %t", key, v))
		case int, int32, int64:
			sb.WriteString(fmt.Sprintf(" %s %v", key, v))
		case float32, float64:
			sb.WriteString(fmt.Sprintf(" %s %v", key, v))
		default:
			// slices, maps, and other composite types carry no stable
			// textual form here; they are intentionally excluded.
		}
	}

	return s.GenerateTextEmbedding(ctx, sb.String())
}

// GenerateContextEmbedding folds labels and scalar metadata into a
// single string before embedding.
func (s *LocalEmbeddingService) GenerateContextEmbedding(ctx context.Context, labels map[string]string, metadata map[string]interface{}) ([]float64, error) {
	var sb strings.Builder

	for _, key := range sortedStringKeys(labels) {
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString(" ")
		sb.WriteString(labels[key])
	}

	for _, key := range sortedKeys(metadata) {
		val := metadata[key]
		switch v := val.(type) {
		case nil:
			continue
		case string:
			sb.WriteString(" ")
			sb.WriteString(key)
			sb.WriteString(" ")
			sb.WriteString(v)
		default:
			sb.WriteString(fmt.Sprintf(" %s %v", key, v))
		}
	}

	return s.GenerateTextEmbedding(ctx, sb.String())
}

// CombineEmbeddings averages embeddings and L2-normalizes the result,
// skipping any embedding whose length differs from the service's
// dimension. A single embedding is returned unchanged.
func (s *LocalEmbeddingService) CombineEmbeddings(embeddings ...[]float64) []float64 {
	if len(embeddings) == 0 {
		return make([]float64, s.dimension)
	}
	if len(embeddings) == 1 {
		return embeddings[0]
	}

	dim := s.dimension
	sum := make([]float64, dim)
	count := 0
	for _, e := range embeddings {
		if len(e) != dim {
			continue
		}
		for i, v := range e {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return make([]float64, dim)
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return normalize(sum)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HybridEmbeddingService uses a LocalEmbeddingService by default and
// an external embedding provider only after SetUseLocal(false), falling
// back to local when no external provider is configured.
type HybridEmbeddingService struct {
	local    *LocalEmbeddingService
	external EmbeddingService
	useLocal bool
	log      *logrus.Logger
}

// NewHybridEmbeddingService wires local and external with local
// selected. external may be nil; local must be non-nil before any
// embedding or dimension call, since every path ends at local.
func NewHybridEmbeddingService(local *LocalEmbeddingService, external EmbeddingService, log *logrus.Logger) *HybridEmbeddingService {
	if log == nil {
		log = logrus.New()
	}
	return &HybridEmbeddingService{local: local, external: external, useLocal: true, log: log}
}

// SetUseLocal forces the local embedder when true; otherwise the
// external provider is tried first, with an automatic fallback to
// local on error or absence.
func (s *HybridEmbeddingService) SetUseLocal(useLocal bool) {
	s.useLocal = useLocal
}

func (s *HybridEmbeddingService) provider() EmbeddingService {
	if !s.useLocal && s.external != nil {
		return s.external
	}
	return s.local
}

// GenerateTextEmbedding delegates to the external provider when
// selected and available, falling back to local on any error.
func (s *HybridEmbeddingService) GenerateTextEmbedding(ctx context.Context, text string) ([]float64, error) {
	if !s.useLocal && s.external != nil {
		if embedding, err := s.external.GenerateTextEmbedding(ctx, text); err == nil {
			return embedding, nil
		}
		s.log.Warn("external embedding provider failed, falling back to local")
	}
	return s.local.GenerateTextEmbedding(ctx, text)
}

// GenerateActionEmbedding delegates to the selected provider.
func (s *HybridEmbeddingService) GenerateActionEmbedding(ctx context.Context, action string, parameters map[string]interface{}) ([]float64, error) {
	return s.provider().GenerateActionEmbedding(ctx, action, parameters)
}

// GenerateContextEmbedding delegates to the selected provider.
func (s *HybridEmbeddingService) GenerateContextEmbedding(ctx context.Context, labels map[string]string, metadata map[string]interface{}) ([]float64, error) {
	return s.provider().GenerateContextEmbedding(ctx, labels, metadata)
}

// CombineEmbeddings delegates to the local combiner, since averaging
// vectors doesn't depend on which provider produced them.
func (s *HybridEmbeddingService) CombineEmbeddings(embeddings ...[]float64) []float64 {
	return s.local.CombineEmbeddings(embeddings...)
}

// GetEmbeddingDimension returns the local embedder's dimension, which
// every provider in this service must share.
func (s *HybridEmbeddingService) GetEmbeddingDimension() int {
	return s.local.GetEmbeddingDimension()
}
