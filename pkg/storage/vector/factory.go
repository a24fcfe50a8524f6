package vector

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/internal/config"
)

// VectorDatabaseFactory builds a Database and an EmbeddingService from
// configuration, so callers never construct a backend directly.
type VectorDatabaseFactory struct {
	config *config.VectorDBConfig
	db     *sql.DB
	log    *logrus.Logger
}

// NewVectorDatabaseFactory builds a factory. Any argument may be nil;
// CreateVectorDatabase falls back to an in-memory store when cfg is
// nil or disabled.
func NewVectorDatabaseFactory(cfg *config.VectorDBConfig, db *sql.DB, log *logrus.Logger) *VectorDatabaseFactory {
	if log == nil {
		log = logrus.New()
	}
	return &VectorDatabaseFactory{config: cfg, db: db, log: log}
}

// CreateVectorDatabase builds the Database named by the factory's
// configuration.
func (f *VectorDatabaseFactory) CreateVectorDatabase() (Database, error) {
	if f.config == nil || !f.config.Enabled {
		return NewMemoryVectorDatabase(f.log), nil
	}

	switch f.config.Backend {
	case "", "memory":
		return NewMemoryVectorDatabase(f.log), nil
	case "postgresql":
		if f.db == nil {
			return nil, fmt.Errorf("main database connection not available for postgresql vector backend")
		}
		return nil, fmt.Errorf("postgresql vector database not implemented yet")
	case "pinecone":
		return nil, fmt.Errorf("Pinecone vector database not implemented yet")
	case "weaviate":
		return nil, fmt.Errorf("Weaviate vector database not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported vector database backend: %s", f.config.Backend)
	}
}

// CreateEmbeddingService builds the EmbeddingService named by the
// factory's configuration.
func (f *VectorDatabaseFactory) CreateEmbeddingService() (EmbeddingService, error) {
	dimension := defaultEmbeddingDimension
	service := "local"
	if f.config != nil {
		if f.config.EmbeddingService.Dimension > 0 {
			dimension = f.config.EmbeddingService.Dimension
		}
		if f.config.EmbeddingService.Service != "" {
			service = f.config.EmbeddingService.Service
		}
	}

	switch service {
	case "local":
		return NewLocalEmbeddingService(dimension, f.log), nil
	case "hybrid":
		local := NewLocalEmbeddingService(dimension, f.log)
		return NewHybridEmbeddingService(local, nil, f.log), nil
	default:
		return nil, fmt.Errorf("unsupported embedding service: %s", service)
	}
}

// GetDefaultConfig returns production-sane defaults for VectorDBConfig.
func GetDefaultConfig() *config.VectorDBConfig {
	return &config.VectorDBConfig{
		Enabled: true,
		Backend: "postgresql",
		EmbeddingService: config.EmbeddingConfig{
			Service:   "local",
			Dimension: defaultEmbeddingDimension,
			Model:     "all-MiniLM-L6-v2",
		},
		PostgreSQL: config.PostgreSQLVectorConfig{
			UseMainDB:  true,
			IndexLists: 100,
		},
		Cache: config.CacheConfig{
			Enabled:   false,
			MaxSize:   1000,
			CacheType: "memory",
		},
	}
}

// ValidateConfig checks cfg for internal consistency. A disabled
// config is always valid, since nothing will use it.
func ValidateConfig(cfg *config.VectorDBConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	switch cfg.Backend {
	case "memory", "postgresql", "pinecone", "weaviate":
	default:
		return fmt.Errorf("invalid backend: %s", cfg.Backend)
	}

	switch cfg.EmbeddingService.Service {
	case "local", "hybrid":
	default:
		return fmt.Errorf("invalid embedding service: %s", cfg.EmbeddingService.Service)
	}

	if cfg.EmbeddingService.Dimension < 1 || cfg.EmbeddingService.Dimension > 4096 {
		return fmt.Errorf("embedding dimension must be between 1 and 4096")
	}

	if cfg.Backend == "postgresql" {
		if cfg.PostgreSQL.IndexLists < 1 || cfg.PostgreSQL.IndexLists > 1000 {
			return fmt.Errorf("PostgreSQL index lists must be between 1 and 1000")
		}
	}

	if cfg.Backend == "pinecone" {
		if cfg.Pinecone.APIKey == "" {
			return fmt.Errorf("Pinecone API key is required")
		}
		if cfg.Pinecone.IndexName == "" {
			return fmt.Errorf("Pinecone index name is required")
		}
	}

	if cfg.Backend == "weaviate" {
		if cfg.Weaviate.Host == "" {
			return fmt.Errorf("Weaviate host is required")
		}
		if cfg.Weaviate.Class == "" {
			return fmt.Errorf("Weaviate class name is required")
		}
	}

	return nil
}
