package config

// DatabaseConfig describes the primary relational store used by the
// data store component (C1) and optionally shared with the vector
// store's PostgreSQL backend.
type DatabaseConfig struct {
	Enabled                bool   `yaml:"enabled"`
	Host                   string `yaml:"host"`
	Port                   string `yaml:"port"`
	Database               string `yaml:"database"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	SSLMode                string `yaml:"ssl_mode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// EmbeddingConfig selects which embedding provider the vector
// similarity service (C2) uses and at what dimension.
type EmbeddingConfig struct {
	Service   string `yaml:"service"`
	Dimension int    `yaml:"dimension"`
	Model     string `yaml:"model"`
}

// PostgreSQLVectorConfig configures a pgvector-backed Database.
type PostgreSQLVectorConfig struct {
	UseMainDB  bool `yaml:"use_main_db"`
	IndexLists int  `yaml:"index_lists"`
}

// PineconeConfig configures a Pinecone-backed Database. Not yet
// implemented; present so operators can see what's required to turn
// it on.
type PineconeConfig struct {
	APIKey    string `yaml:"api_key"`
	IndexName string `yaml:"index_name"`
}

// WeaviateConfig configures a Weaviate-backed Database. Not yet
// implemented; present so operators can see what's required to turn
// it on.
type WeaviateConfig struct {
	Host  string `yaml:"host"`
	Class string `yaml:"class"`
}

// CacheConfig configures an optional similarity-search result cache
// in front of the vector Database.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MaxSize   int    `yaml:"max_size"`
	CacheType string `yaml:"cache_type"`
}

// VectorDBConfig is the full configuration for the embedding and
// similarity service (C2).
type VectorDBConfig struct {
	Enabled          bool                   `yaml:"enabled"`
	Backend          string                 `yaml:"backend"`
	EmbeddingService EmbeddingConfig        `yaml:"embedding_service"`
	PostgreSQL       PostgreSQLVectorConfig `yaml:"postgresql"`
	Pinecone         PineconeConfig         `yaml:"pinecone"`
	Weaviate         WeaviateConfig         `yaml:"weaviate"`
	Cache            CacheConfig            `yaml:"cache"`
}
