package vector

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/internal/config"
)

// ConnectionStats reports the current health and utilization of a
// ConnectionPool.
type ConnectionStats struct {
	Available           bool
	MaxOpenConnections   int
	OpenConnections      int
	InUse                int
	Idle                 int
	WaitCount            int64
	WaitDuration         time.Duration
	AverageResponseTime  time.Duration
	FailedConnections    int
	HealthCheckFailures  int
	LastHealthCheck      time.Time
	IsHealthy            bool
}

// ConnectionPool wraps a *sql.DB connection to the PostgreSQL vector
// backend with health tracking used by the factory and by Database
// implementations that need a live connection.
type ConnectionPool struct {
	mu                  sync.Mutex
	db                  *sql.DB
	log                 *logrus.Logger
	healthCheckFailures int
	lastHealthCheck     time.Time
	isHealthy           bool
}

// NewConnectionPool opens a pooled connection to dbConfig's database
// for use by vectorConfig's PostgreSQL backend.
func NewConnectionPool(dbConfig *config.DatabaseConfig, vectorConfig *config.VectorDBConfig, log *logrus.Logger) (*ConnectionPool, error) {
	if log == nil {
		log = logrus.New()
	}
	if dbConfig == nil || !dbConfig.Enabled {
		return nil, fmt.Errorf("database is not enabled")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.Username, dbConfig.Database, dbConfig.SSLMode)
	if dbConfig.Password != "" {
		connStr += fmt.Sprintf(" password=%s", dbConfig.Password)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database connection: %w", err)
	}

	maxOpen := dbConfig.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := dbConfig.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	lifetime := time.Duration(dbConfig.ConnMaxLifetimeMinutes) * time.Minute
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	return &ConnectionPool{db: db, log: log, isHealthy: true}, nil
}

// DB returns the underlying *sql.DB.
func (p *ConnectionPool) DB() *sql.DB {
	return p.db
}

// HealthCheck pings the database and updates the pool's health
// bookkeeping.
func (p *ConnectionPool) HealthCheck() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastHealthCheck = time.Now()
	if err := p.db.Ping(); err != nil {
		p.healthCheckFailures++
		p.isHealthy = false
		return fmt.Errorf("vector database health check failed: %w", err)
	}
	p.isHealthy = true
	return nil
}

// Stats returns the pool's current statistics.
func (p *ConnectionPool) Stats() *ConnectionStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	dbStats := p.db.Stats()
	return &ConnectionStats{
		Available:           true,
		MaxOpenConnections:  dbStats.MaxOpenConnections,
		OpenConnections:     dbStats.OpenConnections,
		InUse:               dbStats.InUse,
		Idle:                dbStats.Idle,
		WaitCount:           dbStats.WaitCount,
		WaitDuration:        dbStats.WaitDuration,
		HealthCheckFailures: p.healthCheckFailures,
		LastHealthCheck:     p.lastHealthCheck,
		IsHealthy:           p.isHealthy,
	}
}

// Close releases the pool's underlying connections.
func (p *ConnectionPool) Close() error {
	return p.db.Close()
}
