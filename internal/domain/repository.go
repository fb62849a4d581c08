// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods except the benchmark catalog require tenantID for strict
// multi-tenancy isolation; benchmarks are a shared catalog.
type Repository interface {
	// Listing operations
	SaveListing(ctx context.Context, tenantID string, listing *Listing) error
	GetListing(ctx context.Context, tenantID string, listingID string) (*Listing, error)

	// Benchmark catalog operations (shared across tenants)
	SaveBenchmark(ctx context.Context, bench *Benchmark) error
	GetBenchmark(ctx context.Context, component ComponentType, model string) (*Benchmark, error)

	// Ruleset authoring operations
	SaveRuleset(ctx context.Context, tenantID string, rs *Ruleset) error
	GetRuleset(ctx context.Context, tenantID string, rulesetID string) (*Ruleset, error)
	ListRulesets(ctx context.Context, tenantID string) ([]*Ruleset, error)
	DeleteRuleset(ctx context.Context, tenantID string, rulesetID string) error

	// Valuation results
	SaveValuation(ctx context.Context, tenantID string, v *Valuation) error
	GetValuation(ctx context.Context, tenantID string, valuationID string) (*Valuation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
