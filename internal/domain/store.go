// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
)

// Store is the append-only persistence boundary for rate table versions and
// calculation records. Versions are never deleted; supersession is expressed
// through the status lifecycle so past calculations stay replayable.
type Store interface {
	// Version lifecycle
	SaveVersion(ctx context.Context, v *RateTableVersion) error
	UpdateVersion(ctx context.Context, v *RateTableVersion) error
	GetVersion(ctx context.Context, id string) (*RateTableVersion, error)
	ListVersions(ctx context.Context, jurisdiction, productType string) ([]*RateTableVersion, error)
	GetActiveVersion(ctx context.Context, jurisdiction, productType string) (*RateTableVersion, error)
	NextVersionNumber(ctx context.Context, jurisdiction, productType string) (int, error)

	// ActivateVersion atomically retires the current active version for the
	// (jurisdiction, product) pair and activates versionID. Loser of a
	// concurrent activation race gets a deployment error and the previous
	// active version is left untouched.
	ActivateVersion(ctx context.Context, versionID, approver string) (*DeploymentResult, error)

	// Calculation audit trail
	SaveCalculation(ctx context.Context, calc *PremiumCalculation) error
	GetCalculation(ctx context.Context, id string) (*PremiumCalculation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
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
	MaxOpenConns int
	MaxIdleConns int
}
