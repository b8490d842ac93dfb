package repository

// Schema definitions for the Kestrel store.
// Compatible with both SQLite and PostgreSQL.

const schemaRateTableVersions = `
CREATE TABLE IF NOT EXISTS rate_table_versions (
    id TEXT PRIMARY KEY,
    jurisdiction TEXT NOT NULL,
    product_type TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    effective_date TIMESTAMP NOT NULL,
    expiration_date TIMESTAMP,
    status TEXT NOT NULL,
    tables TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    approved_by TEXT,
    activated_at TIMESTAMP,
    UNIQUE (jurisdiction, product_type, version_number)
);

CREATE INDEX IF NOT EXISTS idx_versions_key ON rate_table_versions(jurisdiction, product_type);
CREATE INDEX IF NOT EXISTS idx_versions_status ON rate_table_versions(jurisdiction, product_type, status);

CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_one_active
    ON rate_table_versions(jurisdiction, product_type) WHERE status = 'active';
`

const schemaPremiumCalculations = `
CREATE TABLE IF NOT EXISTS premium_calculations (
    id TEXT PRIMARY KEY,
    jurisdiction TEXT NOT NULL,
    product_type TEXT NOT NULL,
    base_premium TEXT NOT NULL,
    factors TEXT NOT NULL,
    total_premium TEXT NOT NULL,
    monthly_premium TEXT NOT NULL,
    rate_table_version_id TEXT NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    calculated_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_version ON premium_calculations(rate_table_version_id);
CREATE INDEX IF NOT EXISTS idx_calculations_key ON premium_calculations(jurisdiction, product_type);
CREATE INDEX IF NOT EXISTS idx_calculations_at ON premium_calculations(calculated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRateTableVersions,
		schemaPremiumCalculations,
	}
}
