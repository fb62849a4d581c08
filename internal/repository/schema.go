package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Price columns are TEXT so
// decimal amounts round-trip without loss.

const schemaListings = `
CREATE TABLE IF NOT EXISTS listings (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    component TEXT NOT NULL,
    condition TEXT NOT NULL,
    base_price TEXT NOT NULL,
    currency TEXT NOT NULL,
    source TEXT,
    attributes TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_tenant ON listings(tenant_id);
CREATE INDEX IF NOT EXISTS idx_listings_component ON listings(tenant_id, component);
CREATE INDEX IF NOT EXISTS idx_listings_timestamp ON listings(tenant_id, timestamp);
`

// schemaBenchmarks defines the shared benchmark catalog.
// Benchmark marks are global reference data, not tenant scoped.
const schemaBenchmarks = `
CREATE TABLE IF NOT EXISTS benchmarks (
    component TEXT NOT NULL,
    model TEXT NOT NULL,
    mark_single REAL NOT NULL DEFAULT 0,
    mark_multi REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (component, model)
);
`

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS rulesets (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    groups TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rulesets_tenant ON rulesets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rulesets_active ON rulesets(tenant_id, active);
`

const schemaValuations = `
CREATE TABLE IF NOT EXISTS valuations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    listing_id TEXT NOT NULL,
    ruleset_id TEXT NOT NULL,
    base_price TEXT NOT NULL,
    adjusted_price TEXT NOT NULL,
    breakdown TEXT NOT NULL,
    group_results TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_valuations_tenant ON valuations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_valuations_listing ON valuations(tenant_id, listing_id);
CREATE INDEX IF NOT EXISTS idx_valuations_timestamp ON valuations(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaListings,
		schemaBenchmarks,
		schemaRulesets,
		schemaValuations,
	}
}
