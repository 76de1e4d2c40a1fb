package repository

// Schema definitions for Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaGroups = `
CREATE TABLE IF NOT EXISTS variable_groups (
    name TEXT PRIMARY KEY,
    display_order INTEGER NOT NULL DEFAULT 0
);
`

// Definitions are stored as JSON documents keyed by their natural name.
// Disabled rows are kept for audit and ignored by LoadCatalog.
const schemaVariables = `
CREATE TABLE IF NOT EXISTS variables (
    key TEXT PRIMARY KEY,
    group_name TEXT NOT NULL,
    kind TEXT NOT NULL,
    definition TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variables_group ON variables(group_name);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    name TEXT PRIMARY KEY,
    definition TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaModels = `
CREATE TABLE IF NOT EXISTS models (
    name TEXT PRIMARY KEY,
    definition TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_enabled ON models(enabled);
`

const schemaProcedures = `
CREATE TABLE IF NOT EXISTS procedures (
    cpt_code TEXT PRIMARY KEY,
    rvu REAL NOT NULL,
    short_description TEXT NOT NULL DEFAULT '',
    long_description TEXT NOT NULL DEFAULT '',
    complexity TEXT NOT NULL DEFAULT ''
);
`

const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    inputs TEXT NOT NULL,
    value_display TEXT NOT NULL,
    results TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_patient ON calculations(patient_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_calculations_status ON calculations(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaGroups,
		schemaVariables,
		schemaRules,
		schemaModels,
		schemaProcedures,
		schemaCalculations,
	}
}
