package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "datetime('now')" }

// SQLite serializes writers through its single connection, so no
// row-level lock clause is needed (or supported).
func (d *SQLiteDialect) RowLockSuffix() string { return "" }

func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    name       TEXT NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_products_tenant ON products (tenant_id);

CREATE TABLE IF NOT EXISTS leads (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL,
    first_name           TEXT,
    last_name            TEXT,
    email                TEXT,
    phone                TEXT,
    company              TEXT,
    title                TEXT,
    website              TEXT,
    address_line1        TEXT,
    address_line2        TEXT,
    city                 TEXT,
    state                TEXT,
    postal_code          TEXT,
    country              TEXT,
    source               TEXT,
    status               TEXT NOT NULL DEFAULT 'new',
    notes                TEXT,
    custom_fields        TEXT NOT NULL DEFAULT '{}',
    converted_contact_id TEXT,
    converted_at         TEXT,
    relationship_type    TEXT,
    interest             TEXT,
    created_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_status ON leads (tenant_id, status);

CREATE TABLE IF NOT EXISTS contacts (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    first_name    TEXT,
    last_name     TEXT,
    email         TEXT,
    phone         TEXT,
    company       TEXT,
    title         TEXT,
    website       TEXT,
    address_line1 TEXT,
    address_line2 TEXT,
    city          TEXT,
    state         TEXT,
    postal_code   TEXT,
    country       TEXT,
    source        TEXT,
    lead_id       TEXT,
    custom_fields TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_contacts_tenant ON contacts (tenant_id);

CREATE TABLE IF NOT EXISTS accounts (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    contact_id          TEXT NOT NULL,
    product_id          TEXT,
    name                TEXT,
    status              TEXT NOT NULL DEFAULT 'active',
    billing_cycle       TEXT NOT NULL DEFAULT 'monthly',
    billing_term_months INTEGER NOT NULL DEFAULT 1,
    amount              REAL,
    currency            TEXT NOT NULL DEFAULT 'USD',
    is_trial            INTEGER NOT NULL DEFAULT 0,
    trial_starts_at     TEXT,
    trial_ends_at       TEXT,
    custom_fields       TEXT NOT NULL DEFAULT '{}',
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts (tenant_id);

CREATE TABLE IF NOT EXISTS transactions (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    account_id    TEXT NOT NULL,
    contact_id    TEXT NOT NULL,
    amount        REAL,
    currency      TEXT NOT NULL DEFAULT 'USD',
    method        TEXT,
    reference     TEXT,
    status        TEXT NOT NULL DEFAULT 'completed',
    transacted_at TEXT NOT NULL DEFAULT (datetime('now')),
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions (tenant_id);

CREATE TABLE IF NOT EXISTS lead_contact_relationships (
    id                TEXT PRIMARY KEY,
    tenant_id         TEXT NOT NULL,
    lead_id           TEXT NOT NULL,
    contact_id        TEXT NOT NULL,
    relationship_type TEXT NOT NULL DEFAULT 'related',
    created_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS custom_field_definitions (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    entity     TEXT NOT NULL,
    name       TEXT NOT NULL,
    label      TEXT,
    field_type TEXT NOT NULL DEFAULT 'text',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (tenant_id, entity, name)
);

CREATE TABLE IF NOT EXISTS transformation_rules (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    name             TEXT NOT NULL,
    description      TEXT,
    code             TEXT,
    input_type       TEXT NOT NULL DEFAULT 'text',
    output_type      TEXT NOT NULL DEFAULT 'text',
    timeout_ms       INTEGER NOT NULL DEFAULT 1000,
    is_validated     INTEGER NOT NULL DEFAULT 0,
    validation_error TEXT,
    active           INTEGER NOT NULL DEFAULT 1,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_transformation_rules_tenant ON transformation_rules (tenant_id);

CREATE TABLE IF NOT EXISTS field_mapping_configurations (
    id                     TEXT PRIMARY KEY,
    tenant_id              TEXT NOT NULL,
    source_entity          TEXT NOT NULL DEFAULT 'leads',
    source_field           TEXT NOT NULL,
    source_field_type      TEXT NOT NULL DEFAULT 'text',
    source_field_path      TEXT,
    target_entity          TEXT NOT NULL,
    target_field           TEXT NOT NULL,
    target_field_type      TEXT NOT NULL DEFAULT 'text',
    target_field_path      TEXT,
    transformation_type    TEXT NOT NULL DEFAULT 'none',
    transformation_rule_id TEXT,
    default_value          TEXT,
    is_editable            INTEGER NOT NULL DEFAULT 1,
    is_required            INTEGER NOT NULL DEFAULT 0,
    is_visible             INTEGER NOT NULL DEFAULT 1,
    display_order          INTEGER NOT NULL DEFAULT 0,
    display_label          TEXT,
    help_text              TEXT,
    active                 INTEGER NOT NULL DEFAULT 1,
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_field_mappings_tenant ON field_mapping_configurations (tenant_id) WHERE active = 1;
CREATE UNIQUE INDEX IF NOT EXISTS uq_field_mappings_active
    ON field_mapping_configurations (tenant_id, source_entity, target_entity, source_field, target_field)
    WHERE active = 1;

CREATE TABLE IF NOT EXISTS field_mapping_templates (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT,
    name          TEXT NOT NULL,
    description   TEXT,
    template_type TEXT NOT NULL DEFAULT 'custom',
    icon          TEXT,
    color         TEXT,
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_mapping_template_items (
    id                     TEXT PRIMARY KEY,
    template_id            TEXT NOT NULL REFERENCES field_mapping_templates(id) ON DELETE CASCADE,
    mapping_id             TEXT,
    source_entity          TEXT NOT NULL DEFAULT 'leads',
    source_field           TEXT NOT NULL,
    source_field_type      TEXT NOT NULL DEFAULT 'text',
    source_field_path      TEXT,
    target_entity          TEXT NOT NULL,
    target_field           TEXT NOT NULL,
    target_field_type      TEXT NOT NULL DEFAULT 'text',
    target_field_path      TEXT,
    transformation_type    TEXT NOT NULL DEFAULT 'none',
    transformation_rule_id TEXT,
    default_value          TEXT,
    display_label          TEXT,
    help_text              TEXT,
    is_default_selected    INTEGER NOT NULL DEFAULT 1,
    display_order          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_template_items_template ON field_mapping_template_items (template_id);

CREATE TABLE IF NOT EXISTS conversion_field_history (
    id                  TEXT PRIMARY KEY,
    tenant_id           TEXT NOT NULL,
    lead_id             TEXT NOT NULL,
    contact_id          TEXT NOT NULL,
    account_id          TEXT,
    mapping_id          TEXT NOT NULL,
    source_field        TEXT NOT NULL,
    target_field        TEXT NOT NULL,
    target_entity       TEXT NOT NULL,
    source_value        TEXT,
    transformed_value   TEXT,
    final_value         TEXT,
    was_transformed     INTEGER NOT NULL DEFAULT 0,
    was_edited          INTEGER NOT NULL DEFAULT 0,
    transformation_type TEXT NOT NULL DEFAULT 'none',
    converted_by        TEXT,
    created_at          TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_conversion_history_lead ON conversion_field_history (tenant_id, lead_id);

CREATE TABLE IF NOT EXISTS field_mapping_statistics (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    ref_id        TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    event_count   INTEGER NOT NULL DEFAULT 0,
    last_event_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (tenant_id, ref_id, event_type)
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
