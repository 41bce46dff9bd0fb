package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string       { return "NOW()" }
func (d *PostgresDialect) RowLockSuffix() string { return " FOR UPDATE" }
func (d *PostgresDialect) NeedsBoolFix() bool    { return false }

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'admin',
    active        BOOLEAN NOT NULL DEFAULT true,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
    id         UUID PRIMARY KEY,
    tenant_id  UUID NOT NULL,
    name       TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT true,
    is_default BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_products_tenant ON products (tenant_id);

CREATE TABLE IF NOT EXISTS leads (
    id                   UUID PRIMARY KEY,
    tenant_id            UUID NOT NULL,
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
    custom_fields        JSONB NOT NULL DEFAULT '{}',
    converted_contact_id UUID,
    converted_at         TIMESTAMPTZ,
    relationship_type    TEXT,
    interest             TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_status ON leads (tenant_id, status);

CREATE TABLE IF NOT EXISTS contacts (
    id            UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL,
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
    lead_id       UUID,
    custom_fields JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_contacts_tenant ON contacts (tenant_id);

CREATE TABLE IF NOT EXISTS accounts (
    id                  UUID PRIMARY KEY,
    tenant_id           UUID NOT NULL,
    contact_id          UUID NOT NULL,
    product_id          UUID,
    name                TEXT,
    status              TEXT NOT NULL DEFAULT 'active',
    billing_cycle       TEXT NOT NULL DEFAULT 'monthly',
    billing_term_months INT NOT NULL DEFAULT 1,
    amount              NUMERIC(18,2),
    currency            TEXT NOT NULL DEFAULT 'USD',
    is_trial            BOOLEAN NOT NULL DEFAULT false,
    trial_starts_at     TIMESTAMPTZ,
    trial_ends_at       TIMESTAMPTZ,
    custom_fields       JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts (tenant_id);

CREATE TABLE IF NOT EXISTS transactions (
    id            UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL,
    account_id    UUID NOT NULL,
    contact_id    UUID NOT NULL,
    amount        NUMERIC(18,2),
    currency      TEXT NOT NULL DEFAULT 'USD',
    method        TEXT,
    reference     TEXT,
    status        TEXT NOT NULL DEFAULT 'completed',
    transacted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions (tenant_id);

CREATE TABLE IF NOT EXISTS lead_contact_relationships (
    id                UUID PRIMARY KEY,
    tenant_id         UUID NOT NULL,
    lead_id           UUID NOT NULL,
    contact_id        UUID NOT NULL,
    relationship_type TEXT NOT NULL DEFAULT 'related',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS custom_field_definitions (
    id         UUID PRIMARY KEY,
    tenant_id  UUID NOT NULL,
    entity     TEXT NOT NULL,
    name       TEXT NOT NULL,
    label      TEXT,
    field_type TEXT NOT NULL DEFAULT 'text',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (tenant_id, entity, name)
);

CREATE TABLE IF NOT EXISTS transformation_rules (
    id               UUID PRIMARY KEY,
    tenant_id        UUID NOT NULL,
    name             TEXT NOT NULL,
    description      TEXT,
    code             TEXT,
    input_type       TEXT NOT NULL DEFAULT 'text',
    output_type      TEXT NOT NULL DEFAULT 'text',
    timeout_ms       INT NOT NULL DEFAULT 1000,
    is_validated     BOOLEAN NOT NULL DEFAULT false,
    validation_error TEXT,
    active           BOOLEAN NOT NULL DEFAULT true,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transformation_rules_tenant ON transformation_rules (tenant_id);

CREATE TABLE IF NOT EXISTS field_mapping_configurations (
    id                     UUID PRIMARY KEY,
    tenant_id              UUID NOT NULL,
    source_entity          TEXT NOT NULL DEFAULT 'leads',
    source_field           TEXT NOT NULL,
    source_field_type      TEXT NOT NULL DEFAULT 'text',
    source_field_path      TEXT,
    target_entity          TEXT NOT NULL,
    target_field           TEXT NOT NULL,
    target_field_type      TEXT NOT NULL DEFAULT 'text',
    target_field_path      TEXT,
    transformation_type    TEXT NOT NULL DEFAULT 'none',
    transformation_rule_id UUID,
    default_value          TEXT,
    is_editable            BOOLEAN NOT NULL DEFAULT true,
    is_required            BOOLEAN NOT NULL DEFAULT false,
    is_visible             BOOLEAN NOT NULL DEFAULT true,
    display_order          INT NOT NULL DEFAULT 0,
    display_label          TEXT,
    help_text              TEXT,
    active                 BOOLEAN NOT NULL DEFAULT true,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_field_mappings_tenant ON field_mapping_configurations (tenant_id) WHERE active;
CREATE UNIQUE INDEX IF NOT EXISTS uq_field_mappings_active
    ON field_mapping_configurations (tenant_id, source_entity, target_entity, source_field, target_field)
    WHERE active;

CREATE TABLE IF NOT EXISTS field_mapping_templates (
    id            UUID PRIMARY KEY,
    tenant_id     UUID,
    name          TEXT NOT NULL,
    description   TEXT,
    template_type TEXT NOT NULL DEFAULT 'custom',
    icon          TEXT,
    color         TEXT,
    active        BOOLEAN NOT NULL DEFAULT true,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS field_mapping_template_items (
    id                     UUID PRIMARY KEY,
    template_id            UUID NOT NULL REFERENCES field_mapping_templates(id) ON DELETE CASCADE,
    mapping_id             UUID,
    source_entity          TEXT NOT NULL DEFAULT 'leads',
    source_field           TEXT NOT NULL,
    source_field_type      TEXT NOT NULL DEFAULT 'text',
    source_field_path      TEXT,
    target_entity          TEXT NOT NULL,
    target_field           TEXT NOT NULL,
    target_field_type      TEXT NOT NULL DEFAULT 'text',
    target_field_path      TEXT,
    transformation_type    TEXT NOT NULL DEFAULT 'none',
    transformation_rule_id UUID,
    default_value          TEXT,
    display_label          TEXT,
    help_text              TEXT,
    is_default_selected    BOOLEAN NOT NULL DEFAULT true,
    display_order          INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_template_items_template ON field_mapping_template_items (template_id);

CREATE TABLE IF NOT EXISTS conversion_field_history (
    id                  UUID PRIMARY KEY,
    tenant_id           UUID NOT NULL,
    lead_id             UUID NOT NULL,
    contact_id          UUID NOT NULL,
    account_id          UUID,
    mapping_id          UUID NOT NULL,
    source_field        TEXT NOT NULL,
    target_field        TEXT NOT NULL,
    target_entity       TEXT NOT NULL,
    source_value        TEXT,
    transformed_value   TEXT,
    final_value         TEXT,
    was_transformed     BOOLEAN NOT NULL DEFAULT false,
    was_edited          BOOLEAN NOT NULL DEFAULT false,
    transformation_type TEXT NOT NULL DEFAULT 'none',
    converted_by        UUID,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conversion_history_lead ON conversion_field_history (tenant_id, lead_id);

CREATE TABLE IF NOT EXISTS field_mapping_statistics (
    id            UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL,
    ref_id        UUID NOT NULL,
    event_type    TEXT NOT NULL,
    event_count   BIGINT NOT NULL DEFAULT 0,
    last_event_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (tenant_id, ref_id, event_type)
);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
