package store

import (
	"context"
	"errors"
	"testing"

	"crm-backend/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestBootstrapIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS n FROM users")
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if row["n"] != int64(1) {
		t.Fatalf("expected 1 seeded user, got %v", row["n"])
	}

	row, err = QueryRow(ctx, s.DB, "SELECT COUNT(*) AS n FROM field_mapping_templates WHERE template_type = 'system'")
	if err != nil {
		t.Fatalf("count templates: %v", err)
	}
	if row["n"] != int64(1) {
		t.Fatalf("expected 1 system template, got %v", row["n"])
	}
}

func TestParamBuilders(t *testing.T) {
	pg := (&PostgresDialect{}).NewParamBuilder()
	if got := pg.Add("a"); got != "$1" {
		t.Fatalf("pg placeholder = %s", got)
	}
	if got := pg.Add("b"); got != "$2" {
		t.Fatalf("pg placeholder = %s", got)
	}

	lite := (&SQLiteDialect{}).NewParamBuilder()
	if got := lite.Add("a"); got != "?1" {
		t.Fatalf("sqlite placeholder = %s", got)
	}
	if lite.Count() != 1 || len(lite.Params()) != 1 {
		t.Fatalf("param accounting: count=%d params=%d", lite.Count(), len(lite.Params()))
	}
}

func TestUniqueViolationMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	insert := func() error {
		pb := s.Dialect.NewParamBuilder()
		_, err := Exec(ctx, s.DB,
			"INSERT INTO users (id, tenant_id, email, password_hash) VALUES ("+
				pb.Add(GenerateUUID())+", "+pb.Add(GenerateUUID())+", "+pb.Add("dup@example.com")+", "+pb.Add("x")+")",
			pb.Params()...)
		return err
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := insert()
	if err == nil {
		t.Fatal("duplicate email should fail")
	}
	if !errors.Is(s.Dialect.MapError(err), ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestActiveMappingUniqueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	tenant := GenerateUUID()

	insert := func(active bool) error {
		pb := s.Dialect.NewParamBuilder()
		_, err := Exec(ctx, s.DB,
			`INSERT INTO field_mapping_configurations
			 (id, tenant_id, source_entity, source_field, target_entity, target_field, active)
			 VALUES (`+pb.Add(GenerateUUID())+", "+pb.Add(tenant)+", 'leads', 'email', 'contacts', 'email', "+pb.Add(active)+")",
			pb.Params()...)
		return err
	}

	if err := insert(true); err != nil {
		t.Fatalf("first active insert: %v", err)
	}
	if err := insert(true); !errors.Is(s.Dialect.MapError(err), ErrUniqueViolation) {
		t.Fatalf("second active insert should hit the partial index, got %v", err)
	}
	// Inactive rows are outside the index.
	if err := insert(false); err != nil {
		t.Fatalf("inactive insert: %v", err)
	}
}

func TestNormalizeBooleans(t *testing.T) {
	rows := []map[string]any{
		{"active": int64(1), "name": "a"},
		{"active": int64(0), "name": "b"},
	}
	NormalizeBooleans(rows, []string{"active"})
	if rows[0]["active"] != true || rows[1]["active"] != false {
		t.Fatalf("booleans not normalized: %+v", rows)
	}
	if rows[0]["name"] != "a" {
		t.Fatal("unrelated fields must not change")
	}
}
