package engine

import (
	"context"
	"fmt"
	"testing"

	"crm-backend/internal/config"
	"crm-backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	}
	s, err := store.New(ctx, cfg)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap test store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestTransformer() *Transformer {
	return NewTransformer(config.SandboxConfig{DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000})
}

func seedLead(t *testing.T, s *store.Store, tenantID string, fields map[string]any) string {
	t.Helper()
	id := store.GenerateUUID()

	pb := s.Dialect.NewParamBuilder()
	columns := "id, tenant_id"
	placeholders := pb.Add(id) + ", " + pb.Add(tenantID)
	for k, v := range fields {
		columns += ", " + k
		placeholders += ", " + pb.Add(v)
	}

	_, err := store.Exec(context.Background(), s.DB,
		fmt.Sprintf("INSERT INTO leads (%s) VALUES (%s)", columns, placeholders),
		pb.Params()...)
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return id
}

func seedContact(t *testing.T, s *store.Store, tenantID string, fields map[string]any) string {
	t.Helper()
	id := store.GenerateUUID()

	pb := s.Dialect.NewParamBuilder()
	columns := "id, tenant_id"
	placeholders := pb.Add(id) + ", " + pb.Add(tenantID)
	for k, v := range fields {
		columns += ", " + k
		placeholders += ", " + pb.Add(v)
	}

	_, err := store.Exec(context.Background(), s.DB,
		fmt.Sprintf("INSERT INTO contacts (%s) VALUES (%s)", columns, placeholders),
		pb.Params()...)
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return id
}

func mustCreateMapping(t *testing.T, s *store.Store, tenantID string, input MappingInput) *FieldMapping {
	t.Helper()
	m, err := CreateMapping(context.Background(), s.DB, s.Dialect, tenantID, input)
	if err != nil {
		t.Fatalf("create mapping %s -> %s.%s: %v", input.SourceField, input.TargetEntity, input.TargetField, err)
	}
	return m
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }
