package engine

import (
	"context"
	"errors"
	"testing"

	"crm-backend/internal/store"
)

func TestCreateRuleValidation(t *testing.T) {
	s := newTestStore(t)
	tr := newTestTransformer()
	ctx := context.Background()
	tenant := store.GenerateUUID()

	rule, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenant, RuleInput{
		Name: strPtr("Uppercase"),
		Code: strPtr(`upper(value)`),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if !rule.IsValidated {
		t.Fatal("valid code should mark the rule validated")
	}
	if rule.ValidationError != "" {
		t.Fatalf("unexpected validation error: %s", rule.ValidationError)
	}

	broken, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenant, RuleInput{
		Name: strPtr("Broken"),
		Code: strPtr(`require("fs")`),
	})
	if err != nil {
		t.Fatalf("create broken rule: %v", err)
	}
	if broken.IsValidated {
		t.Fatal("denylisted code must not validate")
	}
	if broken.ValidationError == "" {
		t.Fatal("validation error should be recorded")
	}

	if _, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenant, RuleInput{}); err == nil {
		t.Fatal("rule without a name should be rejected")
	}
}

func TestUpdateRuleRevalidatesOnCodeChange(t *testing.T) {
	s := newTestStore(t)
	tr := newTestTransformer()
	ctx := context.Background()
	tenant := store.GenerateUUID()

	rule, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenant, RuleInput{
		Name: strPtr("Cleanup"),
		Code: strPtr(`trim(value)`),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// A name-only update must not disturb the validated flag.
	updated, err := UpdateRule(ctx, s.DB, s.Dialect, tr, tenant, rule.ID, RuleInput{Name: strPtr("Cleanup v2")})
	if err != nil {
		t.Fatalf("rename rule: %v", err)
	}
	if !updated.IsValidated {
		t.Fatal("rename should keep the rule validated")
	}

	// Changing the code to something broken drops validation.
	updated, err = UpdateRule(ctx, s.DB, s.Dialect, tr, tenant, rule.ID, RuleInput{Code: strPtr(`value +`)})
	if err != nil {
		t.Fatalf("update code: %v", err)
	}
	if updated.IsValidated {
		t.Fatal("broken code should clear the validated flag")
	}
	if updated.ValidationError == "" {
		t.Fatal("validation error should be recorded")
	}

	// Fixing the code validates again.
	updated, err = UpdateRule(ctx, s.DB, s.Dialect, tr, tenant, rule.ID, RuleInput{Code: strPtr(`lower(value)`)})
	if err != nil {
		t.Fatalf("fix code: %v", err)
	}
	if !updated.IsValidated {
		t.Fatal("fixed code should validate")
	}
}

func TestDeleteRuleInUseGuard(t *testing.T) {
	s := newTestStore(t)
	tr := newTestTransformer()
	ctx := context.Background()
	tenant := store.GenerateUUID()

	rule, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenant, RuleInput{
		Name: strPtr("Uppercase"),
		Code: strPtr(`upper(value)`),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	m := mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:          "company",
		TargetEntity:         "contacts",
		TargetField:          "company",
		TransformationType:   TransformCustom,
		TransformationRuleID: rule.ID,
	})

	if err := DeleteRule(ctx, s.DB, s.Dialect, tenant, rule.ID); err == nil {
		t.Fatal("deleting a rule referenced by an active mapping must fail")
	}

	if err := DeleteMapping(ctx, s.DB, s.Dialect, tenant, m.ID); err != nil {
		t.Fatalf("delete mapping: %v", err)
	}
	if err := DeleteRule(ctx, s.DB, s.Dialect, tenant, rule.ID); err != nil {
		t.Fatalf("delete rule after mapping removal: %v", err)
	}

	rules, err := ListRules(ctx, s.DB, s.Dialect, tenant, false)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no active rules, got %d", len(rules))
	}
}

func TestGetRuleTenantScope(t *testing.T) {
	s := newTestStore(t)
	tr := newTestTransformer()
	ctx := context.Background()

	tenantA := store.GenerateUUID()
	tenantB := store.GenerateUUID()

	rule, err := CreateRule(ctx, s.DB, s.Dialect, tr, tenantA, RuleInput{
		Name: strPtr("Private"),
		Code: strPtr(`upper(value)`),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if _, err := GetRule(ctx, s.DB, s.Dialect, tenantB, rule.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign tenant lookup should be not found, got %v", err)
	}
}
