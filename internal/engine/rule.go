package engine

import (
	"context"
	"fmt"

	"crm-backend/internal/store"
)

// TransformationRule is one unit of reusable custom value transformation.
type TransformationRule struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Code            string `json:"code,omitempty"`
	InputType       string `json:"input_type"`
	OutputType      string `json:"output_type"`
	TimeoutMs       int    `json:"timeout_ms"`
	IsValidated     bool   `json:"is_validated"`
	ValidationError string `json:"validation_error,omitempty"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// RuleInput carries create/update fields; nil pointers mean "unchanged".
type RuleInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Code        *string `json:"code"`
	InputType   *string `json:"input_type"`
	OutputType  *string `json:"output_type"`
	TimeoutMs   *int    `json:"timeout_ms"`
	Active      *bool   `json:"active"`
}

const ruleColumns = `id, tenant_id, name, description, code, input_type, output_type,
	timeout_ms, is_validated, validation_error, active, created_at, updated_at`

func parseRuleRow(row map[string]any) *TransformationRule {
	return &TransformationRule{
		ID:              rowString(row, "id"),
		TenantID:        rowString(row, "tenant_id"),
		Name:            rowString(row, "name"),
		Description:     rowString(row, "description"),
		Code:            rowString(row, "code"),
		InputType:       rowString(row, "input_type"),
		OutputType:      rowString(row, "output_type"),
		TimeoutMs:       rowInt(row, "timeout_ms"),
		IsValidated:     rowBool(row, "is_validated"),
		ValidationError: rowString(row, "validation_error"),
		Active:          rowBool(row, "active"),
		CreatedAt:       rowString(row, "created_at"),
		UpdatedAt:       rowString(row, "updated_at"),
	}
}

// ListRules returns a tenant's transformation rules, newest first.
func ListRules(ctx context.Context, q store.Querier, d store.Dialect, tenantID string, includeInactive bool) ([]*TransformationRule, error) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(`SELECT %s FROM transformation_rules WHERE tenant_id = %s`, ruleColumns, pb.Add(tenantID))
	if !includeInactive {
		sql += " AND active = " + pb.Add(true)
	}
	sql += " ORDER BY created_at DESC"

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]*TransformationRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, parseRuleRow(row))
	}
	return rules, nil
}

// GetRule loads one rule scoped to the tenant. Foreign-tenant ids behave
// exactly like missing ids.
func GetRule(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) (*TransformationRule, error) {
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, q,
		fmt.Sprintf(`SELECT %s FROM transformation_rules WHERE id = %s AND tenant_id = %s`,
			ruleColumns, pb.Add(id), pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return parseRuleRow(row), nil
}

// CreateRule validates the code (denylist scan plus a sample execution for
// the declared input type) and persists the rule with the outcome stored
// on the validated flag.
func CreateRule(ctx context.Context, q store.Querier, d store.Dialect, t *Transformer, tenantID string, input RuleInput) (*TransformationRule, error) {
	if input.Name == nil || *input.Name == "" {
		return nil, ValidationErrorf("rule name is required")
	}

	rule := &TransformationRule{
		ID:         store.GenerateUUID(),
		TenantID:   tenantID,
		Name:       *input.Name,
		InputType:  TypeText,
		OutputType: TypeText,
		TimeoutMs:  1000,
		Active:     true,
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.Code != nil {
		rule.Code = *input.Code
	}
	if input.InputType != nil {
		rule.InputType = *input.InputType
	}
	if input.OutputType != nil {
		rule.OutputType = *input.OutputType
	}
	if input.TimeoutMs != nil {
		rule.TimeoutMs = *input.TimeoutMs
	}
	if rule.TimeoutMs <= 0 {
		return nil, ValidationErrorf("timeout_ms must be a positive integer")
	}

	if rule.Code != "" {
		if err := t.ValidateCode(ctx, rule.Code, rule.InputType); err != nil {
			rule.ValidationError = err.Error()
		} else {
			rule.IsValidated = true
		}
	}

	pb := d.NewParamBuilder()
	_, err := store.Exec(ctx, q, fmt.Sprintf(
		`INSERT INTO transformation_rules
		 (id, tenant_id, name, description, code, input_type, output_type, timeout_ms, is_validated, validation_error, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(rule.ID), pb.Add(rule.TenantID), pb.Add(rule.Name), pb.Add(rule.Description),
		pb.Add(rule.Code), pb.Add(rule.InputType), pb.Add(rule.OutputType), pb.Add(rule.TimeoutMs),
		pb.Add(rule.IsValidated), pb.Add(rule.ValidationError), pb.Add(rule.Active)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

// UpdateRule mutates a rule. Any code change re-runs validation; the rule
// stays unvalidated (and therefore skipped at conversion time) until the
// new code passes a sample execution.
func UpdateRule(ctx context.Context, q store.Querier, d store.Dialect, t *Transformer, tenantID, id string, input RuleInput) (*TransformationRule, error) {
	rule, err := GetRule(ctx, q, d, tenantID, id)
	if err != nil {
		return nil, err
	}

	codeChanged := false
	if input.Name != nil && *input.Name != "" {
		rule.Name = *input.Name
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.InputType != nil {
		rule.InputType = *input.InputType
	}
	if input.OutputType != nil {
		rule.OutputType = *input.OutputType
	}
	if input.TimeoutMs != nil {
		if *input.TimeoutMs <= 0 {
			return nil, ValidationErrorf("timeout_ms must be a positive integer")
		}
		rule.TimeoutMs = *input.TimeoutMs
	}
	if input.Active != nil {
		rule.Active = *input.Active
	}
	if input.Code != nil && *input.Code != rule.Code {
		rule.Code = *input.Code
		codeChanged = true
	}

	if codeChanged {
		rule.IsValidated = false
		rule.ValidationError = ""
		if rule.Code != "" {
			if err := t.ValidateCode(ctx, rule.Code, rule.InputType); err != nil {
				rule.ValidationError = err.Error()
			} else {
				rule.IsValidated = true
			}
		}
	}

	pb := d.NewParamBuilder()
	_, err = store.Exec(ctx, q, fmt.Sprintf(
		`UPDATE transformation_rules
		 SET name = %s, description = %s, code = %s, input_type = %s, output_type = %s,
		     timeout_ms = %s, is_validated = %s, validation_error = %s, active = %s, updated_at = %s
		 WHERE id = %s AND tenant_id = %s`,
		pb.Add(rule.Name), pb.Add(rule.Description), pb.Add(rule.Code), pb.Add(rule.InputType),
		pb.Add(rule.OutputType), pb.Add(rule.TimeoutMs), pb.Add(rule.IsValidated),
		pb.Add(rule.ValidationError), pb.Add(rule.Active), d.NowExpr(),
		pb.Add(rule.ID), pb.Add(rule.TenantID)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

// RuleInUse reports whether any active mapping still references the rule.
func RuleInUse(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) (bool, error) {
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, q, fmt.Sprintf(
		`SELECT COUNT(*) AS n FROM field_mapping_configurations
		 WHERE tenant_id = %s AND transformation_rule_id = %s AND active = %s`,
		pb.Add(tenantID), pb.Add(id), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("rule in-use check: %w", err)
	}
	return rowInt(row, "n") > 0, nil
}

// DeleteRule soft-deletes a rule unless an active mapping still points at
// it; referential integrity is checked before any mutation.
func DeleteRule(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) error {
	inUse, err := RuleInUse(ctx, q, d, tenantID, id)
	if err != nil {
		return err
	}
	if inUse {
		return ValidationErrorf("rule is referenced by active field mappings and cannot be deleted")
	}

	pb := d.NewParamBuilder()
	affected, err := store.Exec(ctx, q, fmt.Sprintf(
		`UPDATE transformation_rules SET active = %s, updated_at = %s WHERE id = %s AND tenant_id = %s AND active = %s`,
		pb.Add(false), d.NowExpr(), pb.Add(id), pb.Add(tenantID), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
