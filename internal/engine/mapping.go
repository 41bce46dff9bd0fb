package engine

import (
	"context"
	"errors"
	"fmt"

	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// FieldMapping declares how one source field flows into one target field
// during lead conversion.
type FieldMapping struct {
	ID                   string `json:"id"`
	TenantID             string `json:"tenant_id"`
	SourceEntity         string `json:"source_entity"`
	SourceField          string `json:"source_field"`
	SourceFieldType      string `json:"source_field_type"`
	SourceFieldPath      string `json:"source_field_path,omitempty"`
	TargetEntity         string `json:"target_entity"`
	TargetField          string `json:"target_field"`
	TargetFieldType      string `json:"target_field_type"`
	TargetFieldPath      string `json:"target_field_path,omitempty"`
	TransformationType   string `json:"transformation_type"`
	TransformationRuleID string `json:"transformation_rule_id,omitempty"`
	DefaultValue         string `json:"default_value,omitempty"`
	IsEditable           bool   `json:"is_editable"`
	IsRequired           bool   `json:"is_required"`
	IsVisible            bool   `json:"is_visible"`
	DisplayOrder         int    `json:"display_order"`
	DisplayLabel         string `json:"display_label,omitempty"`
	HelpText             string `json:"help_text,omitempty"`
	Active               bool   `json:"active"`
	CreatedAt            string `json:"created_at,omitempty"`
	UpdatedAt            string `json:"updated_at,omitempty"`
}

// MappingInput carries create fields for a mapping.
type MappingInput struct {
	SourceEntity         string `json:"source_entity"`
	SourceField          string `json:"source_field"`
	SourceFieldType      string `json:"source_field_type"`
	SourceFieldPath      string `json:"source_field_path"`
	TargetEntity         string `json:"target_entity"`
	TargetField          string `json:"target_field"`
	TargetFieldType      string `json:"target_field_type"`
	TargetFieldPath      string `json:"target_field_path"`
	TransformationType   string `json:"transformation_type"`
	TransformationRuleID string `json:"transformation_rule_id"`
	DefaultValue         string `json:"default_value"`
	IsEditable           *bool  `json:"is_editable"`
	IsRequired           bool   `json:"is_required"`
	IsVisible            *bool  `json:"is_visible"`
	DisplayOrder         int    `json:"display_order"`
	DisplayLabel         string `json:"display_label"`
	HelpText             string `json:"help_text"`
}

// MappingUpdate carries the mutable subset of a mapping. Identity fields
// (entities, field names, paths) are immutable after creation; changing
// them would orphan conversion history, so callers recreate instead.
type MappingUpdate struct {
	TransformationType   *string `json:"transformation_type"`
	TransformationRuleID *string `json:"transformation_rule_id"`
	IsRequired           *bool   `json:"is_required"`
	DisplayOrder         *int    `json:"display_order"`
	Active               *bool   `json:"active"`
}

// Empty reports whether the update carries no mutable field at all.
func (u MappingUpdate) Empty() bool {
	return u.TransformationType == nil && u.TransformationRuleID == nil &&
		u.IsRequired == nil && u.DisplayOrder == nil && u.Active == nil
}

const mappingColumns = `id, tenant_id, source_entity, source_field, source_field_type, source_field_path,
	target_entity, target_field, target_field_type, target_field_path,
	transformation_type, transformation_rule_id, default_value,
	is_editable, is_required, is_visible, display_order, display_label, help_text,
	active, created_at, updated_at`

func parseMappingRow(row map[string]any) *FieldMapping {
	return &FieldMapping{
		ID:                   rowString(row, "id"),
		TenantID:             rowString(row, "tenant_id"),
		SourceEntity:         rowString(row, "source_entity"),
		SourceField:          rowString(row, "source_field"),
		SourceFieldType:      rowString(row, "source_field_type"),
		SourceFieldPath:      rowString(row, "source_field_path"),
		TargetEntity:         rowString(row, "target_entity"),
		TargetField:          rowString(row, "target_field"),
		TargetFieldType:      rowString(row, "target_field_type"),
		TargetFieldPath:      rowString(row, "target_field_path"),
		TransformationType:   rowString(row, "transformation_type"),
		TransformationRuleID: rowString(row, "transformation_rule_id"),
		DefaultValue:         rowString(row, "default_value"),
		IsEditable:           rowBool(row, "is_editable"),
		IsRequired:           rowBool(row, "is_required"),
		IsVisible:            rowBool(row, "is_visible"),
		DisplayOrder:         rowInt(row, "display_order"),
		DisplayLabel:         rowString(row, "display_label"),
		HelpText:             rowString(row, "help_text"),
		Active:               rowBool(row, "active"),
		CreatedAt:            rowString(row, "created_at"),
		UpdatedAt:            rowString(row, "updated_at"),
	}
}

// MappingFilter narrows ListMappings.
type MappingFilter struct {
	SourceEntity    string
	TargetEntity    string
	IncludeInactive bool
}

// ListMappings returns a tenant's mappings ordered for display.
func ListMappings(ctx context.Context, q store.Querier, d store.Dialect, tenantID string, filter MappingFilter) ([]*FieldMapping, error) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(`SELECT %s FROM field_mapping_configurations WHERE tenant_id = %s`,
		mappingColumns, pb.Add(tenantID))
	if filter.SourceEntity != "" {
		sql += " AND source_entity = " + pb.Add(filter.SourceEntity)
	}
	if filter.TargetEntity != "" {
		sql += " AND target_entity = " + pb.Add(filter.TargetEntity)
	}
	if !filter.IncludeInactive {
		sql += " AND active = " + pb.Add(true)
	}
	sql += " ORDER BY target_entity, display_order, source_field"

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}

	mappings := make([]*FieldMapping, 0, len(rows))
	for _, row := range rows {
		mappings = append(mappings, parseMappingRow(row))
	}
	return mappings, nil
}

// GetMapping loads one mapping scoped to the tenant.
func GetMapping(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) (*FieldMapping, error) {
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, q,
		fmt.Sprintf(`SELECT %s FROM field_mapping_configurations WHERE id = %s AND tenant_id = %s`,
			mappingColumns, pb.Add(id), pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return parseMappingRow(row), nil
}

// mappingExists reports whether an active mapping with the same identity
// key already exists, excluding excludeID (pass empty string on create).
func mappingExists(ctx context.Context, q store.Querier, d store.Dialect, tenantID, sourceEntity, targetEntity, sourceField, targetField, excludeID string) (bool, error) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(
		`SELECT COUNT(*) AS n FROM field_mapping_configurations
		 WHERE tenant_id = %s AND source_entity = %s AND target_entity = %s
		   AND source_field = %s AND target_field = %s AND active = %s`,
		pb.Add(tenantID), pb.Add(sourceEntity), pb.Add(targetEntity),
		pb.Add(sourceField), pb.Add(targetField), pb.Add(true))
	if excludeID != "" {
		sql += " AND id != " + pb.Add(excludeID)
	}
	row, err := store.QueryRow(ctx, q, sql, pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("mapping duplicate check: %w", err)
	}
	return rowInt(row, "n") > 0, nil
}

func validateMappingInput(input MappingInput) *AppError {
	var details []ErrorDetail
	if input.SourceField == "" {
		details = append(details, ErrorDetail{Field: "source_field", Message: "source_field is required"})
	}
	if input.TargetField == "" {
		details = append(details, ErrorDetail{Field: "target_field", Message: "target_field is required"})
	}
	if !metadata.ValidTargetEntity(input.TargetEntity) {
		details = append(details, ErrorDetail{Field: "target_entity", Message: fmt.Sprintf("unknown target entity %q", input.TargetEntity)})
	}
	if input.TransformationType != "" && !ValidTransformKind(input.TransformationType) {
		details = append(details, ErrorDetail{Field: "transformation_type", Message: fmt.Sprintf("unknown transformation type %q", input.TransformationType)})
	}
	if input.TransformationType == TransformCustom && input.TransformationRuleID == "" {
		details = append(details, ErrorDetail{Field: "transformation_rule_id", Message: "custom transformation requires a transformation_rule_id"})
	}
	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

// CreateMapping inserts a new mapping. The identity key (tenant, source
// entity, target entity, source field, target field) must be unique among
// active rows; the pre-check is backed by a partial unique index for
// concurrent creates.
func CreateMapping(ctx context.Context, q store.Querier, d store.Dialect, tenantID string, input MappingInput) (*FieldMapping, error) {
	if input.SourceEntity == "" {
		input.SourceEntity = metadata.EntityLeads
	}
	if appErr := validateMappingInput(input); appErr != nil {
		return nil, appErr
	}

	exists, err := mappingExists(ctx, q, d, tenantID, input.SourceEntity, input.TargetEntity, input.SourceField, input.TargetField, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ValidationErrorf(
			"an active mapping from %s.%s to %s.%s already exists",
			input.SourceEntity, input.SourceField, input.TargetEntity, input.TargetField)
	}

	if input.TransformationRuleID != "" {
		if _, err := GetRule(ctx, q, d, tenantID, input.TransformationRuleID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ValidationErrorf("transformation rule %s not found", input.TransformationRuleID)
			}
			return nil, err
		}
	}

	m := &FieldMapping{
		ID:                   store.GenerateUUID(),
		TenantID:             tenantID,
		SourceEntity:         input.SourceEntity,
		SourceField:          input.SourceField,
		SourceFieldType:      orDefault(input.SourceFieldType, TypeText),
		SourceFieldPath:      input.SourceFieldPath,
		TargetEntity:         input.TargetEntity,
		TargetField:          input.TargetField,
		TargetFieldType:      orDefault(input.TargetFieldType, TypeText),
		TargetFieldPath:      input.TargetFieldPath,
		TransformationType:   orDefault(input.TransformationType, TransformNone),
		TransformationRuleID: input.TransformationRuleID,
		DefaultValue:         input.DefaultValue,
		IsEditable:           input.IsEditable == nil || *input.IsEditable,
		IsRequired:           input.IsRequired,
		IsVisible:            input.IsVisible == nil || *input.IsVisible,
		DisplayOrder:         input.DisplayOrder,
		DisplayLabel:         input.DisplayLabel,
		HelpText:             input.HelpText,
		Active:               true,
	}

	pb := d.NewParamBuilder()
	_, err = store.Exec(ctx, q, fmt.Sprintf(
		`INSERT INTO field_mapping_configurations
		 (id, tenant_id, source_entity, source_field, source_field_type, source_field_path,
		  target_entity, target_field, target_field_type, target_field_path,
		  transformation_type, transformation_rule_id, default_value,
		  is_editable, is_required, is_visible, display_order, display_label, help_text, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(m.ID), pb.Add(m.TenantID), pb.Add(m.SourceEntity), pb.Add(m.SourceField),
		pb.Add(m.SourceFieldType), pb.Add(m.SourceFieldPath),
		pb.Add(m.TargetEntity), pb.Add(m.TargetField), pb.Add(m.TargetFieldType), pb.Add(m.TargetFieldPath),
		pb.Add(m.TransformationType), pb.Add(nullIfEmpty(m.TransformationRuleID)), pb.Add(m.DefaultValue),
		pb.Add(m.IsEditable), pb.Add(m.IsRequired), pb.Add(m.IsVisible),
		pb.Add(m.DisplayOrder), pb.Add(m.DisplayLabel), pb.Add(m.HelpText), pb.Add(m.Active)),
		pb.Params()...)
	if err != nil {
		if errors.Is(d.MapError(err), store.ErrUniqueViolation) {
			return nil, ValidationErrorf(
				"an active mapping from %s.%s to %s.%s already exists",
				m.SourceEntity, m.SourceField, m.TargetEntity, m.TargetField)
		}
		return nil, fmt.Errorf("insert mapping: %w", err)
	}
	return m, nil
}

// UpdateMapping applies the mutable subset of a mapping. An update with no
// mutable field at all is rejected rather than silently accepted.
func UpdateMapping(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string, update MappingUpdate) (*FieldMapping, error) {
	if update.Empty() {
		return nil, ValidationErrorf("no updatable field supplied; only transformation_type, transformation_rule_id, is_required, display_order and active can change")
	}

	m, err := GetMapping(ctx, q, d, tenantID, id)
	if err != nil {
		return nil, err
	}

	if update.TransformationType != nil {
		if !ValidTransformKind(*update.TransformationType) {
			return nil, ValidationErrorf("unknown transformation type %q", *update.TransformationType)
		}
		m.TransformationType = *update.TransformationType
	}
	if update.TransformationRuleID != nil {
		if *update.TransformationRuleID != "" {
			if _, err := GetRule(ctx, q, d, tenantID, *update.TransformationRuleID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, ValidationErrorf("transformation rule %s not found", *update.TransformationRuleID)
				}
				return nil, err
			}
		}
		m.TransformationRuleID = *update.TransformationRuleID
	}
	if m.TransformationType == TransformCustom && m.TransformationRuleID == "" {
		return nil, ValidationErrorf("custom transformation requires a transformation_rule_id")
	}
	if update.IsRequired != nil {
		m.IsRequired = *update.IsRequired
	}
	if update.DisplayOrder != nil {
		m.DisplayOrder = *update.DisplayOrder
	}
	if update.Active != nil {
		// Reactivating must not recreate a duplicate identity key.
		if *update.Active && !m.Active {
			exists, err := mappingExists(ctx, q, d, tenantID, m.SourceEntity, m.TargetEntity, m.SourceField, m.TargetField, m.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ValidationErrorf(
					"an active mapping from %s.%s to %s.%s already exists",
					m.SourceEntity, m.SourceField, m.TargetEntity, m.TargetField)
			}
		}
		m.Active = *update.Active
	}

	pb := d.NewParamBuilder()
	_, err = store.Exec(ctx, q, fmt.Sprintf(
		`UPDATE field_mapping_configurations
		 SET transformation_type = %s, transformation_rule_id = %s, is_required = %s,
		     display_order = %s, active = %s, updated_at = %s
		 WHERE id = %s AND tenant_id = %s`,
		pb.Add(m.TransformationType), pb.Add(nullIfEmpty(m.TransformationRuleID)), pb.Add(m.IsRequired),
		pb.Add(m.DisplayOrder), pb.Add(m.Active), d.NowExpr(),
		pb.Add(m.ID), pb.Add(m.TenantID)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("update mapping: %w", err)
	}
	return m, nil
}

// DeleteMapping soft-deletes a mapping so conversion history keeps a valid
// reference.
func DeleteMapping(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) error {
	pb := d.NewParamBuilder()
	affected, err := store.Exec(ctx, q, fmt.Sprintf(
		`UPDATE field_mapping_configurations SET active = %s, updated_at = %s
		 WHERE id = %s AND tenant_id = %s AND active = %s`,
		pb.Add(false), d.NowExpr(), pb.Add(id), pb.Add(tenantID), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// BulkMappingUpdate pairs a mapping id with its update.
type BulkMappingUpdate struct {
	ID     string        `json:"id"`
	Update MappingUpdate `json:"update"`
}

// BulkUpdateMappings applies a batch of updates inside one transaction.
// Any failure rolls back the whole batch.
func BulkUpdateMappings(ctx context.Context, s *store.Store, tenantID string, updates []BulkMappingUpdate) ([]*FieldMapping, error) {
	if len(updates) == 0 {
		return nil, ValidationErrorf("no updates supplied")
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	results := make([]*FieldMapping, 0, len(updates))
	for i, u := range updates {
		if u.ID == "" {
			return nil, ValidationErrorf("updates[%d]: id is required", i)
		}
		m, err := UpdateMapping(ctx, tx, s.Dialect, tenantID, u.ID, u.Update)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotFoundError("field mapping", u.ID)
			}
			return nil, err
		}
		results = append(results, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk update: %w", err)
	}
	return results, nil
}

// ValidateMappingConfig checks a proposed set of mappings for duplicate
// identity keys without touching the database. Used by the dry-run
// validation endpoint.
func ValidateMappingConfig(mappings []MappingInput) []ErrorDetail {
	var details []ErrorDetail
	seen := make(map[string]int, len(mappings))
	for i, m := range mappings {
		sourceEntity := m.SourceEntity
		if sourceEntity == "" {
			sourceEntity = metadata.EntityLeads
		}
		if appErr := validateMappingInput(m); appErr != nil {
			for _, dd := range appErr.Details {
				dd.Message = fmt.Sprintf("mappings[%d]: %s", i, dd.Message)
				details = append(details, dd)
			}
		}
		key := sourceEntity + "\x00" + m.TargetEntity + "\x00" + m.SourceField + "\x00" + m.TargetField
		if prev, dup := seen[key]; dup {
			details = append(details, ErrorDetail{
				Field:   "mappings",
				Message: fmt.Sprintf("mappings[%d] duplicates mappings[%d]: %s.%s -> %s.%s", i, prev, sourceEntity, m.SourceField, m.TargetEntity, m.TargetField),
			})
			continue
		}
		seen[key] = i
	}
	return details
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
