package engine

import (
	"context"
	"errors"
	"fmt"

	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// Template types. System templates ship with the product and belong to no
// tenant; custom templates are tenant-owned snapshots.
const (
	TemplateSystem = "system"
	TemplateCustom = "custom"
)

// Template is a named bundle of mapping definitions.
type Template struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	TemplateType string          `json:"template_type"`
	Icon         string          `json:"icon,omitempty"`
	Color        string          `json:"color,omitempty"`
	Active       bool            `json:"active"`
	MappingCount int             `json:"mapping_count"`
	Items        []*TemplateItem `json:"items,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
}

// TemplateItem is one mapping definition inside a template. It mirrors the
// mapping identity and transformation fields but is not itself a live
// mapping until the template is applied.
type TemplateItem struct {
	ID                   string `json:"id"`
	TemplateID           string `json:"template_id"`
	MappingID            string `json:"mapping_id,omitempty"`
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
	DisplayLabel         string `json:"display_label,omitempty"`
	HelpText             string `json:"help_text,omitempty"`
	IsDefaultSelected    bool   `json:"is_default_selected"`
	DisplayOrder         int    `json:"display_order"`
}

const templateColumns = `id, tenant_id, name, description, template_type, icon, color, active, created_at, updated_at`

const templateItemColumns = `id, template_id, mapping_id, source_entity, source_field, source_field_type, source_field_path,
	target_entity, target_field, target_field_type, target_field_path,
	transformation_type, transformation_rule_id, default_value,
	display_label, help_text, is_default_selected, display_order`

func parseTemplateRow(row map[string]any) *Template {
	return &Template{
		ID:           rowString(row, "id"),
		TenantID:     rowString(row, "tenant_id"),
		Name:         rowString(row, "name"),
		Description:  rowString(row, "description"),
		TemplateType: rowString(row, "template_type"),
		Icon:         rowString(row, "icon"),
		Color:        rowString(row, "color"),
		Active:       rowBool(row, "active"),
		CreatedAt:    rowString(row, "created_at"),
		UpdatedAt:    rowString(row, "updated_at"),
	}
}

func parseTemplateItemRow(row map[string]any) *TemplateItem {
	return &TemplateItem{
		ID:                   rowString(row, "id"),
		TemplateID:           rowString(row, "template_id"),
		MappingID:            rowString(row, "mapping_id"),
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
		DisplayLabel:         rowString(row, "display_label"),
		HelpText:             rowString(row, "help_text"),
		IsDefaultSelected:    rowBool(row, "is_default_selected"),
		DisplayOrder:         rowInt(row, "display_order"),
	}
}

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	TemplateType string
	TargetEntity string
	Search       string
}

// ListTemplates returns system templates plus the tenant's own custom
// templates, each with its item count.
func ListTemplates(ctx context.Context, q store.Querier, d store.Dialect, tenantID string, filter TemplateFilter) ([]*Template, error) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(
		`SELECT %s FROM field_mapping_templates
		 WHERE active = %s AND (template_type = '%s' OR tenant_id = %s)`,
		templateColumns, pb.Add(true), TemplateSystem, pb.Add(tenantID))
	if filter.TemplateType != "" {
		sql += " AND template_type = " + pb.Add(filter.TemplateType)
	}
	if filter.Search != "" {
		sql += " AND (name LIKE " + pb.Add("%"+filter.Search+"%") +
			" OR description LIKE " + pb.Add("%"+filter.Search+"%") + ")"
	}
	sql += " ORDER BY template_type, name"

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]*Template, 0, len(rows))
	for _, row := range rows {
		templates = append(templates, parseTemplateRow(row))
	}

	for _, tpl := range templates {
		items, err := templateItems(ctx, q, d, tpl.ID)
		if err != nil {
			return nil, err
		}
		if filter.TargetEntity != "" {
			kept := items[:0]
			for _, it := range items {
				if it.TargetEntity == filter.TargetEntity {
					kept = append(kept, it)
				}
			}
			items = kept
		}
		tpl.MappingCount = len(items)
	}

	if filter.TargetEntity != "" {
		kept := templates[:0]
		for _, tpl := range templates {
			if tpl.MappingCount > 0 {
				kept = append(kept, tpl)
			}
		}
		templates = kept
	}
	return templates, nil
}

func templateItems(ctx context.Context, q store.Querier, d store.Dialect, templateID string) ([]*TemplateItem, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q, fmt.Sprintf(
		`SELECT %s FROM field_mapping_template_items WHERE template_id = %s ORDER BY display_order, source_field`,
		templateItemColumns, pb.Add(templateID)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list template items: %w", err)
	}
	items := make([]*TemplateItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, parseTemplateItemRow(row))
	}
	return items, nil
}

// GetTemplate loads one template with its items. Visible templates are
// system ones and the tenant's own.
func GetTemplate(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) (*Template, error) {
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, q, fmt.Sprintf(
		`SELECT %s FROM field_mapping_templates
		 WHERE id = %s AND (template_type = '%s' OR tenant_id = %s)`,
		templateColumns, pb.Add(id), TemplateSystem, pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	tpl := parseTemplateRow(row)

	items, err := templateItems(ctx, q, d, tpl.ID)
	if err != nil {
		return nil, err
	}
	tpl.Items = items
	tpl.MappingCount = len(items)
	return tpl, nil
}

// TemplateInput carries create fields for a custom template.
type TemplateInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Color       string   `json:"color"`
	MappingIDs  []string `json:"mapping_ids"`
}

// CreateTemplateFromMappings snapshots a set of the tenant's mappings into
// a new custom template. The snapshot copies definitions; later edits to
// the source mappings do not alter the template.
func CreateTemplateFromMappings(ctx context.Context, s *store.Store, tenantID string, input TemplateInput) (*Template, error) {
	if input.Name == "" {
		return nil, ValidationErrorf("template name is required")
	}
	if len(input.MappingIDs) == 0 {
		return nil, ValidationErrorf("at least one mapping_id is required")
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	d := s.Dialect

	tpl := &Template{
		ID:           store.GenerateUUID(),
		TenantID:     tenantID,
		Name:         input.Name,
		Description:  input.Description,
		TemplateType: TemplateCustom,
		Icon:         input.Icon,
		Color:        input.Color,
		Active:       true,
	}

	pb := d.NewParamBuilder()
	_, err = store.Exec(ctx, tx, fmt.Sprintf(
		`INSERT INTO field_mapping_templates (id, tenant_id, name, description, template_type, icon, color, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(tpl.ID), pb.Add(tpl.TenantID), pb.Add(tpl.Name), pb.Add(tpl.Description),
		pb.Add(tpl.TemplateType), pb.Add(tpl.Icon), pb.Add(tpl.Color), pb.Add(tpl.Active)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	for order, mappingID := range input.MappingIDs {
		m, err := GetMapping(ctx, tx, d, tenantID, mappingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotFoundError("field mapping", mappingID)
			}
			return nil, err
		}

		item := &TemplateItem{
			ID:                   store.GenerateUUID(),
			TemplateID:           tpl.ID,
			MappingID:            m.ID,
			SourceEntity:         m.SourceEntity,
			SourceField:          m.SourceField,
			SourceFieldType:      m.SourceFieldType,
			SourceFieldPath:      m.SourceFieldPath,
			TargetEntity:         m.TargetEntity,
			TargetField:          m.TargetField,
			TargetFieldType:      m.TargetFieldType,
			TargetFieldPath:      m.TargetFieldPath,
			TransformationType:   m.TransformationType,
			TransformationRuleID: m.TransformationRuleID,
			DefaultValue:         m.DefaultValue,
			DisplayLabel:         m.DisplayLabel,
			HelpText:             m.HelpText,
			IsDefaultSelected:    true,
			DisplayOrder:         order,
		}

		ipb := d.NewParamBuilder()
		_, err = store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO field_mapping_template_items
			 (id, template_id, mapping_id, source_entity, source_field, source_field_type, source_field_path,
			  target_entity, target_field, target_field_type, target_field_path,
			  transformation_type, transformation_rule_id, default_value,
			  display_label, help_text, is_default_selected, display_order)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			ipb.Add(item.ID), ipb.Add(item.TemplateID), ipb.Add(nullIfEmpty(item.MappingID)),
			ipb.Add(item.SourceEntity), ipb.Add(item.SourceField), ipb.Add(item.SourceFieldType), ipb.Add(item.SourceFieldPath),
			ipb.Add(item.TargetEntity), ipb.Add(item.TargetField), ipb.Add(item.TargetFieldType), ipb.Add(item.TargetFieldPath),
			ipb.Add(item.TransformationType), ipb.Add(nullIfEmpty(item.TransformationRuleID)), ipb.Add(item.DefaultValue),
			ipb.Add(item.DisplayLabel), ipb.Add(item.HelpText), ipb.Add(item.IsDefaultSelected), ipb.Add(item.DisplayOrder)),
			ipb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("insert template item: %w", err)
		}
		tpl.Items = append(tpl.Items, item)
	}
	tpl.MappingCount = len(tpl.Items)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit template: %w", err)
	}
	return tpl, nil
}

// ApplyResult summarizes a template application.
type ApplyResult struct {
	TemplateID string `json:"template_id"`
	Created    int    `json:"created"`
	Skipped    int    `json:"skipped"`
}

// ApplyTemplate materializes a template's items as live mappings for the
// tenant inside one transaction. An item whose identity key already exists
// is skipped, or updated in place when override is set (updates count as
// created). Any failure rolls the whole application back.
func ApplyTemplate(ctx context.Context, s *store.Store, tenantID, templateID string, override bool) (*ApplyResult, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	d := s.Dialect

	tpl, err := GetTemplate(ctx, tx, d, tenantID, templateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("template", templateID)
		}
		return nil, err
	}

	result := &ApplyResult{TemplateID: tpl.ID}
	for _, item := range tpl.Items {
		sourceEntity := item.SourceEntity
		if sourceEntity == "" {
			sourceEntity = metadata.EntityLeads
		}

		pb := d.NewParamBuilder()
		existing, err := store.QueryRows(ctx, tx, fmt.Sprintf(
			`SELECT id FROM field_mapping_configurations
			 WHERE tenant_id = %s AND source_entity = %s AND target_entity = %s
			   AND source_field = %s AND target_field = %s AND active = %s`,
			pb.Add(tenantID), pb.Add(sourceEntity), pb.Add(item.TargetEntity),
			pb.Add(item.SourceField), pb.Add(item.TargetField), pb.Add(true)),
			pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("template apply lookup: %w", err)
		}

		if len(existing) > 0 {
			if !override {
				result.Skipped++
				continue
			}
			upb := d.NewParamBuilder()
			_, err = store.Exec(ctx, tx, fmt.Sprintf(
				`UPDATE field_mapping_configurations
				 SET source_field_type = %s, source_field_path = %s,
				     target_field_type = %s, target_field_path = %s,
				     transformation_type = %s, transformation_rule_id = %s, default_value = %s,
				     display_label = %s, help_text = %s, display_order = %s, updated_at = %s
				 WHERE id = %s`,
				upb.Add(item.SourceFieldType), upb.Add(item.SourceFieldPath),
				upb.Add(item.TargetFieldType), upb.Add(item.TargetFieldPath),
				upb.Add(item.TransformationType), upb.Add(nullIfEmpty(item.TransformationRuleID)), upb.Add(item.DefaultValue),
				upb.Add(item.DisplayLabel), upb.Add(item.HelpText), upb.Add(item.DisplayOrder), d.NowExpr(),
				upb.Add(rowString(existing[0], "id"))),
				upb.Params()...)
			if err != nil {
				return nil, fmt.Errorf("template apply update: %w", err)
			}
			result.Created++
			continue
		}

		ipb := d.NewParamBuilder()
		_, err = store.Exec(ctx, tx, fmt.Sprintf(
			`INSERT INTO field_mapping_configurations
			 (id, tenant_id, source_entity, source_field, source_field_type, source_field_path,
			  target_entity, target_field, target_field_type, target_field_path,
			  transformation_type, transformation_rule_id, default_value,
			  is_editable, is_required, is_visible, display_order, display_label, help_text, active)
			 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			ipb.Add(store.GenerateUUID()), ipb.Add(tenantID), ipb.Add(sourceEntity),
			ipb.Add(item.SourceField), ipb.Add(item.SourceFieldType), ipb.Add(item.SourceFieldPath),
			ipb.Add(item.TargetEntity), ipb.Add(item.TargetField), ipb.Add(item.TargetFieldType), ipb.Add(item.TargetFieldPath),
			ipb.Add(item.TransformationType), ipb.Add(nullIfEmpty(item.TransformationRuleID)), ipb.Add(item.DefaultValue),
			ipb.Add(true), ipb.Add(false), ipb.Add(true),
			ipb.Add(item.DisplayOrder), ipb.Add(item.DisplayLabel), ipb.Add(item.HelpText), ipb.Add(true)),
			ipb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("template apply insert: %w", err)
		}
		result.Created++
	}

	if err := IncrementStat(ctx, tx, d, tenantID, tpl.ID, StatTemplateApplied); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit template apply: %w", err)
	}
	return result, nil
}

// DeleteTemplate soft-deletes a tenant-owned custom template. System
// templates cannot be deleted.
func DeleteTemplate(ctx context.Context, q store.Querier, d store.Dialect, tenantID, id string) error {
	tpl, err := GetTemplate(ctx, q, d, tenantID, id)
	if err != nil {
		return err
	}
	if tpl.TemplateType == TemplateSystem {
		return ForbiddenError("system templates cannot be deleted")
	}
	if tpl.TenantID != tenantID {
		return store.ErrNotFound
	}

	pb := d.NewParamBuilder()
	affected, err := store.Exec(ctx, q, fmt.Sprintf(
		`UPDATE field_mapping_templates SET active = %s, updated_at = %s
		 WHERE id = %s AND tenant_id = %s AND active = %s`,
		pb.Add(false), d.NowExpr(), pb.Add(id), pb.Add(tenantID), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
