package engine

import (
	"context"
	"fmt"

	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// AvailableFields returns the fields that can be mapped for an entity:
// the table-backed standard fields followed by the tenant's custom field
// definitions for that entity.
func AvailableFields(ctx context.Context, q store.Querier, d store.Dialect, tenantID, entity string) ([]metadata.FieldDef, error) {
	standard, ok := metadata.StandardFields[entity]
	if !ok {
		return nil, ValidationErrorf("unknown entity %q", entity)
	}

	fields := make([]metadata.FieldDef, 0, len(standard)+8)
	fields = append(fields, standard...)

	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q, fmt.Sprintf(
		`SELECT name, label, field_type FROM custom_field_definitions
		 WHERE tenant_id = %s AND entity = %s ORDER BY name`,
		pb.Add(tenantID), pb.Add(entity)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}

	for _, row := range rows {
		def := metadata.FieldDef{
			Name:   rowString(row, "name"),
			Label:  rowString(row, "label"),
			Type:   rowString(row, "field_type"),
			Custom: true,
		}
		if def.Label == "" {
			def.Label = def.Name
		}
		fields = append(fields, def)
	}
	return fields, nil
}
