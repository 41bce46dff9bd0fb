package engine

import (
	"context"
	"fmt"

	"crm-backend/internal/store"
)

// Statistic event types.
const (
	StatFieldConverted  = "field_converted"
	StatTemplateApplied = "template_applied"
)

// IncrementStat bumps the usage counter for (refID, eventType) by one,
// creating the row on first use. The upsert is valid on both engines.
func IncrementStat(ctx context.Context, q store.Querier, d store.Dialect, tenantID, refID, eventType string) error {
	pb := d.NewParamBuilder()
	_, err := store.Exec(ctx, q, fmt.Sprintf(
		`INSERT INTO field_mapping_statistics (id, tenant_id, ref_id, event_type, event_count, last_event_at)
		 VALUES (%s, %s, %s, %s, 1, %s)
		 ON CONFLICT (tenant_id, ref_id, event_type)
		 DO UPDATE SET event_count = field_mapping_statistics.event_count + 1, last_event_at = %s`,
		pb.Add(store.GenerateUUID()), pb.Add(tenantID), pb.Add(refID), pb.Add(eventType),
		d.NowExpr(), d.NowExpr()),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("increment statistic: %w", err)
	}
	return nil
}

// MappingStat is one usage counter row.
type MappingStat struct {
	RefID       string `json:"ref_id"`
	EventType   string `json:"event_type"`
	EventCount  int    `json:"event_count"`
	LastEventAt string `json:"last_event_at"`
}

// ListStats returns a tenant's usage counters, most recently touched first.
func ListStats(ctx context.Context, q store.Querier, d store.Dialect, tenantID string) ([]*MappingStat, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q, fmt.Sprintf(
		`SELECT ref_id, event_type, event_count, last_event_at
		 FROM field_mapping_statistics WHERE tenant_id = %s
		 ORDER BY last_event_at DESC`,
		pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list statistics: %w", err)
	}

	stats := make([]*MappingStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, &MappingStat{
			RefID:       rowString(row, "ref_id"),
			EventType:   rowString(row, "event_type"),
			EventCount:  rowInt(row, "event_count"),
			LastEventAt: rowString(row, "last_event_at"),
		})
	}
	return stats, nil
}
