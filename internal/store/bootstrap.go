package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates all system tables and seeds the minimum data the
// server needs to be usable: one admin user, one default product and the
// shared system templates.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if err := s.seedSystemTemplates(ctx); err != nil {
		return fmt.Errorf("seed system templates: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tenantID := GenerateUUID()
	pb := s.Dialect.NewParamBuilder()
	_, err = s.DB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO users (id, tenant_id, email, password_hash, role) VALUES (%s, %s, %s, %s, 'admin')`,
			pb.Add(GenerateUUID()), pb.Add(tenantID), pb.Add("admin@localhost"), pb.Add(string(hashBytes))),
		pb.Params()...)
	if err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	_, err = s.DB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO products (id, tenant_id, name, active, is_default) VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(GenerateUUID()), pb.Add(tenantID), pb.Add("Standard License"), pb.Add(true), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return err
	}

	log.Printf("WARNING: Default admin user created (admin@localhost / changeme, tenant %s) - change the password immediately.", tenantID)
	return nil
}

// systemTemplateItem seeds one entry of the shared starter template.
type systemTemplateItem struct {
	sourceField string
	targetField string
	transform   string
	order       int
}

var leadEssentialsItems = []systemTemplateItem{
	{"first_name", "first_name", "trim", 1},
	{"last_name", "last_name", "trim", 2},
	{"email", "email", "lowercase", 3},
	{"phone", "phone", "trim", 4},
	{"company", "company", "trim", 5},
	{"title", "title", "trim", 6},
	{"website", "website", "lowercase", 7},
}

func (s *Store) seedSystemTemplates(ctx context.Context) error {
	var count int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM field_mapping_templates WHERE template_type = 'system'").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	templateID := GenerateUUID()
	pb := s.Dialect.NewParamBuilder()
	_, err = s.DB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO field_mapping_templates (id, tenant_id, name, description, template_type, icon, color)
		 VALUES (%s, NULL, %s, %s, 'system', %s, %s)`,
			pb.Add(templateID), pb.Add("Lead Essentials"),
			pb.Add("Standard lead-to-contact field mappings with basic cleanup"),
			pb.Add("user-plus"), pb.Add("#2563eb")),
		pb.Params()...)
	if err != nil {
		return err
	}

	for _, item := range leadEssentialsItems {
		pb := s.Dialect.NewParamBuilder()
		_, err = s.DB.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO field_mapping_template_items
			 (id, template_id, source_field, target_entity, target_field, transformation_type, display_order)
			 VALUES (%s, %s, %s, 'contacts', %s, %s, %s)`,
				pb.Add(GenerateUUID()), pb.Add(templateID), pb.Add(item.sourceField),
				pb.Add(item.targetField), pb.Add(item.transform), pb.Add(item.order)),
			pb.Params()...)
		if err != nil {
			return err
		}
	}

	log.Println("System templates seeded")
	return nil
}
