package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"crm-backend/internal/store"
)

func newTestConverter(s *store.Store) *Converter {
	return NewConverter(s, newTestTransformer())
}

func TestConvertLegacyDirectCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	leadID := seedLead(t, s, tenant, map[string]any{
		"first_name": "Jane",
		"last_name":  "Cooper",
		"email":      "jane@example.com",
		"company":    "Acme",
		"city":       "Springfield",
	})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.UsedMappings {
		t.Fatal("no mappings configured, legacy path expected")
	}
	if !result.IsNewContact {
		t.Fatal("expected a new contact")
	}
	for field, want := range map[string]string{
		"first_name": "Jane",
		"last_name":  "Cooper",
		"email":      "jane@example.com",
		"company":    "Acme",
		"city":       "Springfield",
	} {
		if got := result.Contact[field]; got != want {
			t.Fatalf("contact %s = %v, want %q", field, got, want)
		}
	}

	// The legacy path writes no per-field history.
	history, err := ConversionHistory(ctx, s.DB, s.Dialect, tenant, leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("legacy path should record no history, got %d rows", len(history))
	}
}

func TestConvertWithMappings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	company := mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:        "company",
		TargetEntity:       "contacts",
		TargetField:        "company",
		TransformationType: TransformUppercase,
	})
	mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:        "email",
		TargetEntity:       "contacts",
		TargetField:        "email",
		TransformationType: TransformLowercase,
	})
	mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:  "source",
		TargetEntity: "contacts",
		TargetField:  "source",
		DefaultValue: "unknown",
	})

	leadID := seedLead(t, s, tenant, map[string]any{
		"first_name": "Jane",
		"company":    "acme corp",
		"email":      "Jane@EXAMPLE.com",
	})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !result.UsedMappings {
		t.Fatal("mapping path expected")
	}
	if got := result.Contact["company"]; got != "ACME CORP" {
		t.Fatalf("company = %v, want ACME CORP", got)
	}
	if got := result.Contact["email"]; got != "jane@example.com" {
		t.Fatalf("email = %v", got)
	}
	if got := result.Contact["source"]; got != "unknown" {
		t.Fatalf("default value not applied, source = %v", got)
	}
	// Fields without a mapping still come over from the lead.
	if got := result.Contact["first_name"]; got != "Jane" {
		t.Fatalf("fallback copy missing, first_name = %v", got)
	}

	history, err := ConversionHistory(ctx, s.DB, s.Dialect, tenant, leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	var companyRow map[string]any
	for _, row := range history {
		if row["source_field"] == "company" {
			companyRow = row
		}
	}
	if companyRow == nil {
		t.Fatal("no history row for company")
	}
	if companyRow["source_value"] != "acme corp" || companyRow["final_value"] != "ACME CORP" {
		t.Fatalf("company history: %+v", companyRow)
	}
	if companyRow["was_transformed"] != true {
		t.Fatalf("was_transformed = %v", companyRow["was_transformed"])
	}

	// Each mapping's usage counter moved.
	stats, err := ListStats(ctx, s.DB, s.Dialect, tenant)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var companyCount int
	for _, st := range stats {
		if st.RefID == company.ID && st.EventType == StatFieldConverted {
			companyCount = st.EventCount
		}
	}
	if companyCount != 1 {
		t.Fatalf("field_converted count = %d, want 1", companyCount)
	}
}

func TestConvertAlreadyConverted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()
	c := newTestConverter(s)

	leadID := seedLead(t, s, tenant, map[string]any{"first_name": "Jane", "email": "jane@example.com"})

	if _, err := c.Convert(ctx, tenant, leadID, ConvertOptions{}); err != nil {
		t.Fatalf("first convert: %v", err)
	}

	_, err := c.Convert(ctx, tenant, leadID, ConvertOptions{})
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" {
		t.Fatalf("second convert should conflict, got %v", err)
	}

	// The guard left exactly one contact behind.
	rows, err := store.QueryRows(ctx, s.DB, "SELECT id FROM contacts WHERE tenant_id = ?1", tenant)
	if err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(rows))
	}
}

func TestConvertRollbackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	leadID := seedLead(t, s, tenant, map[string]any{"first_name": "Jane", "email": "jane@example.com"})

	// A transaction without an account fails after the contact insert;
	// everything must roll back.
	_, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{
		CreateTransaction: true,
		Transaction:       TransactionOptions{Amount: 99},
	})
	if err == nil {
		t.Fatal("transaction without account should fail")
	}

	rows, err := store.QueryRows(ctx, s.DB, "SELECT id FROM contacts WHERE tenant_id = ?1", tenant)
	if err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed conversion leaked %d contacts", len(rows))
	}

	lead, err := store.QueryRow(ctx, s.DB, "SELECT status FROM leads WHERE id = ?1", leadID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if lead["status"] != "new" {
		t.Fatalf("lead status = %v, want new", lead["status"])
	}

	// The lead converts cleanly afterwards.
	if _, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{}); err != nil {
		t.Fatalf("retry convert: %v", err)
	}
}

func TestConvertWithAccountTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()
	c := newTestConverter(s)

	terms := []struct {
		months    int
		wantCycle string
		wantTerm  int
	}{
		{3, "quarterly", 3},
		{12, "annual", 12},
		{7, "monthly", 1},
		{0, "monthly", 1},
	}
	for _, tc := range terms {
		leadID := seedLead(t, s, tenant, map[string]any{
			"first_name": "Jane",
			"email":      fmt.Sprintf("jane+%d@example.com", tc.months),
		})
		result, err := c.Convert(ctx, tenant, leadID, ConvertOptions{
			CreateAccount: true,
			Account:       AccountOptions{Name: "Acme", TermMonths: tc.months, Amount: 100},
		})
		if err != nil {
			t.Fatalf("convert with term %d: %v", tc.months, err)
		}
		if got := rowString(result.Account, "billing_cycle"); got != tc.wantCycle {
			t.Fatalf("term %d: billing_cycle = %s, want %s", tc.months, got, tc.wantCycle)
		}
		if got := rowInt(result.Account, "billing_term_months"); got != tc.wantTerm {
			t.Fatalf("term %d: billing_term_months = %d, want %d", tc.months, got, tc.wantTerm)
		}
	}
}

func TestConvertWithTrialAccountAndTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	leadID := seedLead(t, s, tenant, map[string]any{"first_name": "Jane", "email": "jane@example.com"})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{
		CreateAccount:     true,
		Account:           AccountOptions{Name: "Trial Account", IsTrial: true},
		CreateTransaction: true,
		Transaction:       TransactionOptions{Amount: 49.99, Method: "card"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !rowBool(result.Account, "is_trial") {
		t.Fatal("account should be a trial")
	}
	if rowString(result.Account, "trial_starts_at") == "" || rowString(result.Account, "trial_ends_at") == "" {
		t.Fatalf("trial window not stamped: %+v", result.Account)
	}
	// The default product from bootstrap would only match its own tenant;
	// for a fresh tenant the product reference stays empty.
	if got := rowString(result.Account, "product_id"); got != "" {
		t.Fatalf("unexpected product %q for fresh tenant", got)
	}

	txRows, err := store.QueryRows(ctx, s.DB,
		"SELECT amount, method, status FROM transactions WHERE tenant_id = ?1", tenant)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(txRows) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txRows))
	}
	if rowFloat(txRows[0], "amount") != 49.99 || txRows[0]["method"] != "card" {
		t.Fatalf("transaction row: %+v", txRows[0])
	}
}

func TestConvertLinkExistingContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	contactID := seedContact(t, s, tenant, map[string]any{
		"first_name": "Existing",
		"email":      "existing@example.com",
	})
	leadID := seedLead(t, s, tenant, map[string]any{"first_name": "Jane", "email": "jane@example.com"})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{
		ExistingContactID: contactID,
		RelationshipType:  "colleague",
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.IsNewContact {
		t.Fatal("linking must not create a contact")
	}
	if rowString(result.Contact, "id") != contactID {
		t.Fatalf("linked wrong contact: %v", result.Contact["id"])
	}

	rel, err := store.QueryRow(ctx, s.DB,
		"SELECT relationship_type FROM lead_contact_relationships WHERE lead_id = ?1 AND contact_id = ?2",
		leadID, contactID)
	if err != nil {
		t.Fatalf("load relationship: %v", err)
	}
	if rel["relationship_type"] != "colleague" {
		t.Fatalf("relationship_type = %v", rel["relationship_type"])
	}

	lead, err := store.QueryRow(ctx, s.DB, "SELECT status, converted_contact_id FROM leads WHERE id = ?1", leadID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if lead["status"] != "converted" || rowString(lead, "converted_contact_id") != contactID {
		t.Fatalf("lead not marked converted onto the contact: %+v", lead)
	}
}

func TestConvertCustomFieldPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:     "industry",
		SourceFieldPath: "custom_fields.industry",
		TargetEntity:    "contacts",
		TargetField:     "industry",
	})

	leadID := seedLead(t, s, tenant, map[string]any{
		"first_name":    "Jane",
		"email":         "jane@example.com",
		"custom_fields": `{"industry": "manufacturing"}`,
	})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	// industry is not a standard contact column, so it lands in the
	// contact's custom fields.
	custom := rowJSONMap(result.Contact, "custom_fields")
	if custom["industry"] != "manufacturing" {
		t.Fatalf("custom field not mapped: %+v", result.Contact["custom_fields"])
	}
}

func TestConvertFieldOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := store.GenerateUUID()

	mustCreateMapping(t, s, tenant, MappingInput{
		SourceField:        "company",
		TargetEntity:       "contacts",
		TargetField:        "company",
		TransformationType: TransformUppercase,
	})

	leadID := seedLead(t, s, tenant, map[string]any{
		"first_name": "Jane",
		"email":      "jane@example.com",
		"company":    "acme corp",
	})

	result, err := newTestConverter(s).Convert(ctx, tenant, leadID, ConvertOptions{
		FieldOverrides: map[string]any{"contacts.company": "Acme Corporation Ltd"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got := result.Contact["company"]; got != "Acme Corporation Ltd" {
		t.Fatalf("override not applied, company = %v", got)
	}

	history, err := ConversionHistory(ctx, s.DB, s.Dialect, tenant, leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	row := history[0]
	if row["was_edited"] != true {
		t.Fatalf("was_edited = %v", row["was_edited"])
	}
	if row["final_value"] != "Acme Corporation Ltd" {
		t.Fatalf("final_value = %v", row["final_value"])
	}
}

func TestConvertMissingLead(t *testing.T) {
	s := newTestStore(t)
	tenant := store.GenerateUUID()

	_, err := newTestConverter(s).Convert(context.Background(), tenant, store.GenerateUUID(), ConvertOptions{})
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("missing lead should be not found, got %v", err)
	}
}
