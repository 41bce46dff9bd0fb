package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// Billing terms recognized on account creation. Unrecognized terms fall
// back to monthly.
var billingTerms = map[int]string{
	1:  "monthly",
	3:  "quarterly",
	6:  "semi_annual",
	12: "annual",
	24: "biennial",
}

const trialDays = 30

// AccountOptions carries the optional account to open during conversion.
type AccountOptions struct {
	Name       string  `json:"name"`
	ProductID  string  `json:"product_id"`
	TermMonths int     `json:"term_months"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	IsTrial    bool    `json:"is_trial"`
}

// TransactionOptions carries the optional payment to record during
// conversion.
type TransactionOptions struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

// ConvertOptions steers one lead conversion.
type ConvertOptions struct {
	// ExistingContactID links the lead to an existing contact instead of
	// creating a new one.
	ExistingContactID string `json:"existing_contact_id"`
	RelationshipType  string `json:"relationship_type"`
	Interest          string `json:"interest"`

	CreateAccount bool           `json:"create_account"`
	Account       AccountOptions `json:"account"`

	CreateTransaction bool               `json:"create_transaction"`
	Transaction       TransactionOptions `json:"transaction"`

	// TemplateID restricts the conversion to mappings whose identity key
	// appears in the template, when set.
	TemplateID string `json:"template_id"`

	// FieldOverrides replaces mapped values the operator edited before
	// confirming the conversion, keyed by "target_entity.target_field".
	FieldOverrides map[string]any `json:"field_overrides"`

	ConvertedBy string `json:"-"`
}

// ConvertResult reports what one conversion produced.
type ConvertResult struct {
	LeadID        string         `json:"lead_id"`
	Contact       map[string]any `json:"contact"`
	Account       map[string]any `json:"account,omitempty"`
	Transaction   map[string]any `json:"transaction,omitempty"`
	IsNewContact  bool           `json:"is_new_contact"`
	UsedMappings  bool           `json:"used_mappings"`
	FieldsApplied int            `json:"fields_applied"`
}

// Converter runs the lead conversion pipeline.
type Converter struct {
	store       *store.Store
	transformer *Transformer
}

func NewConverter(s *store.Store, t *Transformer) *Converter {
	return &Converter{store: s, transformer: t}
}

// fieldOutcome records one mapped field for history and statistics.
type fieldOutcome struct {
	mapping          *FieldMapping
	sourceValue      any
	transformedValue any
	finalValue       any
	wasTransformed   bool
	wasEdited        bool
}

// Convert turns a lead into a contact (and optionally an account and a
// transaction) inside one transaction. The lead row is locked first; a
// lead already converted fails with a conflict and nothing else is
// touched. With zero active mappings the legacy direct-copy path runs
// instead of the mapping pipeline.
func (c *Converter) Convert(ctx context.Context, tenantID, leadID string, opts ConvertOptions) (*ConvertResult, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	lead, err := c.lockLead(ctx, tx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if rowString(lead, "status") == "converted" {
		return nil, ConflictError(fmt.Sprintf("lead %s is already converted", leadID))
	}

	record := leadRecord(lead)

	mappings, err := c.conversionMappings(ctx, tx, tenantID, opts.TemplateID)
	if err != nil {
		return nil, err
	}

	result := &ConvertResult{LeadID: leadID, UsedMappings: len(mappings) > 0}

	var outcomes []fieldOutcome
	targets := map[string]map[string]any{
		metadata.EntityContacts:     {},
		metadata.EntityAccounts:     {},
		metadata.EntityTransactions: {},
	}

	if len(mappings) > 0 {
		rules, err := c.rulesFor(ctx, tx, tenantID, mappings)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			outcome := c.applyMapping(ctx, m, record, rules, opts.FieldOverrides)
			if outcome == nil {
				continue
			}
			bucket, ok := targets[m.TargetEntity]
			if !ok {
				continue
			}
			if m.TargetFieldPath != "" {
				SetByPath(bucket, m.TargetFieldPath, outcome.finalValue)
			} else {
				bucket[m.TargetField] = outcome.finalValue
			}
			outcomes = append(outcomes, *outcome)
		}
		result.FieldsApplied = len(outcomes)
	}

	var contactID string
	if opts.ExistingContactID != "" {
		contactID, err = c.linkExistingContact(ctx, tx, tenantID, leadID, opts)
		if err != nil {
			return nil, err
		}
		result.IsNewContact = false
	} else {
		contactID, err = c.createContact(ctx, tx, tenantID, leadID, record, targets[metadata.EntityContacts])
		if err != nil {
			return nil, err
		}
		result.IsNewContact = true
	}

	if err := c.markLeadConverted(ctx, tx, tenantID, leadID, contactID, opts); err != nil {
		return nil, err
	}

	var accountID string
	if opts.CreateAccount {
		accountID, err = c.createAccount(ctx, tx, tenantID, contactID, opts.Account, targets[metadata.EntityAccounts])
		if err != nil {
			return nil, err
		}
	}

	if opts.CreateTransaction {
		if accountID == "" {
			return nil, ValidationErrorf("a transaction requires create_account")
		}
		if err := c.createTransaction(ctx, tx, tenantID, accountID, contactID, opts.Transaction, targets[metadata.EntityTransactions]); err != nil {
			return nil, err
		}
	}

	for _, o := range outcomes {
		if err := c.recordOutcome(ctx, tx, tenantID, leadID, contactID, accountID, o, opts.ConvertedBy); err != nil {
			return nil, err
		}
	}

	result.Contact, err = c.loadByID(ctx, tx, "contacts", tenantID, contactID)
	if err != nil {
		return nil, err
	}
	if accountID != "" {
		result.Account, err = c.loadByID(ctx, tx, "accounts", tenantID, accountID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conversion: %w", err)
	}
	return result, nil
}

// lockLead reads the lead row with an exclusive lock where the engine
// supports one, so two concurrent conversions of the same lead serialize.
func (c *Converter) lockLead(ctx context.Context, tx *sql.Tx, tenantID, leadID string) (map[string]any, error) {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx, fmt.Sprintf(
		`SELECT * FROM leads WHERE id = %s AND tenant_id = %s%s`,
		pb.Add(leadID), pb.Add(tenantID), d.RowLockSuffix()),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("lead", leadID)
		}
		return nil, err
	}
	return row, nil
}

// leadRecord flattens a lead row into the record handed to path lookup
// and the sandbox: scalar columns stay top-level, custom_fields becomes a
// nested map.
func leadRecord(lead map[string]any) map[string]any {
	record := make(map[string]any, len(lead))
	for k, v := range lead {
		if t, ok := v.(time.Time); ok {
			record[k] = t.Format(time.RFC3339)
			continue
		}
		record[k] = v
	}
	record["custom_fields"] = rowJSONMap(lead, "custom_fields")
	return record
}

// conversionMappings loads the tenant's active lead mappings, restricted
// to the template's identity keys when a template id is given.
func (c *Converter) conversionMappings(ctx context.Context, tx *sql.Tx, tenantID, templateID string) ([]*FieldMapping, error) {
	d := c.store.Dialect
	mappings, err := ListMappings(ctx, tx, d, tenantID, MappingFilter{SourceEntity: metadata.EntityLeads})
	if err != nil {
		return nil, err
	}
	if templateID == "" {
		return mappings, nil
	}

	tpl, err := GetTemplate(ctx, tx, d, tenantID, templateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("template", templateID)
		}
		return nil, err
	}

	allowed := make(map[string]bool, len(tpl.Items))
	for _, item := range tpl.Items {
		allowed[item.SourceField+"\x00"+item.TargetEntity+"\x00"+item.TargetField] = true
	}

	kept := mappings[:0]
	for _, m := range mappings {
		if allowed[m.SourceField+"\x00"+m.TargetEntity+"\x00"+m.TargetField] {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// rulesFor preloads the transformation rules referenced by the mappings.
func (c *Converter) rulesFor(ctx context.Context, tx *sql.Tx, tenantID string, mappings []*FieldMapping) (map[string]*TransformationRule, error) {
	rules := make(map[string]*TransformationRule)
	for _, m := range mappings {
		if m.TransformationType != TransformCustom || m.TransformationRuleID == "" {
			continue
		}
		if _, ok := rules[m.TransformationRuleID]; ok {
			continue
		}
		rule, err := GetRule(ctx, tx, c.store.Dialect, tenantID, m.TransformationRuleID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("WARN: mapping %s references missing rule %s", m.ID, m.TransformationRuleID)
				continue
			}
			return nil, err
		}
		rules[rule.ID] = rule
	}
	return rules, nil
}

// applyMapping resolves, transforms and finalizes one mapped value.
// Returns nil when the mapping produced nothing (no source value and no
// default).
func (c *Converter) applyMapping(ctx context.Context, m *FieldMapping, record map[string]any, rules map[string]*TransformationRule, overrides map[string]any) *fieldOutcome {
	var sourceValue any
	var found bool
	if m.SourceFieldPath != "" {
		sourceValue, found = GetByPath(record, m.SourceFieldPath)
	} else {
		sourceValue, found = record[m.SourceField]
		if !found {
			sourceValue, found = GetByPath(record, "custom_fields."+m.SourceField)
		}
	}
	if !found || sourceValue == nil || sourceValue == "" {
		if m.DefaultValue == "" {
			return nil
		}
		sourceValue = nil
	}

	outcome := &fieldOutcome{mapping: m, sourceValue: sourceValue}

	value := sourceValue
	if value != nil && m.TransformationType != "" && m.TransformationType != TransformNone {
		rule := rules[m.TransformationRuleID]
		transformed := c.transformer.Apply(ctx, value, m.TransformationType, rule, record)
		if !equalValues(transformed, value) {
			outcome.wasTransformed = true
			outcome.transformedValue = transformed
		}
		value = transformed
	}

	if value == nil || value == "" {
		if m.DefaultValue == "" {
			return nil
		}
		value = ConvertToType(m.DefaultValue, m.TargetFieldType)
		if value == nil {
			value = m.DefaultValue
		}
	} else if converted := ConvertToType(value, m.TargetFieldType); converted != nil {
		value = converted
	}

	if overrides != nil {
		key := m.TargetEntity + "." + m.TargetField
		if edited, ok := overrides[key]; ok && !equalValues(edited, value) {
			value = edited
			outcome.wasEdited = true
		}
	}

	outcome.finalValue = value
	return outcome
}

func equalValues(a, b any) bool {
	return CoerceString(a) == CoerceString(b)
}

// createContact inserts the converted contact. Mapped values win; the
// canonical lead copy list fills any field the mappings left empty, so a
// sparse mapping set still yields a complete contact. The lead's
// custom-field bag carries over, with mapped custom values on top.
func (c *Converter) createContact(ctx context.Context, tx *sql.Tx, tenantID, leadID string, record map[string]any, mapped map[string]any) (string, error) {
	d := c.store.Dialect

	values := make(map[string]any, len(mapped)+len(metadata.LeadContactFields))
	customFields := map[string]any{}
	if bag, ok := record["custom_fields"].(map[string]any); ok {
		for k, v := range bag {
			customFields[k] = v
		}
	}
	for k, v := range mapped {
		if metadata.HasStandardField(metadata.EntityContacts, k) {
			values[k] = v
			continue
		}
		if m, ok := v.(map[string]any); ok && k == "custom_fields" {
			for ck, cv := range m {
				customFields[ck] = cv
			}
			continue
		}
		customFields[k] = v
	}
	for _, f := range metadata.LeadContactFields {
		if _, ok := values[f]; ok {
			continue
		}
		if v, ok := record[f]; ok && v != nil && v != "" {
			values[f] = v
		}
	}

	contactID := store.GenerateUUID()
	customJSON, err := json.Marshal(customFields)
	if err != nil {
		return "", fmt.Errorf("marshal custom fields: %w", err)
	}

	pb := d.NewParamBuilder()
	columns := "id, tenant_id, lead_id, custom_fields"
	placeholders := pb.Add(contactID) + ", " + pb.Add(tenantID) + ", " + pb.Add(leadID) + ", " + pb.Add(string(customJSON))
	for _, f := range metadata.StandardFields[metadata.EntityContacts] {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		columns += ", " + f.Name
		placeholders += ", " + pb.Add(CoerceString(v))
	}

	_, err = store.Exec(ctx, tx, fmt.Sprintf(
		`INSERT INTO contacts (%s) VALUES (%s)`, columns, placeholders),
		pb.Params()...)
	if err != nil {
		return "", fmt.Errorf("insert contact: %w", err)
	}
	return contactID, nil
}

// linkExistingContact verifies the target contact and records the
// lead-contact relationship instead of creating a new contact.
func (c *Converter) linkExistingContact(ctx context.Context, tx *sql.Tx, tenantID, leadID string, opts ConvertOptions) (string, error) {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	_, err := store.QueryRow(ctx, tx, fmt.Sprintf(
		`SELECT id FROM contacts WHERE id = %s AND tenant_id = %s`,
		pb.Add(opts.ExistingContactID), pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", NotFoundError("contact", opts.ExistingContactID)
		}
		return "", err
	}

	relType := opts.RelationshipType
	if relType == "" {
		relType = "related"
	}

	ipb := d.NewParamBuilder()
	_, err = store.Exec(ctx, tx, fmt.Sprintf(
		`INSERT INTO lead_contact_relationships (id, tenant_id, lead_id, contact_id, relationship_type)
		 VALUES (%s, %s, %s, %s, %s)`,
		ipb.Add(store.GenerateUUID()), ipb.Add(tenantID), ipb.Add(leadID),
		ipb.Add(opts.ExistingContactID), ipb.Add(relType)),
		ipb.Params()...)
	if err != nil {
		return "", fmt.Errorf("insert relationship: %w", err)
	}
	return opts.ExistingContactID, nil
}

func (c *Converter) markLeadConverted(ctx context.Context, tx *sql.Tx, tenantID, leadID, contactID string, opts ConvertOptions) error {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	_, err := store.Exec(ctx, tx, fmt.Sprintf(
		`UPDATE leads
		 SET status = 'converted', converted_contact_id = %s, converted_at = %s,
		     relationship_type = %s, interest = %s, updated_at = %s
		 WHERE id = %s AND tenant_id = %s`,
		pb.Add(contactID), d.NowExpr(),
		pb.Add(opts.RelationshipType), pb.Add(opts.Interest), d.NowExpr(),
		pb.Add(leadID), pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("mark lead converted: %w", err)
	}
	return nil
}

// createAccount opens an account for the contact. Mapped account values
// take priority over caller-supplied details; the billing cycle comes
// from the term lookup with a monthly fallback.
func (c *Converter) createAccount(ctx context.Context, tx *sql.Tx, tenantID, contactID string, opts AccountOptions, mapped map[string]any) (string, error) {
	d := c.store.Dialect

	name := orDefault(CoerceString(mapped["name"]), opts.Name)
	productID := opts.ProductID
	if productID == "" {
		productID, _ = c.defaultProductID(ctx, tx, tenantID)
	}

	termMonths := opts.TermMonths
	if v, ok := mapped["billing_term_months"]; ok {
		termMonths = int(toFloat(v))
	}
	cycle, ok := billingTerms[termMonths]
	if !ok {
		cycle = "monthly"
		termMonths = 1
	}

	amount := opts.Amount
	if v, ok := mapped["amount"]; ok {
		amount = toFloat(v)
	}
	currency := orDefault(CoerceString(mapped["currency"]), orDefault(opts.Currency, "USD"))

	accountID := store.GenerateUUID()
	pb := d.NewParamBuilder()
	sqlStr := `INSERT INTO accounts
		 (id, tenant_id, contact_id, product_id, name, status, billing_cycle, billing_term_months, amount, currency, is_trial`
	placeholders := fmt.Sprintf("%s, %s, %s, %s, %s, 'active', %s, %s, %s, %s, %s",
		pb.Add(accountID), pb.Add(tenantID), pb.Add(contactID), pb.Add(nullIfEmpty(productID)), pb.Add(name),
		pb.Add(cycle), pb.Add(termMonths), pb.Add(amount), pb.Add(currency), pb.Add(opts.IsTrial))

	if opts.IsTrial {
		now := time.Now().UTC()
		sqlStr += ", trial_starts_at, trial_ends_at"
		placeholders += ", " + pb.Add(now.Format(time.RFC3339)) + ", " + pb.Add(now.AddDate(0, 0, trialDays).Format(time.RFC3339))
	}
	sqlStr += ") VALUES (" + placeholders + ")"

	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert account: %w", err)
	}
	return accountID, nil
}

// defaultProductID returns the tenant's default active product, or the
// empty string when none is configured.
func (c *Converter) defaultProductID(ctx context.Context, tx *sql.Tx, tenantID string) (string, error) {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx, fmt.Sprintf(
		`SELECT id FROM products WHERE tenant_id = %s AND active = %s AND is_default = %s`,
		pb.Add(tenantID), pb.Add(true), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return rowString(row, "id"), nil
}

func (c *Converter) createTransaction(ctx context.Context, tx *sql.Tx, tenantID, accountID, contactID string, opts TransactionOptions, mapped map[string]any) error {
	d := c.store.Dialect

	amount := opts.Amount
	if v, ok := mapped["amount"]; ok {
		amount = toFloat(v)
	}
	currency := orDefault(CoerceString(mapped["currency"]), orDefault(opts.Currency, "USD"))
	method := orDefault(CoerceString(mapped["method"]), opts.Method)
	reference := orDefault(CoerceString(mapped["reference"]), opts.Reference)

	pb := d.NewParamBuilder()
	_, err := store.Exec(ctx, tx, fmt.Sprintf(
		`INSERT INTO transactions (id, tenant_id, account_id, contact_id, amount, currency, method, reference, status)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, 'completed')`,
		pb.Add(store.GenerateUUID()), pb.Add(tenantID), pb.Add(accountID), pb.Add(contactID),
		pb.Add(amount), pb.Add(currency), pb.Add(method), pb.Add(reference)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// recordOutcome writes the per-field audit row and bumps the mapping's
// usage counter. History and statistics exist only for the mapping path;
// the legacy copy path records nothing.
func (c *Converter) recordOutcome(ctx context.Context, tx *sql.Tx, tenantID, leadID, contactID, accountID string, o fieldOutcome, convertedBy string) error {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	_, err := store.Exec(ctx, tx, fmt.Sprintf(
		`INSERT INTO conversion_field_history
		 (id, tenant_id, lead_id, contact_id, account_id, mapping_id,
		  source_field, target_field, target_entity,
		  source_value, transformed_value, final_value,
		  was_transformed, was_edited, transformation_type, converted_by)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(store.GenerateUUID()), pb.Add(tenantID), pb.Add(leadID), pb.Add(contactID), pb.Add(nullIfEmpty(accountID)),
		pb.Add(o.mapping.ID), pb.Add(o.mapping.SourceField), pb.Add(o.mapping.TargetField), pb.Add(o.mapping.TargetEntity),
		pb.Add(CoerceString(o.sourceValue)), pb.Add(CoerceString(o.transformedValue)), pb.Add(CoerceString(o.finalValue)),
		pb.Add(o.wasTransformed), pb.Add(o.wasEdited), pb.Add(o.mapping.TransformationType), pb.Add(nullIfEmpty(convertedBy))),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("insert conversion history: %w", err)
	}
	return IncrementStat(ctx, tx, d, tenantID, o.mapping.ID, StatFieldConverted)
}

// loadByID reads one row back for the response payload.
func (c *Converter) loadByID(ctx context.Context, tx *sql.Tx, table, tenantID, id string) (map[string]any, error) {
	d := c.store.Dialect
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx, fmt.Sprintf(
		`SELECT * FROM %s WHERE id = %s AND tenant_id = %s`,
		table, pb.Add(id), pb.Add(tenantID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	if d.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active", "is_trial", "is_default"})
	}
	return row, nil
}

// ConversionHistory returns the per-field audit trail for one lead.
func ConversionHistory(ctx context.Context, q store.Querier, d store.Dialect, tenantID, leadID string) ([]map[string]any, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q, fmt.Sprintf(
		`SELECT * FROM conversion_field_history
		 WHERE tenant_id = %s AND lead_id = %s
		 ORDER BY created_at, target_entity, target_field`,
		pb.Add(tenantID), pb.Add(leadID)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load conversion history: %w", err)
	}
	if d.NeedsBoolFix() {
		store.NormalizeBooleans(rows, []string{"was_transformed", "was_edited"})
	}
	return rows, nil
}
