package metadata

// FieldDef describes one field available as a mapping source or target.
type FieldDef struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Type   string `json:"type"` // text, number, date, boolean, object, array
	Custom bool   `json:"custom"`
}

// Entity names recognized by the conversion core.
const (
	EntityLeads        = "leads"
	EntityContacts     = "contacts"
	EntityAccounts     = "accounts"
	EntityTransactions = "transactions"
)

// ValidTargetEntity reports whether name is an entity mappings may write to.
func ValidTargetEntity(name string) bool {
	return name == EntityContacts || name == EntityAccounts || name == EntityTransactions
}

// StandardFields lists the table-backed fields per entity, used by field
// discovery and by mapping validation. Custom fields come from the
// custom_field_definitions catalog on top of these.
var StandardFields = map[string][]FieldDef{
	EntityLeads: {
		{Name: "first_name", Label: "First Name", Type: "text"},
		{Name: "last_name", Label: "Last Name", Type: "text"},
		{Name: "email", Label: "Email", Type: "text"},
		{Name: "phone", Label: "Phone", Type: "text"},
		{Name: "company", Label: "Company", Type: "text"},
		{Name: "title", Label: "Job Title", Type: "text"},
		{Name: "website", Label: "Website", Type: "text"},
		{Name: "address_line1", Label: "Address Line 1", Type: "text"},
		{Name: "address_line2", Label: "Address Line 2", Type: "text"},
		{Name: "city", Label: "City", Type: "text"},
		{Name: "state", Label: "State", Type: "text"},
		{Name: "postal_code", Label: "Postal Code", Type: "text"},
		{Name: "country", Label: "Country", Type: "text"},
		{Name: "source", Label: "Lead Source", Type: "text"},
		{Name: "notes", Label: "Notes", Type: "text"},
	},
	EntityContacts: {
		{Name: "first_name", Label: "First Name", Type: "text"},
		{Name: "last_name", Label: "Last Name", Type: "text"},
		{Name: "email", Label: "Email", Type: "text"},
		{Name: "phone", Label: "Phone", Type: "text"},
		{Name: "company", Label: "Company", Type: "text"},
		{Name: "title", Label: "Job Title", Type: "text"},
		{Name: "website", Label: "Website", Type: "text"},
		{Name: "address_line1", Label: "Address Line 1", Type: "text"},
		{Name: "address_line2", Label: "Address Line 2", Type: "text"},
		{Name: "city", Label: "City", Type: "text"},
		{Name: "state", Label: "State", Type: "text"},
		{Name: "postal_code", Label: "Postal Code", Type: "text"},
		{Name: "country", Label: "Country", Type: "text"},
		{Name: "source", Label: "Source", Type: "text"},
	},
	EntityAccounts: {
		{Name: "name", Label: "Account Name", Type: "text"},
		{Name: "status", Label: "Status", Type: "text"},
		{Name: "billing_cycle", Label: "Billing Cycle", Type: "text"},
		{Name: "billing_term_months", Label: "Billing Term (months)", Type: "number"},
		{Name: "amount", Label: "Amount", Type: "number"},
		{Name: "currency", Label: "Currency", Type: "text"},
	},
	EntityTransactions: {
		{Name: "amount", Label: "Amount", Type: "number"},
		{Name: "currency", Label: "Currency", Type: "text"},
		{Name: "method", Label: "Payment Method", Type: "text"},
		{Name: "reference", Label: "Reference", Type: "text"},
	},
}

// HasStandardField reports whether entity has a table-backed field with
// the given name.
func HasStandardField(entity, name string) bool {
	for _, f := range StandardFields[entity] {
		if f.Name == name {
			return true
		}
	}
	return false
}

// LeadContactFields is the canonical lead-to-contact copy list. Both the
// legacy direct-copy path and the mapping-path fallback merge use this
// single list, so conversion output does not depend on which path ran.
var LeadContactFields = []string{
	"first_name", "last_name", "email", "phone",
	"company", "title", "website",
	"address_line1", "address_line2", "city", "state", "postal_code", "country",
	"source",
}
