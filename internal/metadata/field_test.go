package metadata

import "testing"

func TestValidTargetEntity(t *testing.T) {
	for _, entity := range []string{EntityContacts, EntityAccounts, EntityTransactions} {
		if !ValidTargetEntity(entity) {
			t.Fatalf("%s should be a valid target", entity)
		}
	}
	if ValidTargetEntity(EntityLeads) {
		t.Fatal("leads is a source, not a target")
	}
	if ValidTargetEntity("invoices") {
		t.Fatal("unknown entity should be invalid")
	}
}

func TestHasStandardField(t *testing.T) {
	if !HasStandardField(EntityContacts, "email") {
		t.Fatal("contacts.email is standard")
	}
	if HasStandardField(EntityContacts, "industry") {
		t.Fatal("contacts.industry is not standard")
	}
	if HasStandardField("invoices", "email") {
		t.Fatal("unknown entity has no fields")
	}
}

func TestLeadContactFieldsAreStandardOnBothSides(t *testing.T) {
	for _, f := range LeadContactFields {
		if !HasStandardField(EntityLeads, f) {
			t.Fatalf("%s missing on leads", f)
		}
		if !HasStandardField(EntityContacts, f) {
			t.Fatalf("%s missing on contacts", f)
		}
	}
}

func TestUserContextRoles(t *testing.T) {
	admin := &UserContext{Roles: []string{"admin"}}
	if !admin.IsAdmin() {
		t.Fatal("admin role not detected")
	}
	viewer := &UserContext{Roles: []string{"viewer"}}
	if viewer.IsAdmin() {
		t.Fatal("viewer must not be admin")
	}
	if !viewer.HasRole("viewer") {
		t.Fatal("role lookup failed")
	}
}
