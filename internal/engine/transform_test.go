package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestApplyBuiltin(t *testing.T) {
	tests := []struct {
		kind string
		in   any
		want any
	}{
		{TransformNone, "As Is", "As Is"},
		{TransformLowercase, "ACME Corp", "acme corp"},
		{TransformUppercase, "acme corp", "ACME CORP"},
		{TransformTitleCase, "acme WIDGETS inc", "Acme Widgets Inc"},
		{TransformSentenceCase, "hELLO WORLD", "Hello world"},
		{TransformTrim, "  padded  ", "padded"},
		{TransformRemoveSpecial, "a-b_c!d 9", "abcd 9"},
		{TransformUppercase, float64(12), "12"},
	}
	for _, tc := range tests {
		if got := ApplyBuiltin(tc.kind, tc.in); got != tc.want {
			t.Fatalf("ApplyBuiltin(%s, %v) = %v, want %v", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestValidTransformKind(t *testing.T) {
	for _, kind := range []string{TransformNone, TransformLowercase, TransformUppercase,
		TransformTitleCase, TransformSentenceCase, TransformTrim, TransformRemoveSpecial, TransformCustom} {
		if !ValidTransformKind(kind) {
			t.Fatalf("%s should be valid", kind)
		}
	}
	if ValidTransformKind("reverse") {
		t.Fatal("unknown kind should be invalid")
	}
}

func TestTransformerApplyCustomRule(t *testing.T) {
	tr := newTestTransformer()
	ctx := context.Background()

	rule := &TransformationRule{
		ID:          "r1",
		Code:        `upper(value)`,
		Active:      true,
		IsValidated: true,
	}
	got := tr.Apply(ctx, "acme corp", TransformCustom, rule, nil)
	if got != "ACME CORP" {
		t.Fatalf("custom rule result = %v", got)
	}
}

func TestTransformerApplyUsesRecord(t *testing.T) {
	tr := newTestTransformer()

	rule := &TransformationRule{
		ID:          "r2",
		Code:        `record.company + ": " + value`,
		Active:      true,
		IsValidated: true,
	}
	got := tr.Apply(context.Background(), "Widget", TransformCustom, rule, map[string]any{"company": "Acme"})
	if got != "Acme: Widget" {
		t.Fatalf("record-aware rule result = %v", got)
	}
}

func TestTransformerApplyDegradesToOriginal(t *testing.T) {
	tr := newTestTransformer()
	ctx := context.Background()

	// Runtime failure keeps the original value.
	failing := &TransformationRule{ID: "r3", Code: `value / 0`, Active: true, IsValidated: true}
	if got := tr.Apply(ctx, "original", TransformCustom, failing, nil); got != "original" {
		t.Fatalf("failing rule should keep original, got %v", got)
	}

	// Unvalidated rules are skipped.
	unvalidated := &TransformationRule{ID: "r4", Code: `upper(value)`, Active: true, IsValidated: false}
	if got := tr.Apply(ctx, "original", TransformCustom, unvalidated, nil); got != "original" {
		t.Fatalf("unvalidated rule should keep original, got %v", got)
	}

	// Forbidden constructs are rejected even on a validated rule.
	forbidden := &TransformationRule{ID: "r5", Code: `process.env`, Active: true, IsValidated: true}
	if got := tr.Apply(ctx, "original", TransformCustom, forbidden, nil); got != "original" {
		t.Fatalf("denylisted rule should keep original, got %v", got)
	}

	// A missing rule on a custom mapping keeps the original.
	if got := tr.Apply(ctx, "original", TransformCustom, nil, nil); got != "original" {
		t.Fatalf("nil rule should keep original, got %v", got)
	}
}

func TestTransformerApplyEnforcesTimeBudget(t *testing.T) {
	tr := newTestTransformer()
	ctx := context.Background()

	// Hundreds of thousands of closure evaluations cannot finish inside a
	// 1ms budget; the wall-clock timer fires and the original value stays.
	slow := &TransformationRule{
		ID:          "r6",
		Code:        `count(1..400000, {# % 7 == 0})`,
		Active:      true,
		IsValidated: true,
		TimeoutMs:   1,
	}
	if got := tr.Apply(ctx, "original", TransformCustom, slow, nil); got != "original" {
		t.Fatalf("budget expiry should keep original, got %v", got)
	}

	// The test-execution path surfaces the expiry as an error instead.
	_, err := tr.Execute(ctx, slow.Code, "original", nil, 1)
	if err == nil || !strings.Contains(err.Error(), "budget") {
		t.Fatalf("expected a budget error, got %v", err)
	}
}

func TestValidateCode(t *testing.T) {
	tr := newTestTransformer()
	ctx := context.Background()

	if err := tr.ValidateCode(ctx, `lower(trim(value))`, TypeText); err != nil {
		t.Fatalf("valid code rejected: %v", err)
	}
	if err := tr.ValidateCode(ctx, "", TypeText); err == nil {
		t.Fatal("empty code should be rejected")
	}
	if err := tr.ValidateCode(ctx, `require("fs")`, TypeText); err == nil {
		t.Fatal("denylisted code should be rejected")
	}
	if err := tr.ValidateCode(ctx, `value +`, TypeText); err == nil {
		t.Fatal("code with a syntax error should be rejected")
	}
	if err := tr.ValidateCode(ctx, `value / 0`, TypeText); err == nil {
		t.Fatal("code failing on the sample value should be rejected")
	}
}

func TestBudgetFor(t *testing.T) {
	tr := newTestTransformer()

	if got := tr.budgetFor(&TransformationRule{TimeoutMs: 0}); got != time.Second {
		t.Fatalf("zero timeout should use default, got %v", got)
	}
	if got := tr.budgetFor(&TransformationRule{TimeoutMs: 250}); got != 250*time.Millisecond {
		t.Fatalf("in-range timeout = %v", got)
	}
	if got := tr.budgetFor(&TransformationRule{TimeoutMs: 60000}); got != 5*time.Second {
		t.Fatalf("oversized timeout should clamp to max, got %v", got)
	}
}

func TestScanDenylist(t *testing.T) {
	clean := []string{`upper(value)`, `record.company`, `value + " suffix"`}
	for _, code := range clean {
		if hit := scanDenylist(code); hit != "" {
			t.Fatalf("clean code %q flagged as %q", code, hit)
		}
	}

	dirty := map[string]string{
		`require("fs")`:   "dynamic module loading",
		`eval("1")`:       "dynamic code evaluation",
		`fs.readFile`:     "filesystem access",
		`globalThis.proc`: "global environment access",
	}
	for code, want := range dirty {
		if hit := scanDenylist(code); hit != want {
			t.Fatalf("scanDenylist(%q) = %q, want %q", code, hit, want)
		}
	}
}
