package engine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/expr-lang/expr/vm"

	"crm-backend/internal/config"
)

// Transformation kinds accepted by field mappings.
const (
	TransformNone          = "none"
	TransformLowercase     = "lowercase"
	TransformUppercase     = "uppercase"
	TransformTitleCase     = "title_case"
	TransformSentenceCase  = "sentence_case"
	TransformTrim          = "trim"
	TransformRemoveSpecial = "remove_special_characters"
	TransformCustom        = "custom"
)

// IsBuiltinTransform reports whether kind is one of the pure built-ins
// (including the identity kind "none").
func IsBuiltinTransform(kind string) bool {
	switch kind {
	case TransformNone, TransformLowercase, TransformUppercase, TransformTitleCase,
		TransformSentenceCase, TransformTrim, TransformRemoveSpecial:
		return true
	}
	return false
}

// ValidTransformKind reports whether kind is accepted on a mapping.
func ValidTransformKind(kind string) bool {
	return kind == TransformCustom || IsBuiltinTransform(kind)
}

// ApplyBuiltin runs a built-in transformation over the string-coerced
// input. Built-ins are total: they never fail.
func ApplyBuiltin(kind string, value any) any {
	if kind == TransformNone {
		return value
	}
	s := CoerceString(value)
	switch kind {
	case TransformLowercase:
		return strings.ToLower(s)
	case TransformUppercase:
		return strings.ToUpper(s)
	case TransformTitleCase:
		return titleCase(s)
	case TransformSentenceCase:
		return sentenceCase(s)
	case TransformTrim:
		return strings.TrimSpace(s)
	case TransformRemoveSpecial:
		return removeSpecial(s)
	}
	return value
}

// titleCase capitalizes the first letter of each word and lowers the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	startOfWord := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			startOfWord = true
			b.WriteRune(r)
			continue
		}
		if startOfWord {
			b.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// sentenceCase capitalizes the first character and lowers everything else.
func sentenceCase(s string) string {
	runes := []rune(strings.ToLower(s))
	for i, r := range runes {
		if !unicode.IsSpace(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}

// removeSpecial retains letters, digits and whitespace only.
func removeSpecial(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Transformer applies value transformations during conversion. Custom
// rules run in a sandboxed expression interpreter under a wall-clock
// budget; any failure degrades to the original value, never to an error.
// Compiled programs are cached by code string.
type Transformer struct {
	defaultBudget time.Duration
	maxBudget     time.Duration

	mu    sync.Mutex
	cache map[string]*vm.Program
}

func NewTransformer(cfg config.SandboxConfig) *Transformer {
	defaultBudget := time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond
	if defaultBudget <= 0 {
		defaultBudget = time.Second
	}
	maxBudget := time.Duration(cfg.MaxTimeoutMs) * time.Millisecond
	if maxBudget <= 0 {
		maxBudget = 5 * time.Second
	}
	return &Transformer{
		defaultBudget: defaultBudget,
		maxBudget:     maxBudget,
		cache:         make(map[string]*vm.Program),
	}
}

// Apply transforms a single mapped value. It never returns an error: on
// any failure the original value comes back and the failure is logged
// with the rule identity, so a broken rule cannot abort a conversion.
func (t *Transformer) Apply(ctx context.Context, value any, kind string, rule *TransformationRule, record map[string]any) any {
	if kind == "" || kind == TransformNone {
		return value
	}
	if IsBuiltinTransform(kind) {
		return ApplyBuiltin(kind, value)
	}
	if kind != TransformCustom {
		log.Printf("WARN: unknown transformation kind %q; keeping original value", kind)
		return value
	}

	if rule == nil {
		log.Printf("WARN: custom transformation requested without a rule; keeping original value")
		return value
	}
	if !rule.Active || !rule.IsValidated {
		log.Printf("WARN: skipping unvalidated or inactive transformation rule %s", rule.ID)
		return value
	}
	if rule.Code == "" {
		return value
	}
	if hit := scanDenylist(rule.Code); hit != "" {
		log.Printf("WARN: transformation rule %s contains forbidden construct (%s); keeping original value", rule.ID, hit)
		return value
	}

	result, err := t.runSandbox(ctx, rule.Code, value, record, t.budgetFor(rule))
	if err != nil {
		log.Printf("WARN: transformation rule %s failed: %v; keeping original value", rule.ID, err)
		return value
	}
	if result == nil {
		return value
	}
	return result
}

// budgetFor clamps a rule's declared time budget into the configured range.
func (t *Transformer) budgetFor(rule *TransformationRule) time.Duration {
	budget := time.Duration(rule.TimeoutMs) * time.Millisecond
	if budget <= 0 {
		return t.defaultBudget
	}
	if budget > t.maxBudget {
		return t.maxBudget
	}
	return budget
}
