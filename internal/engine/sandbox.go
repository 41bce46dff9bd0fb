package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// The sandbox exposes exactly two bindings to rule code: the mapped value
// and the full source record for cross-field logic. Everything else comes
// from the interpreter's own pure builtins (string/number/array/date/math
// and JSON helpers); there is no I/O, no logging sink and no host access
// reachable from inside a rule.

// denylistPattern names one capability-escaping construct that is
// rejected outright at validation time, never silently stripped.
type denylistPattern struct {
	name string
	re   *regexp.Regexp
}

var denylist = []denylistPattern{
	{"dynamic module loading", regexp.MustCompile(`\brequire\s*\(`)},
	{"dynamic module loading", regexp.MustCompile(`\bimport\b`)},
	{"dynamic code evaluation", regexp.MustCompile(`\beval\s*\(`)},
	{"dynamic code evaluation", regexp.MustCompile(`\bFunction\s*\(`)},
	{"process access", regexp.MustCompile(`\bprocess\b`)},
	{"child process access", regexp.MustCompile(`\bchild_process\b`)},
	{"filesystem access", regexp.MustCompile(`\bfs\s*\.`)},
	{"filesystem access", regexp.MustCompile(`\bos\s*\.`)},
	{"execution environment reflection", regexp.MustCompile(`__dirname|__filename`)},
	{"global environment access", regexp.MustCompile(`\bglobalThis\b`)},
}

// scanDenylist returns the name of the first forbidden construct found in
// code, or empty string when the code is clean.
func scanDenylist(code string) string {
	for _, p := range denylist {
		if p.re.MatchString(code) {
			return p.name
		}
	}
	return ""
}

// compile returns a cached program for code, compiling on first use.
func (t *Transformer) compile(code string) (*vm.Program, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prog, ok := t.cache[code]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	t.cache[code] = prog
	return prog, nil
}

type sandboxResult struct {
	value any
	err   error
}

// runSandbox executes rule code against one value plus its source record
// under a wall-clock budget. Expiry abandons the evaluation goroutine;
// programs are side-effect-free, so nothing leaks into the surrounding
// transaction.
func (t *Transformer) runSandbox(ctx context.Context, code string, value any, record map[string]any, budget time.Duration) (any, error) {
	prog, err := t.compile(code)
	if err != nil {
		return nil, err
	}

	if record == nil {
		record = map[string]any{}
	}
	env := map[string]any{
		"value":  value,
		"record": record,
	}

	done := make(chan sandboxResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sandboxResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := expr.Run(prog, env)
		done <- sandboxResult{value: out, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return nil, fmt.Errorf("execution exceeded %s budget", budget)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sampleValues holds one representative input per declared type, used by
// code validation.
var sampleValues = map[string]any{
	TypeText:    "Acme Corporation",
	TypeNumber:  float64(42.5),
	TypeDate:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	TypeBoolean: true,
	TypeObject:  map[string]any{"key": "value", "nested": map[string]any{"n": float64(1)}},
	TypeArray:   []any{"one", "two", "three"},
	TypeAny:     "sample",
}

var sampleRecord = map[string]any{
	"first_name": "Jane",
	"last_name":  "Cooper",
	"email":      "jane.cooper@example.com",
	"company":    "Acme Corporation",
	"custom_fields": map[string]any{
		"industry": "manufacturing",
	},
}

// ValidateCode checks rule code for forbidden constructs and then runs it
// once against a representative sample for the declared input type.
// A nil return means the code may be marked validated.
func (t *Transformer) ValidateCode(ctx context.Context, code, declaredInputType string) error {
	if code == "" {
		return fmt.Errorf("code is empty")
	}
	if hit := scanDenylist(code); hit != "" {
		return fmt.Errorf("forbidden construct: %s", hit)
	}

	sample, ok := sampleValues[declaredInputType]
	if !ok {
		sample = sampleValues[TypeAny]
	}

	if _, err := t.runSandbox(ctx, code, sample, sampleRecord, t.defaultBudget); err != nil {
		return fmt.Errorf("sample execution failed: %w", err)
	}
	return nil
}

// Execute runs rule code against a caller-supplied value and record,
// bypassing the validated flag. Used by the rule test endpoint so
// administrators can try code before trusting it in mappings.
func (t *Transformer) Execute(ctx context.Context, code string, value any, record map[string]any, timeoutMs int) (any, error) {
	if hit := scanDenylist(code); hit != "" {
		return nil, fmt.Errorf("forbidden construct: %s", hit)
	}
	budget := time.Duration(timeoutMs) * time.Millisecond
	if budget <= 0 {
		budget = t.defaultBudget
	}
	if budget > t.maxBudget {
		budget = t.maxBudget
	}
	return t.runSandbox(ctx, code, value, record, budget)
}
