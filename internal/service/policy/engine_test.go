package policy

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestApplySubstitutesPlaceholders(t *testing.T) {
	e := newEngine(t)

	applied, err := e.Apply("technical", Affect{Emotion: "calm", Intensity: 0.4}, Drive{Energy: 0.6, Focus: 0.72})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	for _, placeholder := range []string{"{schema}", "{emotion}", "{intensity}", "{energy}", "{focus}"} {
		if strings.Contains(applied.SystemFinal, placeholder) {
			t.Fatalf("placeholder %s not substituted", placeholder)
		}
	}
	if !strings.Contains(applied.SystemFinal, "calm") {
		t.Fatal("emotion missing from system prompt")
	}
	if !strings.Contains(applied.SystemFinal, "0.72") {
		t.Fatal("focus missing from system prompt")
	}
	if !strings.Contains(applied.SystemFinal, `"explanation"`) {
		t.Fatal("schema JSON missing from system prompt")
	}
}

func TestApplyValidatorSet(t *testing.T) {
	e := newEngine(t)

	applied, err := e.Apply("technical", Affect{}, Drive{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if applied.Validators[0].Type != "schema" {
		t.Fatalf("first validator = %+v", applied.Validators[0])
	}
	// security(5) + syntax(4) + imports(2) pattern validators after the schema one.
	if len(applied.Validators) != 12 {
		t.Fatalf("validator count = %d", len(applied.Validators))
	}
	for _, v := range applied.Validators[1:] {
		if v.Type != "filter" || v.Pattern == "" {
			t.Fatalf("bad filter validator: %+v", v)
		}
	}
}

func TestApplyUnknownLane(t *testing.T) {
	e := newEngine(t)
	if _, err := e.Apply("nonexistent", Affect{}, Drive{}); err == nil {
		t.Fatal("unknown lane must error")
	}
}

func TestValidateSecurityFilter(t *testing.T) {
	e := newEngine(t)

	v, err := e.Validate("technical", "just call eval(user_input) here")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v.OK {
		t.Fatal("eval( must fail validation")
	}
	found := false
	for _, r := range v.Repairs {
		if r.Issue == "Security vulnerability detected" {
			found = true
			if r.Severity != "high" {
				t.Fatalf("severity = %q", r.Severity)
			}
			if !strings.Contains(r.Repair, "insecure code patterns") {
				t.Fatalf("repair = %q", r.Repair)
			}
		}
	}
	if !found {
		t.Fatalf("security issue missing: %+v", v.Repairs)
	}
}

func TestValidateOneIssuePerFilter(t *testing.T) {
	e := newEngine(t)

	// Two distinct security patterns, still one issue.
	v, err := e.Validate("technical", "eval(x) and exec(y)")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, r := range v.Repairs {
		if r.Issue == "Security vulnerability detected" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("security issues = %d, want 1", count)
	}
}

func TestValidateCleanText(t *testing.T) {
	e := newEngine(t)
	v, err := e.Validate("technical", "use a parameterized query to avoid injection")
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK || len(v.Repairs) != 0 {
		t.Fatalf("clean text flagged: %+v", v.Repairs)
	}
}

func TestValidateEmotionalSentenceBound(t *testing.T) {
	e := newEngine(t)

	long := strings.Repeat("That sounds hard. ", 6)
	v, err := e.Validate("emotional", long)
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Fatal("six sentences must exceed the emotional bound")
	}
	if v.Repairs[0].Repair != "Reduce response to 3-5 sentences" {
		t.Fatalf("repair = %q", v.Repairs[0].Repair)
	}

	short := strings.Repeat("That sounds hard. ", 5)
	v, err = e.Validate("emotional", short)
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Fatalf("five sentences must pass: %+v", v.Repairs)
	}
}

func TestValidateSchemaIssue(t *testing.T) {
	e := newEngine(t)

	// Bracketed JSON missing the required "explanation".
	v, err := e.Validate("technical", `{"code": "x = 1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Fatal("schema violation must fail")
	}
	if v.Repairs[0].Type != "schema" {
		t.Fatalf("issue type = %q", v.Repairs[0].Type)
	}

	// Valid instance passes.
	v, err = e.Validate("technical", `{"explanation": "short and clear"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Fatalf("valid JSON flagged: %+v", v.Repairs)
	}

	// Emotional schema rejects extra properties.
	v, err = e.Validate("emotional", `{"acknowledgment": "ok", "extra": 1}`)
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Fatal("additionalProperties violation must fail")
	}
}

func TestValidateRepairedText(t *testing.T) {
	e := newEngine(t)

	// Pattern removal strips the offending span.
	v, err := e.Validate("technical", "run eval(x) to see")
	if err != nil {
		t.Fatal(err)
	}
	if v.Repaired == "" {
		t.Fatal("expected repaired text")
	}
	if strings.Contains(v.Repaired, "eval") {
		t.Fatalf("repaired still contains pattern: %q", v.Repaired)
	}

	// Sentence truncation keeps the first five.
	long := strings.Repeat("That sounds hard. ", 7)
	v, err = e.Validate("emotional", long)
	if err != nil {
		t.Fatal(err)
	}
	if v.Repaired != strings.TrimSpace(strings.Repeat("That sounds hard. ", 5)) {
		t.Fatalf("repaired = %q", v.Repaired)
	}

	// Clean text carries no repaired field.
	v, err = e.Validate("technical", "all good here")
	if err != nil {
		t.Fatal(err)
	}
	if v.Repaired != "" {
		t.Fatalf("unexpected repaired: %q", v.Repaired)
	}
}

func TestValidateMaxLength(t *testing.T) {
	e := newEngine(t)

	v, err := e.Validate("creative", strings.Repeat("a", 1501))
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Fatal("creative lane must cap at 1500 chars")
	}
	if !strings.Contains(v.Repairs[0].Issue, "1500") {
		t.Fatalf("issue = %q", v.Repairs[0].Issue)
	}

	v, err = e.Validate("creative", strings.Repeat("a", 1500))
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Fatalf("1500 chars must pass: %+v", v.Repairs)
	}
}
