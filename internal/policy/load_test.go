package policy

import (
	"errors"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestLoadPackage_YAML(t *testing.T) {
	engine := newTestEngine(t)

	pkg, err := engine.LoadPackage([]byte(`
name: NCA_baseline
version: "1.0"
effective_date: "2024-01-01"
rules:
  - id: r1
    description: TLS 1.3 only
    severity: critical
    condition:
      equals: {field: tls_version, value: "1.3"}
  - id: r2
    severity: info
    control_refs: [ECC-2-8-3]
    condition:
      and:
        - exists: vendor
        - not:
            compare: {field: retention_days, op: "<", value: 30}
`))
	if err != nil {
		t.Fatalf("LoadPackage failed: %v", err)
	}

	if pkg.Name != "NCA_baseline" || pkg.Version != "1.0" {
		t.Errorf("ref = %s", pkg.Ref())
	}
	if len(pkg.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(pkg.Rules))
	}
	if pkg.Rules[0].Severity != SeverityCritical {
		t.Errorf("r1 severity = %v", pkg.Rules[0].Severity)
	}
	eq, ok := pkg.Rules[0].Condition.(Equals)
	if !ok || eq.Field != "tls_version" || eq.Value != "1.3" {
		t.Errorf("r1 condition = %#v", pkg.Rules[0].Condition)
	}
	and, ok := pkg.Rules[1].Condition.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("r2 condition = %#v", pkg.Rules[1].Condition)
	}
	not, ok := and.Children[1].(Not)
	if !ok {
		t.Fatalf("r2 second child = %#v", and.Children[1])
	}
	cmp, ok := not.Child.(Compare)
	if !ok || cmp.Op != OpLT || cmp.Value != int64(30) {
		t.Errorf("compare = %#v", not.Child)
	}
}

func TestLoadPackage_JSON(t *testing.T) {
	engine := newTestEngine(t)

	pkg, err := engine.LoadPackage([]byte(`{
  "name": "NCA_baseline",
  "version": "1.0",
  "effective_date": "2024-01-01",
  "rules": [
    {"id": "r1", "description": "", "severity": "warning",
     "condition": {"compare": {"field": "retention_days", "op": "gte", "value": 365}}}
  ]
}`))
	if err != nil {
		t.Fatalf("LoadPackage failed: %v", err)
	}
	cmp := pkg.Rules[0].Condition.(Compare)
	if cmp.Value != int64(365) {
		t.Errorf("value = %#v, want int64(365)", cmp.Value)
	}
}

func TestLoadPackage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "empty document",
			doc:     "   ",
			wantMsg: "empty policy document",
		},
		{
			name:    "missing name and version",
			doc:     "rules:\n  - id: r1\n    severity: info\n    condition: {exists: a}\n",
			wantMsg: "name is required",
		},
		{
			name:    "no rules",
			doc:     "name: p\nversion: '1'\nrules: []\n",
			wantMsg: "at least one rule",
		},
		{
			name:    "duplicate ids",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {exists: a}}\n  - {id: r1, severity: info, condition: {exists: b}}\n",
			wantMsg: "duplicate rule id",
		},
		{
			name:    "unknown severity",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: high, condition: {exists: a}}\n",
			wantMsg: `unknown severity "high"`,
		},
		{
			name:    "unknown condition",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {matches: {field: a, value: b}}}\n",
			wantMsg: `unknown condition "matches"`,
		},
		{
			name:    "two condition keys",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {exists: a, equals: {field: a, value: 1}}}\n",
			wantMsg: "exactly one of",
		},
		{
			name:    "missing condition",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info}\n",
			wantMsg: "condition is required",
		},
		{
			name:    "empty and",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {and: []}}\n",
			wantMsg: "at least one condition",
		},
		{
			name:    "bad operator",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {compare: {field: a, op: between, value: 1}}}\n",
			wantMsg: `unknown compare operator "between"`,
		},
		{
			name:    "empty field segment",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {exists: a..b}}\n",
			wantMsg: "empty path segment",
		},
		{
			name:    "equals without value",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {equals: {field: a}}}\n",
			wantMsg: "value is required",
		},
		{
			name:    "cel compile error",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {expr: 'input.a =='}}\n",
			wantMsg: "CEL compile error",
		},
		{
			name:    "cel non-bool",
			doc:     "name: p\nversion: '1'\nrules:\n  - {id: r1, severity: info, condition: {expr: '1 + 2'}}\n",
			wantMsg: "must return bool",
		},
		{
			name:    "bad effective date",
			doc:     "name: p\nversion: '1'\neffective_date: yesterday\nrules:\n  - {id: r1, severity: info, condition: {exists: a}}\n",
			wantMsg: "effective_date",
		},
		{
			name:    "unknown top-level field",
			doc:     "name: p\nversion: '1'\nowner: me\nrules:\n  - {id: r1, severity: info, condition: {exists: a}}\n",
			wantMsg: "invalid YAML",
		},
	}

	engine := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := engine.LoadPackage([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error, got package %+v", pkg)
			}
			if !errors.Is(err, ErrPolicyLoad) {
				t.Errorf("error %v does not match ErrPolicyLoad", err)
			}
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("error is %T, want *LoadError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadPackage_CollectsAllProblems(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.LoadPackage([]byte(`
name: p
version: "1"
rules:
  - {id: r1, severity: nope, condition: {exists: a}}
  - {id: r1, severity: info, condition: {bogus: 1}}
`))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if len(loadErr.Problems) != 3 {
		t.Errorf("expected 3 problems, got %d: %v", len(loadErr.Problems), loadErr.Problems)
	}
}

func TestLoadPackage_DepthLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("name: p\nversion: '1'\nrules:\n  - id: deep\n    severity: info\n    condition: ")
	for i := 0; i < MaxConditionDepth+1; i++ {
		b.WriteString("{not: ")
	}
	b.WriteString("{exists: a}")
	for i := 0; i < MaxConditionDepth+1; i++ {
		b.WriteString("}")
	}
	b.WriteString("\n")

	_, err := newTestEngine(t).LoadPackage([]byte(b.String()))
	if err == nil || !strings.Contains(err.Error(), "nested deeper") {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		weight  int
		wantErr bool
	}{
		{"info", SeverityInfo, 1, false},
		{"warning", SeverityWarning, 2, false},
		{"critical", SeverityCritical, 3, false},
		{"Critical", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeverity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want || got.Weight() != tt.weight {
			t.Errorf("ParseSeverity(%q) = %v (weight %d), want %v (weight %d)", tt.in, got, got.Weight(), tt.want, tt.weight)
		}
	}

	if !(SeverityInfo < SeverityWarning && SeverityWarning < SeverityCritical) {
		t.Error("severities are not ordered")
	}
}
