package differ

import (
	"strings"
	"testing"

	"github.com/complyledger/complyledger/internal/models"
)

func result(id, severity string, passed bool) models.RuleResult {
	detail := "all conditions satisfied"
	if !passed {
		detail = "failed: equals(tls_version) at $"
	}
	return models.RuleResult{
		RuleID:      id,
		Passed:      passed,
		Severity:    severity,
		EvaluatedAt: "2024-05-01T09:00:00Z",
		Detail:      detail,
	}
}

func verdict(at string, status models.Status, results ...models.RuleResult) models.Verdict {
	out := make([]models.RuleResult, len(results))
	for i, r := range results {
		r.EvaluatedAt = at
		out[i] = r
	}
	return models.Verdict{
		PolicyRef:     models.PolicyRef{Name: "NCA_ECC_baseline", Version: "2.0"},
		OverallStatus: status,
		RuleResults:   out,
		EvaluatedAt:   at,
	}
}

func TestCompareVerdicts_NoDriftIgnoresTimestamps(t *testing.T) {
	a := verdict("2024-05-01T09:00:00Z", models.StatusPass, result("tls", "critical", true), result("mfa", "critical", true))
	b := verdict("2024-06-01T09:00:00Z", models.StatusPass, result("tls", "critical", true), result("mfa", "critical", true))

	d, err := CompareVerdicts(a, b)
	if err != nil {
		t.Fatalf("CompareVerdicts failed: %v", err)
	}
	if d.HasDrift {
		t.Errorf("expected no drift, got %+v", d.Changes)
	}
	if len(d.Patch) != 0 {
		t.Errorf("expected empty patch, got %v", d.Patch)
	}
	if d.Summary() != "no drift" {
		t.Errorf("Summary() = %q", d.Summary())
	}
}

func TestCompareVerdicts_Changes(t *testing.T) {
	tests := []struct {
		name     string
		from     []models.RuleResult
		to       []models.RuleResult
		wantType ChangeType
		wantSev  SeverityLevel
	}{
		{
			name:     "critical regression",
			from:     []models.RuleResult{result("tls", "critical", true)},
			to:       []models.RuleResult{result("tls", "critical", false)},
			wantType: ChangeRegressed,
			wantSev:  SeverityCritical,
		},
		{
			name:     "warning regression",
			from:     []models.RuleResult{result("retention", "warning", true)},
			to:       []models.RuleResult{result("retention", "warning", false)},
			wantType: ChangeRegressed,
			wantSev:  SeverityModerate,
		},
		{
			name:     "info regression",
			from:     []models.RuleResult{result("contact", "info", true)},
			to:       []models.RuleResult{result("contact", "info", false)},
			wantType: ChangeRegressed,
			wantSev:  SeveritySafe,
		},
		{
			name:     "fixed",
			from:     []models.RuleResult{result("tls", "critical", false)},
			to:       []models.RuleResult{result("tls", "critical", true)},
			wantType: ChangeFixed,
			wantSev:  SeveritySafe,
		},
		{
			name:     "added failing critical",
			from:     []models.RuleResult{},
			to:       []models.RuleResult{result("mfa", "critical", false)},
			wantType: ChangeAdded,
			wantSev:  SeverityCritical,
		},
		{
			name:     "added passing",
			from:     []models.RuleResult{},
			to:       []models.RuleResult{result("mfa", "critical", true)},
			wantType: ChangeAdded,
			wantSev:  SeveritySafe,
		},
		{
			name:     "removed",
			from:     []models.RuleResult{result("mfa", "critical", false)},
			to:       []models.RuleResult{},
			wantType: ChangeRemoved,
			wantSev:  SeveritySafe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := verdict("2024-05-01T09:00:00Z", models.StatusPass, tt.from...)
			b := verdict("2024-05-02T09:00:00Z", models.StatusPass, tt.to...)

			d, err := CompareVerdicts(a, b)
			if err != nil {
				t.Fatalf("CompareVerdicts failed: %v", err)
			}
			if !d.HasDrift || len(d.Changes) != 1 {
				t.Fatalf("expected one change, got %+v", d.Changes)
			}
			c := d.Changes[0]
			if c.Type != tt.wantType {
				t.Errorf("type = %s, want %s", c.Type, tt.wantType)
			}
			if c.Severity != tt.wantSev {
				t.Errorf("severity = %s, want %s", SeverityString(c.Severity), SeverityString(tt.wantSev))
			}
			if len(d.Patch) == 0 {
				t.Error("expected a non-empty verdict patch")
			}
		})
	}
}

func TestCompareVerdicts_DetailChange(t *testing.T) {
	before := result("tls", "critical", false)
	after := result("tls", "critical", false)
	after.Diagnostics = []models.Diagnostic{{Code: models.DiagMissingField, Path: "$", Field: "tls_version", Message: "field \"tls_version\" is not present"}}

	d, err := CompareVerdicts(
		verdict("2024-05-01T09:00:00Z", models.StatusFail, before),
		verdict("2024-05-02T09:00:00Z", models.StatusFail, after),
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Changes) != 1 || d.Changes[0].Type != ChangeDetailChanged {
		t.Fatalf("changes = %+v", d.Changes)
	}
	if len(d.Changes[0].Patch) == 0 {
		t.Error("rule patch should describe the diagnostic change")
	}
	for _, op := range d.Changes[0].Patch {
		if strings.Contains(op.Path, "evaluated_at") {
			t.Errorf("patch should not mention timestamps: %v", op)
		}
	}
}

func TestCompareVerdicts_OrderAndSummary(t *testing.T) {
	from := verdict("2024-05-01T09:00:00Z", models.StatusPass,
		result("tls", "critical", true),
		result("retention", "warning", true),
		result("legacy", "info", true),
	)
	to := verdict("2024-05-02T09:00:00Z", models.StatusFail,
		result("retention", "warning", false),
		result("tls", "critical", false),
		result("contact", "info", true),
	)

	d, err := CompareVerdicts(from, to)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range d.Changes {
		ids = append(ids, c.RuleID)
	}
	if got := strings.Join(ids, ","); got != "retention,tls,contact,legacy" {
		t.Errorf("change order = %s", got)
	}

	critical, moderate, info := d.Counts()
	if critical != 1 || moderate != 1 || info != 2 {
		t.Errorf("Counts() = %d, %d, %d", critical, moderate, info)
	}
	if d.MaxSeverity() != SeverityCritical {
		t.Errorf("MaxSeverity() = %s", SeverityString(d.MaxSeverity()))
	}
	want := "status pass -> fail; 1 critical, 1 moderate, 2 info"
	if d.Summary() != want {
		t.Errorf("Summary() = %q, want %q", d.Summary(), want)
	}
}

func TestCompareVerdicts_StatusOnly(t *testing.T) {
	d, err := CompareVerdicts(
		verdict("2024-05-01T09:00:00Z", models.StatusFail),
		verdict("2024-05-01T09:00:00Z", models.StatusFailClosed),
	)
	if err != nil {
		t.Fatal(err)
	}
	if !d.HasDrift {
		t.Error("a status change alone is drift")
	}
	if len(d.Changes) != 0 {
		t.Errorf("expected no rule changes, got %+v", d.Changes)
	}
}
