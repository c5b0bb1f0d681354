package policy

import (
	"testing"

	"github.com/complyledger/complyledger/internal/models"
)

func TestPresetsLoad(t *testing.T) {
	engine := newTestEngine(t)

	for _, name := range ListPresetNames() {
		t.Run(name, func(t *testing.T) {
			pkg, err := engine.GetPreset(name)
			if err != nil {
				t.Fatalf("GetPreset(%s) failed: %v", name, err)
			}
			if pkg.Name == "" || pkg.Version == "" || len(pkg.Rules) == 0 {
				t.Errorf("preset %s is incomplete: %+v", name, pkg.Ref())
			}
		})
	}
}

func TestPresetsCached(t *testing.T) {
	engine := newTestEngine(t)
	a := engine.MustGetPreset("pdpl_privacy")
	b := engine.MustGetPreset("pdpl_privacy")
	if a != b {
		t.Error("preset was compiled twice")
	}
}

func TestPresetsCachedPerEngine(t *testing.T) {
	a := newTestEngine(t).MustGetPreset("sama_csf")
	b := newTestEngine(t).MustGetPreset("sama_csf")
	if a == b {
		t.Error("engines should not share compiled presets")
	}
	if a.Ref() != b.Ref() || len(a.Rules) != len(b.Rules) {
		t.Errorf("same preset compiled differently: %v vs %v", a.Ref(), b.Ref())
	}
}

func TestUnknownPreset(t *testing.T) {
	if _, err := newTestEngine(t).GetPreset("hipaa"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestListPresetNamesSorted(t *testing.T) {
	names := ListPresetNames()
	want := []string{"nca_ecc_baseline", "pdpl_privacy", "sama_csf"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestNCABaseline_CompliantVendor(t *testing.T) {
	engine := newTestEngine(t)
	pkg := engine.MustGetPreset("nca_ecc_baseline")

	input := map[string]any{
		"encryption_at_rest": true,
		"tls_version":        "1.3",
		"iam":                map[string]any{"mfa_enforced": true},
		"logging":            map[string]any{"retention_days": 400},
		"hosting":            map[string]any{"region_country": "SA"},
		"vulnerability_management": map[string]any{
			"last_scan":          "2024-02-20",
			"scan_interval_days": 7,
		},
		"security_contact": "soc@vendor.example",
	}

	verdict, err := engine.Evaluate(pkg, input, testAt)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if verdict.OverallStatus != models.StatusPass || verdict.Score != 1 {
		t.Errorf("status=%s score=%v failed=%v", verdict.OverallStatus, verdict.Score, verdict.FailedRules())
	}
}

func TestPDPL_NotTreatsMissingAsSatisfied(t *testing.T) {
	engine := newTestEngine(t)
	pkg := engine.MustGetPreset("pdpl_privacy")

	verdict, err := engine.Evaluate(pkg, map[string]any{}, testAt)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	dpo := verdict.RuleResults[3]
	if dpo.RuleID != "pdpl-art-30-dpo" {
		t.Fatalf("unexpected rule order: %s", dpo.RuleID)
	}
	if !dpo.Passed {
		t.Error("not(equals) over a missing field should pass")
	}
	if len(dpo.Diagnostics) == 0 || dpo.Diagnostics[0].Code != models.DiagMissingField {
		t.Errorf("missing field diagnostic not kept: %+v", dpo.Diagnostics)
	}
}
