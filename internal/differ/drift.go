// Package differ reports how a policy verdict changed between two runs.
package differ

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/complyledger/complyledger/internal/models"
	"github.com/wI2L/jsondiff"
)

// ChangeType enum
type ChangeType string

const (
	ChangeRegressed     ChangeType = "RULE_REGRESSED"
	ChangeFixed         ChangeType = "RULE_FIXED"
	ChangeAdded         ChangeType = "RULE_ADDED"
	ChangeRemoved       ChangeType = "RULE_REMOVED"
	ChangeDetailChanged ChangeType = "RULE_DETAIL_CHANGED"
)

// Change is one rule whose outcome differs.
type Change struct {
	Type     ChangeType
	Severity SeverityLevel
	RuleID   string
	Message  string
	Patch    jsondiff.Patch // rule result patch, timestamps excluded
}

// Drift compares two verdicts. Unchanged rules are omitted.
type Drift struct {
	HasDrift  bool
	OldRef    models.PolicyRef
	NewRef    models.PolicyRef
	OldStatus models.Status
	NewStatus models.Status
	OldScore  float64
	NewScore  float64
	Changes   []Change
	Patch     jsondiff.Patch // RFC 6902 patch over the whole verdict, timestamps excluded
}

// CompareVerdicts lists per-rule changes between two verdicts. Rules are reported
// in the newer verdict's declaration order, followed by rules that disappeared.
func CompareVerdicts(from, to models.Verdict) (*Drift, error) {
	d := &Drift{
		OldRef:    from.PolicyRef,
		NewRef:    to.PolicyRef,
		OldStatus: from.OverallStatus,
		NewStatus: to.OverallStatus,
		OldScore:  from.Score,
		NewScore:  to.Score,
		Changes:   []Change{},
	}

	patch, err := compare(stripTimes(from), stripTimes(to))
	if err != nil {
		return nil, fmt.Errorf("failed to diff verdicts: %w", err)
	}
	d.Patch = patch

	before := make(map[string]models.RuleResult, len(from.RuleResults))
	for _, r := range from.RuleResults {
		before[r.RuleID] = r
	}
	seen := make(map[string]bool, len(to.RuleResults))

	for _, cur := range to.RuleResults {
		seen[cur.RuleID] = true
		prev, found := before[cur.RuleID]
		if !found {
			c := Change{Type: ChangeAdded, Severity: SeveritySafe, RuleID: cur.RuleID,
				Message: fmt.Sprintf("Rule [%s] was added and passes", cur.RuleID)}
			if !cur.Passed {
				c.Severity = regressionSeverity(cur.Severity)
				c.Message = fmt.Sprintf("Rule [%s] was added and fails", cur.RuleID)
			}
			d.Changes = append(d.Changes, c)
			continue
		}

		rulePatch, err := compare(stripResult(prev), stripResult(cur))
		if err != nil {
			return nil, fmt.Errorf("failed to diff rule %s: %w", cur.RuleID, err)
		}
		if len(rulePatch) == 0 {
			continue
		}

		c := Change{RuleID: cur.RuleID, Patch: rulePatch}
		switch {
		case prev.Passed && !cur.Passed:
			c.Type = ChangeRegressed
			c.Severity = regressionSeverity(cur.Severity)
			c.Message = fmt.Sprintf("Rule [%s] now fails (%s)", cur.RuleID, cur.Severity)
		case !prev.Passed && cur.Passed:
			c.Type = ChangeFixed
			c.Severity = SeveritySafe
			c.Message = fmt.Sprintf("Rule [%s] now passes", cur.RuleID)
		default:
			c.Type = ChangeDetailChanged
			c.Severity = SeveritySafe
			if prev.Severity != cur.Severity {
				c.Severity = SeverityModerate
			}
			c.Message = fmt.Sprintf("Rule [%s] result detail changed", cur.RuleID)
		}
		d.Changes = append(d.Changes, c)
	}

	for _, prev := range from.RuleResults {
		if seen[prev.RuleID] {
			continue
		}
		d.Changes = append(d.Changes, Change{
			Type:     ChangeRemoved,
			Severity: SeveritySafe,
			RuleID:   prev.RuleID,
			Message:  fmt.Sprintf("Rule [%s] is no longer evaluated", prev.RuleID),
		})
	}

	d.HasDrift = len(d.Changes) > 0 || from.OverallStatus != to.OverallStatus
	return d, nil
}

// Counts tallies changes by severity.
func (d *Drift) Counts() (critical, moderate, info int) {
	for _, c := range d.Changes {
		switch c.Severity {
		case SeverityCritical:
			critical++
		case SeverityModerate:
			moderate++
		default:
			info++
		}
	}
	return critical, moderate, info
}

// MaxSeverity is the worst severity among the changes, SeveritySafe when none.
func (d *Drift) MaxSeverity() SeverityLevel {
	worst := SeveritySafe
	for _, c := range d.Changes {
		if c.Severity > worst {
			worst = c.Severity
		}
	}
	return worst
}

// Summary is a one-line description.
func (d *Drift) Summary() string {
	if !d.HasDrift {
		return "no drift"
	}
	critical, moderate, info := d.Counts()
	var b strings.Builder
	if d.OldStatus != d.NewStatus {
		fmt.Fprintf(&b, "status %s -> %s; ", d.OldStatus, d.NewStatus)
	}
	fmt.Fprintf(&b, "%d critical, %d moderate, %d info", critical, moderate, info)
	return b.String()
}

func compare(from, to any) (jsondiff.Patch, error) {
	source, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	target, err := json.Marshal(to)
	if err != nil {
		return nil, err
	}
	return jsondiff.CompareJSON(source, target)
}

// stripTimes clears evaluation timestamps, which differ on every run.
func stripTimes(v models.Verdict) models.Verdict {
	out := v
	out.EvaluatedAt = ""
	out.RuleResults = make([]models.RuleResult, len(v.RuleResults))
	for i, r := range v.RuleResults {
		out.RuleResults[i] = stripResult(r)
	}
	return out
}

func stripResult(r models.RuleResult) models.RuleResult {
	r.EvaluatedAt = ""
	return r
}
