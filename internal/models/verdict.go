package models

// Status is the overall outcome of one evaluation.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	// StatusFailClosed marks a verdict whose evaluation hit an internal fault.
	StatusFailClosed Status = "fail_closed_on_error"
)

// Verdict aggregates every rule result for one (package, context) pair.
// Field order is fixed so encoding/json output is byte-stable.
type Verdict struct {
	PolicyRef     PolicyRef    `json:"policy_ref"`
	OverallStatus Status       `json:"overall_status"`
	Score         float64      `json:"score"`
	RuleResults   []RuleResult `json:"rule_results"`
	EvaluatedAt   string       `json:"evaluated_at"`
}

// FailedRules returns ids of failed rules in declaration order
func (v Verdict) FailedRules() []string {
	var ids []string
	for _, r := range v.RuleResults {
		if !r.Passed {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	RuleID      string       `json:"rule_id"`
	Passed      bool         `json:"passed"`
	Severity    string       `json:"severity"`
	EvaluatedAt string       `json:"evaluated_at"`
	Detail      string       `json:"detail"`
	Remediation string       `json:"remediation,omitempty"`
	Trace       []TraceStep  `json:"trace,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// TraceStep records one evaluated node of a condition tree, in pre-order.
type TraceStep struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Field  string `json:"field,omitempty"`
	Passed bool   `json:"passed"`
}

// Diagnostic codes
const (
	DiagMissingField = "missing_field"
	DiagTypeMismatch = "type_mismatch"
	DiagExprError    = "expr_error"
	DiagFault        = "evaluation_fault"
)

// Diagnostic explains why a leaf condition could not be satisfied.
// Messages name fields only; context values never appear here.
type Diagnostic struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}
