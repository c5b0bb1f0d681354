package policy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPolicyLoad matches every package validation failure.
	ErrPolicyLoad = errors.New("policy load error")
	// ErrEvaluationFault matches internal faults hit while evaluating.
	ErrEvaluationFault = errors.New("evaluation fault")
)

// Problem is one structural defect found while loading a package.
type Problem struct {
	RuleID string
	Path   string
	Reason string
}

func (p Problem) String() string {
	var b strings.Builder
	if p.RuleID != "" {
		fmt.Fprintf(&b, "rule %q", p.RuleID)
	} else {
		b.WriteString("package")
	}
	if p.Path != "" {
		fmt.Fprintf(&b, " at %s", p.Path)
	}
	b.WriteString(": ")
	b.WriteString(p.Reason)
	return b.String()
}

// LoadError reports every problem found in a package at once.
type LoadError struct {
	Package  string
	Problems []Problem
}

func (e *LoadError) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = p.String()
	}
	name := e.Package
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("policy %q failed validation:\n  %s", name, strings.Join(lines, "\n  "))
}

func (e *LoadError) Unwrap() error { return ErrPolicyLoad }

// EvaluationFault is an invariant violation during evaluation.
// The verdict returned alongside it is always fail_closed_on_error.
type EvaluationFault struct {
	RuleID string
	Reason string
}

func (e *EvaluationFault) Error() string {
	if e.RuleID == "" {
		return "evaluation fault: " + e.Reason
	}
	return fmt.Sprintf("evaluation fault in rule %q: %s", e.RuleID, e.Reason)
}

func (e *EvaluationFault) Unwrap() error { return ErrEvaluationFault }
