// Package policy loads compliance policy packages and evaluates them
// deterministically against a context document.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/complyledger/complyledger/internal/models"
	"github.com/google/cel-go/cel"
)

// Engine compiles and evaluates policy packages. It holds no per-call state
// and is safe for concurrent use.
type Engine struct {
	env *cel.Env

	presetMu sync.Mutex
	presets  map[string]*Package
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, presets: map[string]*Package{}}, nil
}

// Evaluate runs every rule in declaration order and aggregates a verdict.
// at is the caller's logical timestamp; the engine never reads the clock.
//
// When an evaluation fault occurs the verdict is still returned, with
// status fail_closed_on_error and score 0, together with an *EvaluationFault.
func (e *Engine) Evaluate(pkg *Package, input map[string]any, at string) (models.Verdict, error) {
	if pkg == nil {
		return models.Verdict{
			OverallStatus: models.StatusFailClosed,
			RuleResults:   []models.RuleResult{},
			EvaluatedAt:   at,
		}, &EvaluationFault{Reason: "nil policy package"}
	}

	verdict := models.Verdict{
		PolicyRef:   pkg.Ref(),
		RuleResults: make([]models.RuleResult, 0, len(pkg.Rules)),
		EvaluatedAt: at,
	}
	ctx := normalizeContext(input)

	var (
		firstFault   *EvaluationFault
		blocking     bool
		passedWeight int
		totalWeight  int
	)
	for _, rule := range pkg.Rules {
		result, fault := evaluateRule(rule, ctx, at)
		verdict.RuleResults = append(verdict.RuleResults, result)

		if fault != nil && firstFault == nil {
			firstFault = fault
		}
		totalWeight += rule.Severity.Weight()
		if result.Passed {
			passedWeight += rule.Severity.Weight()
		} else if rule.Severity >= SeverityWarning {
			blocking = true
		}
	}

	switch {
	case firstFault != nil:
		verdict.OverallStatus = models.StatusFailClosed
		verdict.Score = 0
		return verdict, firstFault
	case blocking:
		verdict.OverallStatus = models.StatusFail
	default:
		verdict.OverallStatus = models.StatusPass
	}
	verdict.Score = Score(passedWeight, totalWeight)
	return verdict, nil
}

// Score is passed weight over total weight; an empty total scores 0.
func Score(passedWeight, totalWeight int) float64 {
	if totalWeight <= 0 {
		return 0
	}
	return float64(passedWeight) / float64(totalWeight)
}

// evaluateRule converts any fault raised below into a failed result.
func evaluateRule(rule Rule, ctx map[string]any, at string) (result models.RuleResult, fault *EvaluationFault) {
	result = models.RuleResult{
		RuleID:      rule.ID,
		Severity:    rule.Severity.String(),
		EvaluatedAt: at,
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		reason := faultReason(r)
		fault = &EvaluationFault{RuleID: rule.ID, Reason: reason}
		result.Passed = false
		result.Trace = nil
		result.Diagnostics = []models.Diagnostic{{
			Code:    models.DiagFault,
			Path:    "$",
			Message: "rule could not be evaluated",
		}}
		result.Detail = "evaluation fault: " + reason
		result.Remediation = ""
	}()

	if rule.Severity.Weight() == 0 {
		panic(faultPanic{reason: "rule has no valid severity"})
	}

	out := evaluateNormalized(rule.Condition, ctx)
	result.Passed = out.Passed
	result.Trace = out.Trace
	result.Diagnostics = out.Diagnostics
	result.Detail = describe(out)
	if !out.Passed {
		result.Remediation = rule.RemediationHint
	}
	return result, nil
}

// describe builds the explanation from the trace. It names node kinds,
// paths and fields only.
func describe(out Outcome) string {
	if out.Passed {
		return "all conditions satisfied"
	}

	var failing []string
	for _, step := range out.Trace {
		if step.Passed || !isLeaf(step.Kind) {
			continue
		}
		if step.Field != "" {
			failing = append(failing, fmt.Sprintf("%s(%s) at %s", step.Kind, step.Field, step.Path))
		} else {
			failing = append(failing, fmt.Sprintf("%s at %s", step.Kind, step.Path))
		}
	}

	var b strings.Builder
	if len(failing) == 0 {
		// only negations of passing leaves failed
		b.WriteString("condition not satisfied")
	} else {
		b.WriteString("failed: ")
		b.WriteString(strings.Join(failing, "; "))
	}
	if len(out.Diagnostics) > 0 {
		codes := make([]string, len(out.Diagnostics))
		for i, d := range out.Diagnostics {
			codes[i] = d.Code
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(codes, ", "))
		b.WriteString("]")
	}
	return b.String()
}

func isLeaf(kind string) bool {
	switch kind {
	case "and", "or", "not":
		return false
	}
	return true
}
