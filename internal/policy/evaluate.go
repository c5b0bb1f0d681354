package policy

import (
	"fmt"

	"github.com/complyledger/complyledger/internal/models"
)

// Outcome is the result of evaluating one condition tree.
type Outcome struct {
	Passed      bool
	Trace       []models.TraceStep
	Diagnostics []models.Diagnostic
}

// EvaluateCondition evaluates cond against ctx. It never returns an error
// and never panics: missing fields and type mismatches make the affected
// leaf false and are recorded as diagnostics, and a malformed tree (nil or
// unrecognized node) yields Passed false with an evaluation_fault diagnostic.
func EvaluateCondition(cond Condition, ctx map[string]any) (out Outcome) {
	ev := &evaluator{ctx: normalizeContext(ctx)}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		out = Outcome{
			Passed: false,
			Trace:  ev.trace,
			Diagnostics: append(ev.diags, models.Diagnostic{
				Code:    models.DiagFault,
				Path:    "$",
				Message: faultReason(r),
			}),
		}
	}()
	passed := ev.eval(cond, "$")
	return Outcome{Passed: passed, Trace: ev.trace, Diagnostics: ev.diags}
}

// evaluateNormalized skips re-normalizing a context the engine already copied.
func evaluateNormalized(cond Condition, ctx map[string]any) Outcome {
	ev := &evaluator{ctx: ctx}
	passed := ev.eval(cond, "$")
	return Outcome{Passed: passed, Trace: ev.trace, Diagnostics: ev.diags}
}

type evaluator struct {
	ctx   map[string]any
	trace []models.TraceStep
	diags []models.Diagnostic
}

// faultPanic carries an invariant violation up to the engine's recover.
type faultPanic struct {
	reason string
}

// faultReason names a recovered panic without echoing context values.
func faultReason(r any) string {
	if fp, ok := r.(faultPanic); ok {
		return fp.reason
	}
	return fmt.Sprint(r)
}

func (e *evaluator) record(path string, c Condition, field string, passed bool) {
	e.trace = append(e.trace, models.TraceStep{
		Path:   path,
		Kind:   kindOf(c),
		Field:  field,
		Passed: passed,
	})
}

func (e *evaluator) diag(code, path, field, msg string) {
	e.diags = append(e.diags, models.Diagnostic{
		Code:    code,
		Path:    path,
		Field:   field,
		Message: msg,
	})
}

func (e *evaluator) eval(c Condition, path string) bool {
	switch node := c.(type) {
	case Equals:
		return e.evalEquals(node, path)
	case Exists:
		_, ok := lookup(e.ctx, node.Field)
		if !ok {
			e.diag(models.DiagMissingField, path, node.Field, fmt.Sprintf("field %q is not present", node.Field))
		}
		e.record(path, node, node.Field, ok)
		return ok
	case Compare:
		return e.evalCompare(node, path)
	case And:
		// reserve the parent slot so the trace stays in pre-order
		idx := e.reserve(path, node)
		result := true
		for i, child := range node.Children {
			if !e.eval(child, fmt.Sprintf("%s.and[%d]", path, i)) {
				result = false
			}
		}
		e.trace[idx].Passed = result
		return result
	case Or:
		idx := e.reserve(path, node)
		result := false
		for i, child := range node.Children {
			if e.eval(child, fmt.Sprintf("%s.or[%d]", path, i)) {
				result = true
			}
		}
		e.trace[idx].Passed = result
		return result
	case Not:
		if node.Child == nil {
			panic(faultPanic{reason: fmt.Sprintf("not at %s has no child", path)})
		}
		idx := e.reserve(path, node)
		result := !e.eval(node.Child, path+".not")
		e.trace[idx].Passed = result
		return result
	case *Expr:
		return e.evalExpr(node, path)
	case nil:
		panic(faultPanic{reason: fmt.Sprintf("nil condition at %s", path)})
	default:
		panic(faultPanic{reason: fmt.Sprintf("unrecognized condition %T at %s", c, path)})
	}
}

func (e *evaluator) reserve(path string, c Condition) int {
	e.trace = append(e.trace, models.TraceStep{Path: path, Kind: kindOf(c)})
	return len(e.trace) - 1
}

func (e *evaluator) evalEquals(node Equals, path string) bool {
	actual, ok := lookup(e.ctx, node.Field)
	if !ok {
		e.diag(models.DiagMissingField, path, node.Field, fmt.Sprintf("field %q is not present", node.Field))
		e.record(path, node, node.Field, false)
		return false
	}

	expected := normalizeValue(node.Value)
	eq, comparable := valuesEqual(actual, expected)
	if !comparable {
		e.diag(models.DiagTypeMismatch, path, node.Field,
			fmt.Sprintf("field %q is %s, expected %s", node.Field, kindOfValue(actual), kindOfValue(expected)))
		e.record(path, node, node.Field, false)
		return false
	}
	e.record(path, node, node.Field, eq)
	return eq
}

func (e *evaluator) evalCompare(node Compare, path string) bool {
	actual, ok := lookup(e.ctx, node.Field)
	if !ok {
		e.diag(models.DiagMissingField, path, node.Field, fmt.Sprintf("field %q is not present", node.Field))
		e.record(path, node, node.Field, false)
		return false
	}

	expected := normalizeValue(node.Value)
	var result bool
	switch node.Op {
	case OpEQ, OpNE:
		eq, comparable := valuesEqual(actual, expected)
		if !comparable {
			e.mismatch(node, path, actual, expected)
			return false
		}
		result = eq == (node.Op == OpEQ)
	default:
		cmp, comparable := orderValues(actual, expected)
		if !comparable {
			e.mismatch(node, path, actual, expected)
			return false
		}
		switch node.Op {
		case OpLT:
			result = cmp < 0
		case OpLTE:
			result = cmp <= 0
		case OpGT:
			result = cmp > 0
		case OpGTE:
			result = cmp >= 0
		default:
			panic(faultPanic{reason: fmt.Sprintf("unknown operator %q at %s", node.Op, path)})
		}
	}
	e.record(path, node, node.Field, result)
	return result
}

func (e *evaluator) mismatch(node Compare, path string, actual, expected any) {
	e.diag(models.DiagTypeMismatch, path, node.Field,
		fmt.Sprintf("field %q is %s, cannot apply %s to %s", node.Field, kindOfValue(actual), node.Op, kindOfValue(expected)))
	e.record(path, node, node.Field, false)
}

func (e *evaluator) evalExpr(node *Expr, path string) bool {
	if node == nil || node.program == nil {
		panic(faultPanic{reason: fmt.Sprintf("expression at %s was not compiled", path)})
	}

	out, _, err := node.program.Eval(map[string]any{"input": e.ctx})
	if err != nil {
		// CEL errors can echo values; keep only the fact that evaluation failed
		e.diag(models.DiagExprError, path, "", "expression could not be evaluated against this context")
		e.record(path, node, "", false)
		return false
	}
	passed, ok := out.Value().(bool)
	if !ok {
		e.diag(models.DiagExprError, path, "", fmt.Sprintf("expression returned %s, expected bool", out.Type().TypeName()))
		e.record(path, node, "", false)
		return false
	}
	e.record(path, node, "", passed)
	return passed
}
