package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Condition is a closed set of boolean expression nodes. Only the types in
// this file implement it.
type Condition interface {
	isCondition()
}

// Equals holds when the field exists and equals Value.
type Equals struct {
	Field string
	Value any
}

// Exists holds when the field is present (a null value counts as present).
type Exists struct {
	Field string
}

// CompareOp is an ordering operator.
type CompareOp string

const (
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpEQ  CompareOp = "eq"
	OpNE  CompareOp = "ne"
)

// ParseCompareOp accepts both the word and the symbol form.
func ParseCompareOp(s string) (CompareOp, error) {
	switch s {
	case "lt", "<":
		return OpLT, nil
	case "lte", "<=":
		return OpLTE, nil
	case "gt", ">":
		return OpGT, nil
	case "gte", ">=":
		return OpGTE, nil
	case "eq", "==":
		return OpEQ, nil
	case "ne", "!=":
		return OpNE, nil
	default:
		return "", fmt.Errorf("unknown compare operator %q", s)
	}
}

// Compare orders a numeric or string field against Value.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

// And holds when every child holds.
type And struct {
	Children []Condition
}

// Or holds when any child holds.
type Or struct {
	Children []Condition
}

// Not negates its child.
type Not struct {
	Child Condition
}

// Expr is a CEL boolean expression over `input`, compiled at load time.
type Expr struct {
	Source  string
	program cel.Program
}

func (Equals) isCondition()  {}
func (Exists) isCondition()  {}
func (Compare) isCondition() {}
func (And) isCondition()     {}
func (Or) isCondition()      {}
func (Not) isCondition()     {}
func (*Expr) isCondition()   {}

// kindOf names a node for traces.
func kindOf(c Condition) string {
	switch c.(type) {
	case Equals:
		return "equals"
	case Exists:
		return "exists"
	case Compare:
		return "compare"
	case And:
		return "and"
	case Or:
		return "or"
	case Not:
		return "not"
	case *Expr:
		return "expr"
	default:
		return fmt.Sprintf("%T", c)
	}
}

var opSymbols = map[CompareOp]string{
	OpLT: "<", OpLTE: "<=", OpGT: ">", OpGTE: ">=", OpEQ: "==", OpNE: "!=",
}

// Describe renders a condition tree as a one-line expression for humans.
func Describe(c Condition) string {
	switch node := c.(type) {
	case Equals:
		return fmt.Sprintf("%s == %s", node.Field, literal(node.Value))
	case Exists:
		return fmt.Sprintf("exists(%s)", node.Field)
	case Compare:
		return fmt.Sprintf("%s %s %s", node.Field, opSymbols[node.Op], literal(node.Value))
	case And:
		return joinDescribed(node.Children, " AND ")
	case Or:
		return joinDescribed(node.Children, " OR ")
	case Not:
		return "NOT " + Describe(node.Child)
	case *Expr:
		return "cel(" + node.Source + ")"
	default:
		return fmt.Sprintf("<%T>", c)
	}
}

func joinDescribed(children []Condition, sep string) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = Describe(child)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func literal(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}
