package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/complyledger/complyledger/internal/models"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// MaxConditionDepth bounds condition nesting.
const MaxConditionDepth = 64

// Rule is a validated rule.
type Rule struct {
	ID              string
	Description     string
	Severity        Severity
	Condition       Condition
	RemediationHint string
	ControlRefs     []string
}

// Package is a validated, immutable policy package.
type Package struct {
	Name          string
	Version       string
	EffectiveDate string
	Description   string
	Rules         []Rule
}

// Ref returns the package reference
func (p *Package) Ref() models.PolicyRef {
	return models.PolicyRef{Name: p.Name, Version: p.Version}
}

// ParseDocument decodes YAML or JSON. JSON input is decoded with UseNumber
// so integers survive unchanged.
func ParseDocument(data []byte) (*models.PolicyDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &LoadError{Problems: []Problem{{Reason: "empty policy document"}}}
	}

	var doc models.PolicyDocument
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, &LoadError{Problems: []Problem{{Reason: fmt.Sprintf("invalid JSON: %v", err)}}}
		}
		return &doc, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Problems: []Problem{{Reason: fmt.Sprintf("invalid YAML: %v", err)}}}
	}
	return &doc, nil
}

// LoadPackage parses and validates a policy package.
func (e *Engine) LoadPackage(data []byte) (*Package, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return e.Compile(doc)
}

// Compile validates a document and builds the condition trees. Every
// problem is collected so authors see them all at once.
func (e *Engine) Compile(doc *models.PolicyDocument) (*Package, error) {
	if doc == nil {
		return nil, &LoadError{Problems: []Problem{{Reason: "nil policy document"}}}
	}

	c := &compiler{env: e.env}
	pkg := &Package{
		Name:          strings.TrimSpace(doc.Name),
		Version:       strings.TrimSpace(doc.Version),
		EffectiveDate: doc.EffectiveDate,
		Description:   doc.Description,
	}

	if pkg.Name == "" {
		c.fail("", "name is required")
	}
	if pkg.Version == "" {
		c.fail("", "version is required")
	}
	if doc.EffectiveDate != "" {
		if _, err := time.Parse("2006-01-02", doc.EffectiveDate); err != nil {
			c.fail("", fmt.Sprintf("effective_date %q must be YYYY-MM-DD", doc.EffectiveDate))
		}
	}
	if len(doc.Rules) == 0 {
		c.fail("", "policy must have at least one rule")
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		id := strings.TrimSpace(rd.ID)
		c.rule = id
		if id == "" {
			c.rule = fmt.Sprintf("#%d", i)
			c.fail("", "rule id is required")
		} else if seen[id] {
			c.fail("", "duplicate rule id")
		}
		seen[id] = true

		sev, err := ParseSeverity(rd.Severity)
		if err != nil {
			c.fail("", err.Error())
		}

		var cond Condition
		if rd.Condition == nil {
			c.fail("$", "condition is required")
		} else {
			cond = c.condition(rd.Condition, "$", 1)
		}

		pkg.Rules = append(pkg.Rules, Rule{
			ID:              id,
			Description:     rd.Description,
			Severity:        sev,
			Condition:       cond,
			RemediationHint: rd.RemediationHint,
			ControlRefs:     append([]string(nil), rd.ControlRefs...),
		})
	}

	if len(c.problems) > 0 {
		return nil, &LoadError{Package: pkg.Name, Problems: c.problems}
	}
	return pkg, nil
}

type compiler struct {
	env      *cel.Env
	rule     string
	problems []Problem
}

func (c *compiler) fail(path, reason string) {
	c.problems = append(c.problems, Problem{RuleID: c.rule, Path: path, Reason: reason})
}

var conditionKeys = []string{"and", "compare", "equals", "exists", "expr", "not", "or"}

func (c *compiler) condition(raw any, path string, depth int) Condition {
	if depth > MaxConditionDepth {
		c.fail(path, fmt.Sprintf("condition nested deeper than %d levels", MaxConditionDepth))
		return nil
	}

	node, ok := asMap(raw)
	if !ok {
		c.fail(path, fmt.Sprintf("condition must be an object, got %T", raw))
		return nil
	}
	if len(node) != 1 {
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c.fail(path, fmt.Sprintf("condition must have exactly one of %s, got [%s]",
			strings.Join(conditionKeys, ", "), strings.Join(keys, ", ")))
		return nil
	}

	for key, body := range node {
		switch key {
		case "equals":
			field, value, ok := c.fieldValue(body, path+".equals", false)
			if !ok {
				return nil
			}
			return Equals{Field: field, Value: value}
		case "exists":
			field, ok := body.(string)
			if !ok {
				c.fail(path+".exists", "exists takes a field path string")
				return nil
			}
			if !c.validField(field, path+".exists") {
				return nil
			}
			return Exists{Field: field}
		case "compare":
			m, _ := asMap(body)
			field, value, ok := c.fieldValue(body, path+".compare", true)
			if !ok {
				return nil
			}
			opRaw, _ := m["op"].(string)
			op, err := ParseCompareOp(opRaw)
			if err != nil {
				c.fail(path+".compare", err.Error())
				return nil
			}
			return Compare{Field: field, Op: op, Value: value}
		case "and", "or":
			children := c.children(body, path+"."+key, depth)
			if children == nil {
				return nil
			}
			if key == "and" {
				return And{Children: children}
			}
			return Or{Children: children}
		case "not":
			child := c.condition(body, path+".not", depth+1)
			if child == nil {
				return nil
			}
			return Not{Child: child}
		case "expr":
			src, ok := body.(string)
			if !ok || strings.TrimSpace(src) == "" {
				c.fail(path+".expr", "expr takes a non-empty CEL string")
				return nil
			}
			return c.expr(src, path+".expr")
		default:
			c.fail(path, fmt.Sprintf("unknown condition %q", key))
			return nil
		}
	}
	return nil
}

func (c *compiler) children(body any, path string, depth int) []Condition {
	list, ok := body.([]any)
	if !ok {
		c.fail(path, "combinator takes a list of conditions")
		return nil
	}
	if len(list) == 0 {
		c.fail(path, "combinator must have at least one condition")
		return nil
	}

	out := make([]Condition, 0, len(list))
	broken := false
	for i, raw := range list {
		child := c.condition(raw, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if child == nil {
			broken = true
			continue
		}
		out = append(out, child)
	}
	if broken {
		return nil
	}
	return out
}

func (c *compiler) fieldValue(body any, path string, allowOp bool) (string, any, bool) {
	m, ok := asMap(body)
	if !ok {
		c.fail(path, "expected an object with field and value")
		return "", nil, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "field" && k != "value" && !(allowOp && k == "op") {
			c.fail(path, fmt.Sprintf("unexpected key %q", k))
			return "", nil, false
		}
	}
	field, _ := m["field"].(string)
	if !c.validField(field, path) {
		return "", nil, false
	}
	value, present := m["value"]
	if !present {
		c.fail(path, "value is required")
		return "", nil, false
	}
	value = normalizeValue(value)
	if kindOfValue(value) == kindOther {
		c.fail(path, fmt.Sprintf("unsupported value type %T", value))
		return "", nil, false
	}
	return field, value, true
}

func (c *compiler) validField(field, path string) bool {
	if strings.TrimSpace(field) == "" {
		c.fail(path, "field is required")
		return false
	}
	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			c.fail(path, fmt.Sprintf("field %q has an empty path segment", field))
			return false
		}
	}
	return true
}

func (c *compiler) expr(src, path string) Condition {
	ast, issues := c.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		c.fail(path, fmt.Sprintf("CEL compile error: %v", issues.Err()))
		return nil
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		c.fail(path, fmt.Sprintf("expression must return bool, got %s", out))
		return nil
	}
	prg, err := c.env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		c.fail(path, fmt.Sprintf("CEL program error: %v", err))
		return nil
	}
	return &Expr{Source: src, program: prg}
}

// exprCostLimit keeps one expression's runtime bounded.
const exprCostLimit = 1_000_000

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
