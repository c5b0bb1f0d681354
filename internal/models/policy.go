package models

// PolicyDocument is the on-disk (YAML or JSON) form of a policy package.
type PolicyDocument struct {
	Name          string         `yaml:"name" json:"name"`
	Version       string         `yaml:"version" json:"version"`
	EffectiveDate string         `yaml:"effective_date" json:"effective_date"`
	Description   string         `yaml:"description,omitempty" json:"description,omitempty"`
	Rules         []RuleDocument `yaml:"rules" json:"rules"`
}

// RuleDocument is one rule as authored.
type RuleDocument struct {
	ID              string         `yaml:"id" json:"id"`
	Description     string         `yaml:"description" json:"description"`
	Severity        string         `yaml:"severity" json:"severity"`
	Condition       map[string]any `yaml:"condition" json:"condition"`
	RemediationHint string         `yaml:"remediation_hint,omitempty" json:"remediation_hint,omitempty"`
	ControlRefs     []string       `yaml:"control_refs,omitempty" json:"control_refs,omitempty"`
}

// PolicyRef names a published policy package
type PolicyRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String returns name@version
func (r PolicyRef) String() string {
	return r.Name + "@" + r.Version
}
