package differ

import "github.com/complyledger/complyledger/internal/policy"

// SeverityLevel 0=info, 1=moderate, 2=critical
type SeverityLevel int

const (
	SeveritySafe SeverityLevel = iota
	SeverityModerate
	SeverityCritical
)

// SeverityString to lowercase
func SeverityString(s SeverityLevel) string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityModerate:
		return "moderate"
	case SeveritySafe:
		return "info"
	default:
		return "unknown"
	}
}

// regressionSeverity maps the failing rule's severity token to drift severity.
func regressionSeverity(ruleSeverity string) SeverityLevel {
	sev, err := policy.ParseSeverity(ruleSeverity)
	if err != nil {
		return SeveritySafe
	}
	switch sev {
	case policy.SeverityCritical:
		return SeverityCritical
	case policy.SeverityWarning:
		return SeverityModerate
	default:
		return SeveritySafe
	}
}
