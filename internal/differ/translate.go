package differ

import (
	"strings"

	"github.com/wI2L/jsondiff"
)

// Translate patches to english
func Translate(patches jsondiff.Patch) []string {
	if len(patches) == 0 {
		return nil
	}

	var translations []string
	seen := make(map[string]bool)

	for _, op := range patches {
		translation := translateOperation(op)
		if translation != "" && !seen[translation] {
			seen[translation] = true
			translations = append(translations, translation)
		}
	}

	return translations
}

func translateOperation(op jsondiff.Operation) string {
	switch op.Type {
	case jsondiff.OperationAdd:
		return translateAdd(op.Path)
	case jsondiff.OperationRemove:
		return translateRemove(op.Path)
	case jsondiff.OperationReplace:
		return translateReplace(op.Path)
	default:
		return ""
	}
}

func translateAdd(path string) string {
	switch {
	case strings.Contains(path, "/diagnostics"):
		return "New diagnostics recorded."
	case strings.Contains(path, "/trace"):
		return "Condition trace extended."
	case strings.Contains(path, "/remediation"):
		return "Remediation hint now shown."
	case isRuleEntry(path):
		return "Rule added to the package."
	}
	return "Verdict field added."
}

func translateRemove(path string) string {
	switch {
	case strings.Contains(path, "/diagnostics"):
		return "Diagnostics cleared."
	case strings.Contains(path, "/trace"):
		return "Condition trace shortened."
	case strings.Contains(path, "/remediation"):
		return "Remediation hint no longer shown."
	case isRuleEntry(path):
		return "Rule removed from the package."
	}
	return "Verdict field removed."
}

func translateReplace(path string) string {
	switch {
	case path == "/overall_status":
		return "Overall status changed."
	case path == "/score":
		return "Score changed."
	case strings.HasPrefix(path, "/policy_ref"):
		return "Policy reference changed."
	case strings.HasSuffix(path, "/passed") && !strings.Contains(path, "/trace"):
		return "Rule outcome changed."
	case strings.HasSuffix(path, "/severity"):
		return "Rule severity changed."
	case strings.HasSuffix(path, "/detail"):
		return "Rule explanation changed."
	case strings.Contains(path, "/diagnostics"):
		return "Diagnostics changed."
	case strings.Contains(path, "/trace"):
		return "Condition trace changed."
	case strings.HasSuffix(path, "/rule_id"):
		return "Rule order changed."
	}
	return "Verdict field modified."
}

// isRuleEntry reports whether path names a whole /rule_results/N element.
func isRuleEntry(path string) bool {
	rest, ok := strings.CutPrefix(path, "/rule_results/")
	return ok && !strings.Contains(rest, "/")
}
