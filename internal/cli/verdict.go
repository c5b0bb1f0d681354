package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/complyledger/complyledger/internal/attestor"
	"github.com/complyledger/complyledger/internal/differ"
	"github.com/complyledger/complyledger/internal/models"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/spf13/cobra"
)

// FailOnLevel threshold for failure
type FailOnLevel string

const (
	FailOnCritical FailOnLevel = "critical"
	FailOnModerate FailOnLevel = "moderate"
	FailOnInfo     FailOnLevel = "info"
)

// ParseFailOnLevel from string
func ParseFailOnLevel(s string) (FailOnLevel, error) {
	switch strings.ToLower(s) {
	case "critical":
		return FailOnCritical, nil
	case "moderate":
		return FailOnModerate, nil
	case "info":
		return FailOnInfo, nil
	default:
		return "", fmt.Errorf("invalid fail-on level: %s (use critical, moderate, or info)", s)
	}
}

// ShouldFail checks limits
func (f FailOnLevel) ShouldFail(severity differ.SeverityLevel) bool {
	switch f {
	case FailOnCritical:
		return severity == differ.SeverityCritical
	case FailOnModerate:
		return severity >= differ.SeverityModerate
	case FailOnInfo:
		return true
	default:
		return severity == differ.SeverityCritical
	}
}

// DiffResult output structure
type DiffResult struct {
	From    string           `json:"from"`
	To      string           `json:"to"`
	Status  string           `json:"status"`
	Score   string           `json:"score"`
	Summary DiffSummary      `json:"summary"`
	Changes []DiffOutputItem `json:"changes"`
	Patch   json.RawMessage  `json:"patch,omitempty"`
	FailOn  string           `json:"failOn"`
	Outcome string           `json:"outcome"` // "PASS" or "FAIL"
}

// DiffSummary by severity
type DiffSummary struct {
	Critical int `json:"critical"`
	Moderate int `json:"moderate"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// DiffOutputItem detail
type DiffOutputItem struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	RuleID   string `json:"ruleId"`
	Message  string `json:"message"`
}

// BuildDiffResult applies the fail-on threshold to a drift.
func BuildDiffResult(d *differ.Drift, failOn FailOnLevel) DiffResult {
	critical, moderate, info := d.Counts()
	res := DiffResult{
		From:    d.OldRef.String(),
		To:      d.NewRef.String(),
		Status:  fmt.Sprintf("%s -> %s", d.OldStatus, d.NewStatus),
		Score:   fmt.Sprintf("%.2f -> %.2f", d.OldScore, d.NewScore),
		Summary: DiffSummary{Critical: critical, Moderate: moderate, Info: info, Total: len(d.Changes)},
		Changes: make([]DiffOutputItem, 0, len(d.Changes)),
		FailOn:  string(failOn),
		Outcome: "PASS",
	}
	if len(d.Patch) > 0 {
		if raw, err := json.Marshal(d.Patch); err == nil {
			res.Patch = raw
		}
	}
	for _, c := range d.Changes {
		res.Changes = append(res.Changes, DiffOutputItem{
			Type:     string(c.Type),
			Severity: differ.SeverityString(c.Severity),
			RuleID:   c.RuleID,
			Message:  c.Message,
		})
		if failOn.ShouldFail(c.Severity) {
			res.Outcome = "FAIL"
		}
	}
	return res
}

var verdictCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Inspect recorded verdicts",
}

var verdictDiffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show compliance drift between two verdicts",
	Long: `Diff compares two verdicts rule by rule and classifies each change.
Each side is a verdict JSON file (as written by evaluate --json) or
leaf:<index> to read a recorded verdict from the audit log.

Exit code is 1 when a change meets the --fail-on threshold.

Example:
  complyledger verdict diff last-quarter.json today.json
  complyledger verdict diff leaf:3 leaf:9 --fail-on moderate --json`,
	Args: cobra.ExactArgs(2),
	RunE: runVerdictDiff,
}

var (
	diffFailOnFlag string
	diffJSONFlag   bool
)

func init() {
	verdictDiffCmd.Flags().StringVar(&diffFailOnFlag, "fail-on", "critical", "Severity threshold for failure: critical, moderate, or info")
	verdictDiffCmd.Flags().BoolVar(&diffJSONFlag, "json", false, "Print as JSON")
	verdictCmd.AddCommand(verdictDiffCmd)
}

// GetVerdictCmd returns the verdict command
func GetVerdictCmd() *cobra.Command {
	return verdictCmd
}

func runVerdictDiff(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger verdict diff", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "verdict.diff")
	defer func() { done(err) }()

	failOn, err := ParseFailOnLevel(diffFailOnFlag)
	if err != nil {
		return err
	}

	from, err := loadVerdict(cmd, args[0])
	if err != nil {
		return err
	}
	to, err := loadVerdict(cmd, args[1])
	if err != nil {
		return err
	}

	d, err := differ.CompareVerdicts(from, to)
	if err != nil {
		return err
	}
	critical, moderate, info := d.Counts()
	opts = append(opts, receipt.WithDrift(critical, moderate, info, d.Summary()))

	res := BuildDiffResult(d, failOn)
	if diffJSONFlag {
		if err := writeJSON(cmd.OutOrStdout(), "", res); err != nil {
			return err
		}
	} else {
		printDrift(cmd.OutOrStdout(), d)
	}

	if res.Outcome == "FAIL" {
		return fmt.Errorf("drift at or above %s: %s", failOn, d.Summary())
	}
	return nil
}

// loadVerdict reads a verdict from a file or from an audit log leaf.
func loadVerdict(cmd *cobra.Command, src string) (models.Verdict, error) {
	var data []byte
	if idx, ok := strings.CutPrefix(src, "leaf:"); ok {
		index, err := strconv.ParseUint(idx, 10, 64)
		if err != nil {
			return models.Verdict{}, fmt.Errorf("invalid leaf index %q", idx)
		}
		log, err := openLog(cmd.Context())
		if err != nil {
			return models.Verdict{}, err
		}
		defer log.Close()
		entry, err := log.Entry(index)
		if err != nil {
			return models.Verdict{}, err
		}
		if entry.Action != attestor.ActionEvaluate {
			return models.Verdict{}, fmt.Errorf("leaf %d is a %q action, not a verdict", index, entry.Action)
		}
		data, err = json.Marshal(entry.Payload)
		if err != nil {
			return models.Verdict{}, err
		}
	} else {
		var err error
		data, err = readInput(src)
		if err != nil {
			return models.Verdict{}, fmt.Errorf("failed to read verdict: %w", err)
		}
	}
	return decodeVerdict(data)
}

// decodeVerdict accepts a bare verdict or evaluate's {"verdict": ...} output.
func decodeVerdict(data []byte) (models.Verdict, error) {
	var wrapped struct {
		Verdict *models.Verdict `json:"verdict"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Verdict != nil {
		return *wrapped.Verdict, nil
	}
	var v models.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return models.Verdict{}, fmt.Errorf("invalid verdict JSON: %w", err)
	}
	if v.PolicyRef.Name == "" || v.OverallStatus == "" {
		return models.Verdict{}, fmt.Errorf("document is not a verdict")
	}
	return v, nil
}

func printDrift(w io.Writer, d *differ.Drift) {
	if !d.HasDrift {
		green.Fprintf(w, "✓ No drift between %s and %s\n", d.OldRef, d.NewRef)
		return
	}

	yellow.Fprintln(w, "╔══════════════════════════════════════╗")
	yellow.Fprintln(w, "║        COMPLIANCE DRIFT              ║")
	yellow.Fprintln(w, "╚══════════════════════════════════════╝")
	fmt.Fprintf(w, "%s -> %s\n", d.OldRef, d.NewRef)
	fmt.Fprintf(w, "status: %s -> %s   score: %.2f -> %.2f\n\n", d.OldStatus, d.NewStatus, d.OldScore, d.NewScore)

	for _, c := range d.Changes {
		col := cyan
		switch c.Severity {
		case differ.SeverityCritical:
			col = red
		case differ.SeverityModerate:
			col = yellow
		}
		col.Fprintf(w, "  • [%s] %s: %s\n", differ.SeverityString(c.Severity), c.RuleID, c.Message)
	}
	fmt.Fprintf(w, "\n%s\n", d.Summary())
}
