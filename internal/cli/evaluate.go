package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/complyledger/complyledger/internal/attestor"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/models"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/complyledger/complyledger/internal/policy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errNotPassed is returned when the verdict is anything but pass.
var errNotPassed = errors.New("policy not satisfied")

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a policy package against a context document",
	Long: `Evaluate runs every rule of a policy package against a context document
(JSON or YAML) and prints the verdict. With --record the verdict is appended
to the audit log and the leaf index and root are reported.

Exit code is 0 only when the verdict is pass.

Example:
  complyledger evaluate --preset nca_ecc_baseline --context vendor.json
  complyledger evaluate --policy ./policy.yaml --context vendor.yaml --record --json
  complyledger evaluate --ref ghcr.io/acme/policies/sama:1.0 --context -`,
	RunE: runEvaluate,
}

var (
	evalSource  policySource
	evalContext string
	evalAt      string
	evalRecord  bool
	evalActor   string
	evalJSON    bool
	evalOutput  string
)

func init() {
	evalSource.register(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalContext, "context", "c", "", "Context document (JSON or YAML), '-' for stdin")
	evaluateCmd.Flags().StringVar(&evalAt, "at", "", "Evaluation timestamp, RFC 3339 (default: now)")
	evaluateCmd.Flags().BoolVar(&evalRecord, "record", false, "Append the verdict to the audit log")
	evaluateCmd.Flags().StringVar(&evalActor, "actor", "cli", "Actor recorded in the audit entry")
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the verdict as JSON")
	evaluateCmd.Flags().StringVarP(&evalOutput, "output", "o", "", "Write the verdict JSON to a file")
	_ = evaluateCmd.MarkFlagRequired("context")
}

// GetEvaluateCmd returns the evaluate command
func GetEvaluateCmd() *cobra.Command {
	return evaluateCmd
}

// evaluateResult is the JSON output of evaluate.
type evaluateResult struct {
	Verdict models.Verdict `json:"verdict"`
	Audit   *models.LogRef `json:"audit,omitempty"`
}

func runEvaluate(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger evaluate", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()

	ctx, done := startCommand(ctx, "evaluate")
	defer func() { done(err) }()

	at := evalAt
	if at == "" {
		at = time.Now().UTC().Format(time.RFC3339)
	} else if _, perr := time.Parse(time.RFC3339Nano, at); perr != nil {
		return fmt.Errorf("--at must be RFC 3339: %w", perr)
	}

	input, err := readContext(evalContext)
	if err != nil {
		return err
	}

	var svc *attestor.Service
	if evalRecord {
		svc, err = openService(ctx, "")
		if err != nil {
			return err
		}
	} else {
		engine, eerr := policy.NewEngine()
		if eerr != nil {
			return eerr
		}
		svc, err = attestor.New(engine, auditlog.New())
		if err != nil {
			return err
		}
	}
	defer svc.Log().Close()

	loaded, err := evalSource.load(ctx, svc.Engine())
	if err != nil {
		return err
	}
	opts = append(opts, receipt.WithPolicyFile(loaded.path))
	if loaded.artifactRef != "" {
		opts = append(opts, receipt.WithArtifact(loaded.artifactRef, loaded.artifactDigest))
	}
	var (
		v   models.Verdict
		ref models.LogRef
	)
	if evalRecord {
		v, ref, err = svc.EvaluateAndRecord(ctx, attestor.Request{
			Actor:   evalActor,
			Package: loaded.pkg,
			Context: input,
			At:      at,
		})
	} else {
		v, err = svc.Evaluate(ctx, loaded.pkg, input, at)
	}
	opts = append(opts, receipt.WithPolicy(v.PolicyRef.String(), string(v.OverallStatus), v.Score, v.FailedRules()))
	if evalRecord && ref.TreeSize > 0 {
		opts = append(opts, receipt.WithAudit(ref.LeafIndex, ref.Root, ref.TreeSize))
	}

	result := evaluateResult{Verdict: v}
	if ref.TreeSize > 0 {
		result.Audit = &ref
	}
	out := cmd.OutOrStdout()
	if evalOutput != "" {
		if werr := writeJSON(out, evalOutput, result); werr != nil {
			return werr
		}
	}
	if evalJSON {
		if werr := writeJSON(out, "", result); werr != nil {
			return werr
		}
	} else {
		printVerdict(out, v)
		if result.Audit != nil {
			fmt.Fprintf(out, "\nRecorded: leaf %d, root %s (size %d)\n", ref.LeafIndex, ref.Root, ref.TreeSize)
		}
	}

	if err != nil {
		return err
	}
	if v.OverallStatus != models.StatusPass {
		return fmt.Errorf("%s: %w (%s)", v.PolicyRef, errNotPassed, v.OverallStatus)
	}
	return nil
}

// readContext decodes a JSON or YAML object. JSON numbers keep their exact
// text.
func readContext(path string) (map[string]any, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("context document is empty")
	}

	var out map[string]any
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("invalid context JSON: %w", err)
		}
		if _, err := dec.Token(); err != io.EOF {
			return nil, fmt.Errorf("invalid context JSON: trailing data")
		}
		return out, nil
	}
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("invalid context YAML: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("context must be an object")
	}
	return out, nil
}

func printVerdict(w io.Writer, v models.Verdict) {
	bold.Fprintf(w, "Policy: %s\n", v.PolicyRef)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, r := range v.RuleResults {
		if r.Passed {
			green.Fprintf(w, "✓ %s\n", r.RuleID)
			continue
		}
		c := red
		if r.Severity != "critical" {
			c = yellow
		}
		c.Fprintf(w, "✗ %s [%s]\n", r.RuleID, r.Severity)
		fmt.Fprintf(w, "    %s\n", r.Detail)
		if r.Remediation != "" {
			cyan.Fprintf(w, "    fix: %s\n", r.Remediation)
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 50))

	status := green
	if v.OverallStatus != models.StatusPass {
		status = red
	}
	status.Fprintf(w, "Status: %s", v.OverallStatus)
	fmt.Fprintf(w, "  Score: %.2f\n", v.Score)
}
