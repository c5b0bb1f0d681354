package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/complyledger/complyledger/internal/artifact"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/complyledger/complyledger/internal/policy"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Validate, inspect and distribute policy packages",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a policy package and list every problem",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyValidate,
}

var policyPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in policy presets",
	Args:  cobra.NoArgs,
	RunE:  runPolicyPresets,
}

var policyExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Describe what a policy package checks",
	Long: `Explain prints every rule of a package with its severity, control
references and condition, as markdown or JSON.

Example:
  complyledger policy explain --preset sama_csf
  complyledger policy explain --policy ./policy.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runPolicyExplain,
}

var policyPullCmd = &cobra.Command{
	Use:   "pull <oci-ref>",
	Short: "Fetch a policy package published as an OCI artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyPull,
}

var policyPublishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Publish a validated policy package",
	Long: `Publish validates a package and stores it in the Redis policy registry
(keyed name@version, publish once) and/or pushes it as an OCI artifact.

Example:
  complyledger policy publish ./policy.yaml --registry
  complyledger policy publish ./policy.yaml --ref ghcr.io/acme/policies/sama:1.0`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyPublish,
}

var policyVersionsCmd = &cobra.Command{
	Use:   "versions <name>",
	Short: "List published versions of a package in the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyVersions,
}

var (
	explainSource  policySource
	explainJSON    bool
	pullOutput     string
	publishRef     string
	publishToRedis bool
)

func init() {
	explainSource.register(policyExplainCmd)
	policyExplainCmd.Flags().BoolVar(&explainJSON, "json", false, "Print as JSON")

	policyPullCmd.Flags().StringVarP(&pullOutput, "output", "o", "", "Write the policy to a file instead of stdout")

	policyPublishCmd.Flags().StringVar(&publishRef, "ref", "", "Push as an OCI artifact to this reference")
	policyPublishCmd.Flags().BoolVar(&publishToRedis, "registry", false, "Publish to the configured Redis registry")

	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyPresetsCmd)
	policyCmd.AddCommand(policyExplainCmd)
	policyCmd.AddCommand(policyPullCmd)
	policyCmd.AddCommand(policyPublishCmd)
	policyCmd.AddCommand(policyVersionsCmd)
}

// GetPolicyCmd returns the policy command
func GetPolicyCmd() *cobra.Command {
	return policyCmd
}

func runPolicyValidate(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger policy validate", os.Args[1:])
	defer func() {
		_ = sess.Finish(err, receipt.WithPolicyFile(args[0]))
	}()
	ctx, done := startCommand(ctx, "policy.validate")
	defer func() { done(err) }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}
	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pkg, err := engine.LoadPackage(data)
	if err != nil {
		var le *policy.LoadError
		if errors.As(err, &le) {
			red.Fprintf(out, "✗ %s: %d problem(s)\n", args[0], len(le.Problems))
			for _, p := range le.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return err
	}
	green.Fprintf(out, "✓ %s is valid (%d rules)\n", pkg.Ref(), len(pkg.Rules))
	return nil
}

func runPolicyPresets(cmd *cobra.Command, _ []string) error {
	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range policy.ListPresetNames() {
		pkg, err := engine.GetPreset(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-20s %-28s %d rules\n", name, pkg.Ref(), len(pkg.Rules))
	}
	return nil
}

// ruleExplanation is one rule in explain output.
type ruleExplanation struct {
	ID          string   `json:"id"`
	Severity    string   `json:"severity"`
	Description string   `json:"description,omitempty"`
	ControlRefs []string `json:"control_refs,omitempty"`
	Condition   string   `json:"condition"`
	Remediation string   `json:"remediation,omitempty"`
}

// packageExplanation is the explain output.
type packageExplanation struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	EffectiveDate string            `json:"effective_date,omitempty"`
	Description   string            `json:"description,omitempty"`
	Rules         []ruleExplanation `json:"rules"`
}

func explainPackage(pkg *policy.Package) packageExplanation {
	ex := packageExplanation{
		Name:          pkg.Name,
		Version:       pkg.Version,
		EffectiveDate: pkg.EffectiveDate,
		Description:   pkg.Description,
		Rules:         make([]ruleExplanation, 0, len(pkg.Rules)),
	}
	for _, r := range pkg.Rules {
		ex.Rules = append(ex.Rules, ruleExplanation{
			ID:          r.ID,
			Severity:    r.Severity.String(),
			Description: r.Description,
			ControlRefs: r.ControlRefs,
			Condition:   policy.Describe(r.Condition),
			Remediation: r.RemediationHint,
		})
	}
	return ex
}

func runPolicyExplain(cmd *cobra.Command, _ []string) (err error) {
	ctx, done := startCommand(cmd.Context(), "policy.explain")
	defer func() { done(err) }()

	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}
	loaded, err := explainSource.load(ctx, engine)
	if err != nil {
		return err
	}

	ex := explainPackage(loaded.pkg)
	if explainJSON {
		return writeJSON(cmd.OutOrStdout(), "", ex)
	}
	writeExplanationMarkdown(cmd.OutOrStdout(), ex)
	return nil
}

func writeExplanationMarkdown(w io.Writer, ex packageExplanation) {
	fmt.Fprintf(w, "# %s@%s\n\n", ex.Name, ex.Version)
	if ex.Description != "" {
		fmt.Fprintf(w, "%s\n\n", ex.Description)
	}
	if ex.EffectiveDate != "" {
		fmt.Fprintf(w, "Effective: %s\n\n", ex.EffectiveDate)
	}
	fmt.Fprintln(w, "| Rule | Severity | Controls | Condition |")
	fmt.Fprintln(w, "|------|----------|----------|-----------|")
	for _, r := range ex.Rules {
		fmt.Fprintf(w, "| %s | %s | %s | `%s` |\n",
			r.ID, r.Severity, strings.Join(r.ControlRefs, ", "), strings.ReplaceAll(r.Condition, "|", "\\|"))
	}

	var hints []ruleExplanation
	for _, r := range ex.Rules {
		if r.Remediation != "" {
			hints = append(hints, r)
		}
	}
	if len(hints) > 0 {
		fmt.Fprintln(w, "\n## Remediation")
		for _, r := range hints {
			fmt.Fprintf(w, "- **%s**: %s\n", r.ID, r.Remediation)
		}
	}
}

func runPolicyPull(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger policy pull", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "policy.pull")
	defer func() { done(err) }()

	fetched, err := artifact.FetchPolicy(ctx, args[0], artifact.Options{Insecure: cfg.Registry.OCIInsecure})
	if err != nil {
		return err
	}
	opts = append(opts, receipt.WithArtifact(args[0], fetched.Digest))

	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}
	pkg, err := engine.LoadPackage(fetched.Data)
	if err != nil {
		return fmt.Errorf("artifact %s holds an invalid policy: %w", args[0], err)
	}

	if pullOutput == "" {
		_, err = cmd.OutOrStdout().Write(fetched.Data)
		return err
	}
	if err := writeFile(pullOutput, fetched.Data, 0644); err != nil {
		return err
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ %s pulled to %s\n", pkg.Ref(), pullOutput)
	fmt.Fprintf(cmd.OutOrStdout(), "  digest: %s\n", fetched.Digest)
	return nil
}

func runPolicyPublish(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger policy publish", os.Args[1:])
	opts := []receipt.Option{receipt.WithPolicyFile(args[0])}
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "policy.publish")
	defer func() { done(err) }()

	if publishRef == "" && !publishToRedis {
		return fmt.Errorf("nothing to do: pass --registry and/or --ref")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}
	engine, err := policy.NewEngine()
	if err != nil {
		return err
	}
	pkg, err := engine.LoadPackage(data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if publishToRedis {
		reg, err := openRegistry(ctx)
		if err != nil {
			return err
		}
		defer reg.Close()
		if err := reg.Publish(ctx, pkg.Name, pkg.Version, data); err != nil {
			return err
		}
		green.Fprintf(out, "✓ %s published to registry\n", pkg.Ref())
	}

	if publishRef != "" {
		digest, err := artifact.PublishPolicy(ctx, publishRef, policyFileName(args[0]), data,
			artifact.Options{Insecure: cfg.Registry.OCIInsecure})
		if err != nil {
			return err
		}
		opts = append(opts, receipt.WithArtifact(publishRef, digest))
		green.Fprintf(out, "✓ %s pushed to %s\n", pkg.Ref(), publishRef)
		fmt.Fprintf(out, "  digest: %s\n", digest)
	}
	return nil
}

// policyFileName keeps the extension so pullers know how to parse it.
func policyFileName(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "policy.json"
	default:
		return "policy.yaml"
	}
}

func runPolicyVersions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.Close()

	versions, err := reg.Versions(ctx, args[0])
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		yellow.Fprintf(cmd.OutOrStdout(), "no published versions of %s\n", args[0])
		return nil
	}
	for _, v := range versions {
		fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", args[0], v)
	}
	return nil
}
