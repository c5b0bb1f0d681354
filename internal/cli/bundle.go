package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/bundler"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/spf13/cobra"
)

const defaultBundlePath = "evidence.zip"

// bundleCmd represents the bundle command group
var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Package audit evidence for auditors",
	Long: `Bundle packages a signed checkpoint of the audit log together with
every entry it covers into a single ZIP file that can be checked offline.`,
}

var bundleExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a deterministic evidence bundle",
	Long: `Export signs a checkpoint of the audit log and writes a ZIP containing:
  - manifest.json (sha256 and size of every member)
  - attestation.json (signed root and tree size)
  - entries.jsonl (every covered entry, canonical JSON)
  - public.key (optional, when keys.public exists)
  - policy.yaml / policy.json (optional, --policy)
  - README.txt (what was recorded)

Identical logs and keys produce identical bundles apart from issued_at.

Example:
  complyledger bundle export --output evidence-2024Q2.zip
  complyledger bundle export --policy ./sama.yaml -o evidence.zip`,
	Args: cobra.NoArgs,
	RunE: runBundleExport,
}

var bundleVerifyCmd = &cobra.Command{
	Use:   "verify <bundle.zip>",
	Short: "Verify an evidence bundle offline",
	Long: `Verify checks every member against the manifest, verifies the
attestation signature and recomputes the Merkle root from entries.jsonl.`,
	Args: cobra.ExactArgs(1),
	RunE: runBundleVerify,
}

var (
	bundleOutputFlag string
	bundleKeyFlag    string
	bundlePolicyFlag string
	bundleTrustFlag  string
)

func init() {
	bundleExportCmd.Flags().StringVarP(&bundleOutputFlag, "output", "o", defaultBundlePath, "Path for the output ZIP file")
	bundleExportCmd.Flags().StringVarP(&bundleKeyFlag, "key", "k", "", "Private key (default: keys.private from config)")
	bundleExportCmd.Flags().StringVar(&bundlePolicyFlag, "policy", "", "Include this policy file")

	bundleVerifyCmd.Flags().StringVarP(&bundleTrustFlag, "key", "k", "", "Trusted public key")

	bundleCmd.AddCommand(bundleExportCmd)
	bundleCmd.AddCommand(bundleVerifyCmd)
}

// GetBundleCmd returns the bundle command group
func GetBundleCmd() *cobra.Command {
	return bundleCmd
}

func runBundleExport(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger bundle export", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "bundle.export")
	defer func() { done(err) }()

	svc, err := openService(ctx, orDefault(bundleKeyFlag, cfg.Keys.Private))
	if err != nil {
		return err
	}
	defer svc.Log().Close()

	a, err := svc.Attest(ctx, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	opts = append(opts, receipt.WithAttestation(a.KeyID, a.Root, a.TreeSize))

	var extra []bundler.File
	if bundlePolicyFlag != "" {
		data, err := os.ReadFile(bundlePolicyFlag)
		if err != nil {
			return fmt.Errorf("failed to read policy: %w", err)
		}
		extra = append(extra, bundler.File{Name: policyFileName(bundlePolicyFlag), Data: data})
		opts = append(opts, receipt.WithPolicyFile(bundlePolicyFlag))
	}

	var pubPEM []byte
	if data, err := os.ReadFile(cfg.Keys.Public); err == nil {
		pub, perr := crypto.LoadPublicKey(cfg.Keys.Public)
		if perr == nil && crypto.KeyID(pub) == a.KeyID {
			pubPEM = data
		}
	}

	files, err := bundler.Evidence(svc.Log(), a, pubPEM, extra...)
	if err != nil {
		return err
	}
	readme, err := generateReadmeContent(svc.Log(), a)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := bundler.Write(&buf, files, readme, bundler.NewManifest(files, a)); err != nil {
		return fmt.Errorf("bundle creation failed: %w", err)
	}
	if err := writeFile(bundleOutputFlag, buf.Bytes(), 0644); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	green.Fprintf(out, "✓ Bundle created: %s\n", bundleOutputFlag)
	fmt.Fprintf(out, "  entries: %d\n  root:    %s\n  key:     %s\n", a.TreeSize, a.Root, a.KeyID)
	return nil
}

// generateReadmeContent summarizes the covered entries by action.
func generateReadmeContent(log *auditlog.Log, a attest.Attestation) (string, error) {
	var sb strings.Builder
	sb.WriteString(bundler.Readme)
	sb.WriteString("\nCovered entries\n")
	sb.WriteString("---------------\n")
	fmt.Fprintf(&sb, "tree size: %d\nroot:      %s\nsigned by: %s\n\n", a.TreeSize, a.Root, a.KeyID)

	counts := map[string]int{}
	for i := uint64(0); i < a.TreeSize; i++ {
		e, err := log.Entry(i)
		if err != nil {
			return "", err
		}
		counts[e.Action]++
	}
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Fprintf(&sb, "  %-20s %d\n", action, counts[action])
	}
	return sb.String(), nil
}

func runBundleVerify(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger bundle verify", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	_, done := startCommand(ctx, "bundle.verify")
	defer func() { done(err) }()

	out := cmd.OutOrStdout()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	b, err := bundler.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, bundler.ErrTampered) {
			red.Fprintf(out, "✗ %v\n", err)
		}
		return err
	}
	a := b.Attestation

	var ok bool
	if bundleTrustFlag != "" {
		pub, err := crypto.LoadPublicKey(bundleTrustFlag)
		if err != nil {
			return err
		}
		ok, err = attest.VerifyWithKey(a, pub)
		if err != nil {
			return err
		}
	} else {
		yellow.Fprintln(out, "⚠ no --key given: trusting the public key embedded in the attestation")
		ok, err = attest.Verify(a)
		if err != nil {
			return err
		}
	}
	if !ok {
		red.Fprintln(out, "✗ attestation signature is invalid")
		return errSignatureInvalid
	}
	if err := b.CheckRoot(); err != nil {
		red.Fprintf(out, "✗ %v\n", err)
		return err
	}
	opts = append(opts, receipt.WithAttestation(a.KeyID, a.Root, a.TreeSize))

	green.Fprintf(out, "✓ bundle verified: %d entries, root %s\n", a.TreeSize, a.Root)
	fmt.Fprintf(out, "  key: %s\n", a.KeyID)
	return nil
}
