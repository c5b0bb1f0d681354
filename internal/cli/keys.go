package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/spf13/cobra"
)

var errSignatureInvalid = errors.New("signature verification failed")

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 keypair for signing log roots",
	Long: `Generate a new Ed25519 keypair for attesting audit log roots.

This creates two PEM files:
  - the private key: keep it secret, it signs checkpoints.
  - the public key:  give it to auditors so they can verify them.

Example:
  complyledger keygen
  complyledger keygen --private ledger.key --public ledger.pub`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var (
	keygenPrivateFlag string
	keygenPublicFlag  string
)

func init() {
	keygenCmd.Flags().StringVar(&keygenPrivateFlag, "private", "", "Path for the private key (default: keys.private from config)")
	keygenCmd.Flags().StringVar(&keygenPublicFlag, "public", "", "Path for the public key (default: keys.public from config)")
}

// GetKeygenCmd returns the keygen command
func GetKeygenCmd() *cobra.Command {
	return keygenCmd
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	priv := orDefault(keygenPrivateFlag, cfg.Keys.Private)
	pub := orDefault(keygenPublicFlag, cfg.Keys.Public)

	if _, err := os.Stat(priv); err == nil {
		return fmt.Errorf("private key already exists at %s (use different path or delete existing)", priv)
	}
	if _, err := os.Stat(pub); err == nil {
		return fmt.Errorf("public key already exists at %s (use different path or delete existing)", pub)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Generating Ed25519 keypair...")
	if err := crypto.GenerateKeys(priv, pub); err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}
	pubKey, err := crypto.LoadPublicKey(pub)
	if err != nil {
		return err
	}

	green.Fprintf(out, "✓ Private key saved: %s\n", priv)
	green.Fprintf(out, "✓ Public key saved:  %s\n", pub)
	fmt.Fprintf(out, "  key id: %s\n", crypto.KeyID(pubKey))
	red.Fprintln(out, "\n⚠ Keep your private key secret!")
	return nil
}

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Sign and verify audit log roots",
}

var attestSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign the current root of the audit log",
	Long: `Sign produces an attestation over the current root and size of the
audit log. With --root-only it writes a detached signature over the root
alone instead.

Example:
  complyledger attest sign --output attestation.json
  complyledger attest sign --root-only --output root.sig`,
	Args: cobra.NoArgs,
	RunE: runAttestSign,
}

var attestVerifyCmd = &cobra.Command{
	Use:   "verify [attestation.json]",
	Short: "Verify an attestation or a detached root signature",
	Long: `Verify checks an attestation file. With --key the signature must come
from that public key instead of the one embedded in the attestation. With
--check-log the attested root must also match the local audit log at the
attested size, which proves the log was not rewritten since.

For detached root signatures pass --root, --signature and --key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttestVerify,
}

var (
	attestKeyFlag      string
	attestOutputFlag   string
	attestRootOnlyFlag bool

	verifyKeyFlag       string
	verifyRootFlag      string
	verifySignatureFlag string
	verifyCheckLogFlag  bool
)

func init() {
	attestSignCmd.Flags().StringVarP(&attestKeyFlag, "key", "k", "", "Private key (default: keys.private from config)")
	attestSignCmd.Flags().StringVarP(&attestOutputFlag, "output", "o", "", "Output file (default: stdout)")
	attestSignCmd.Flags().BoolVar(&attestRootOnlyFlag, "root-only", false, "Write a detached signature over the root only")

	attestVerifyCmd.Flags().StringVarP(&verifyKeyFlag, "key", "k", "", "Trusted public key")
	attestVerifyCmd.Flags().StringVar(&verifyRootFlag, "root", "", "Root for a detached signature (sha256:<hex>)")
	attestVerifyCmd.Flags().StringVarP(&verifySignatureFlag, "signature", "s", "", "Detached signature file")
	attestVerifyCmd.Flags().BoolVar(&verifyCheckLogFlag, "check-log", false, "Also compare the attested root with the local audit log")

	attestCmd.AddCommand(attestSignCmd)
	attestCmd.AddCommand(attestVerifyCmd)
}

// GetAttestCmd returns the attest command
func GetAttestCmd() *cobra.Command {
	return attestCmd
}

func runAttestSign(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger attest sign", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "attest.sign")
	defer func() { done(err) }()

	svc, err := openService(ctx, orDefault(attestKeyFlag, cfg.Keys.Private))
	if err != nil {
		return err
	}
	defer svc.Log().Close()
	out := cmd.OutOrStdout()

	if attestRootOnlyFlag {
		root, sig, err := svc.SignRoot(ctx)
		if err != nil {
			return err
		}
		keyID := crypto.KeyID(svc.Signer().PublicKey())
		opts = append(opts, receipt.WithAttestation(keyID, root.String(), svc.Log().Size()))
		data := crypto.WriteSignature(sig, crypto.SignatureHeader{
			Algorithm: svc.Signer().Algorithm(),
			Message:   attest.RootFormat,
			KeyID:     keyID,
		})
		if attestOutputFlag == "" {
			_, err = out.Write(data)
			return err
		}
		if err := writeFile(attestOutputFlag, data, 0644); err != nil {
			return err
		}
		green.Fprintf(out, "✓ root %s signed\n", root)
		fmt.Fprintf(out, "  signature saved to: %s\n", attestOutputFlag)
		return nil
	}

	a, err := svc.Attest(ctx, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	opts = append(opts, receipt.WithAttestation(a.KeyID, a.Root, a.TreeSize))
	if err := writeJSON(out, attestOutputFlag, a); err != nil {
		return err
	}
	if attestOutputFlag != "" {
		green.Fprintf(out, "✓ attested size %d, root %s\n", a.TreeSize, a.Root)
		fmt.Fprintf(out, "  attestation saved to: %s\n", attestOutputFlag)
	}
	return nil
}

func runAttestVerify(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger attest verify", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "attest.verify")
	defer func() { done(err) }()

	out := cmd.OutOrStdout()

	if len(args) == 0 {
		return verifyDetachedRoot(cmd)
	}

	data, err := readInput(args[0])
	if err != nil {
		return fmt.Errorf("failed to read attestation: %w", err)
	}
	var a attest.Attestation
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid attestation: %w", err)
	}

	var ok bool
	if verifyKeyFlag != "" {
		pub, err := crypto.LoadPublicKey(verifyKeyFlag)
		if err != nil {
			return err
		}
		if crypto.KeyID(pub) != a.KeyID {
			red.Fprintf(out, "✗ attestation was signed by %s, not by %s\n", a.KeyID, crypto.KeyID(pub))
			return errSignatureInvalid
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
	opts = append(opts, receipt.WithAttestation(a.KeyID, a.Root, a.TreeSize))
	green.Fprintf(out, "✓ attestation valid: size %d, root %s\n", a.TreeSize, a.Root)
	fmt.Fprintf(out, "  key: %s\n", a.KeyID)

	if !verifyCheckLogFlag {
		return nil
	}
	return checkAgainstLog(cmd, a)
}

// checkAgainstLog recomputes the root of the local log's first TreeSize
// leaves and compares it with the attested root.
func checkAgainstLog(cmd *cobra.Command, a attest.Attestation) error {
	out := cmd.OutOrStdout()
	want, err := auditlog.ParseHash(a.Root)
	if err != nil {
		return err
	}
	log, err := openLog(cmd.Context())
	if err != nil {
		return err
	}
	defer log.Close()

	snap := log.Snapshot()
	if snap.Size() < a.TreeSize {
		red.Fprintf(out, "✗ local log has %d leaves, attestation covers %d\n", snap.Size(), a.TreeSize)
		return fmt.Errorf("audit log is shorter than the attested size")
	}
	got := auditlog.ComputeRoot(snap.Leaves[:a.TreeSize])
	if got != want {
		red.Fprintf(out, "✗ local log root at size %d is %s\n", a.TreeSize, got)
		return fmt.Errorf("audit log diverges from the attested root")
	}
	green.Fprintf(out, "✓ local log matches the attested root at size %d (now %d)\n", a.TreeSize, snap.Size())
	return nil
}

func verifyDetachedRoot(cmd *cobra.Command) error {
	if verifyRootFlag == "" || verifySignatureFlag == "" || verifyKeyFlag == "" {
		return fmt.Errorf("pass an attestation file, or --root, --signature and --key")
	}
	out := cmd.OutOrStdout()

	root, err := auditlog.ParseHash(verifyRootFlag)
	if err != nil {
		return err
	}
	sigData, err := os.ReadFile(verifySignatureFlag)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	env, err := crypto.ReadSignature(sigData)
	if err != nil {
		return err
	}
	if env.Header != nil && env.Header.Message != "" && env.Header.Message != attest.RootFormat {
		return fmt.Errorf("signature is over %q, not a root", env.Header.Message)
	}
	pub, err := crypto.LoadPublicKey(verifyKeyFlag)
	if err != nil {
		return err
	}

	ok, err := attest.VerifyRootWith(env.GetAlgorithm(), root, env.Signature, pub)
	if err != nil {
		return err
	}
	if !ok {
		red.Fprintln(out, "✗ root signature is invalid")
		return errSignatureInvalid
	}
	green.Fprintf(out, "✓ root %s signed by %s\n", root, crypto.KeyID(pub))
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
