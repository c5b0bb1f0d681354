package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/models"
	"github.com/complyledger/complyledger/internal/observability/logging"
	"github.com/complyledger/complyledger/internal/observability/receipt"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Work with the append-only audit log",
}

var auditAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an auditable action to the log",
	Long: `Append records one action. The payload is a JSON document given inline
or read from a file with @path ('@-' for stdin).

Example:
  complyledger audit append --actor alice --action approve --resource vendor-42 --payload '{"ticket":"SEC-1"}'`,
	Args: cobra.NoArgs,
	RunE: runAuditAppend,
}

var auditRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the current root and size of the log",
	Args:  cobra.NoArgs,
	RunE:  runAuditRoot,
}

var auditProofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Produce an inclusion proof for one leaf",
	Args:  cobra.NoArgs,
	RunE:  runAuditProof,
}

var auditVerifyProofCmd = &cobra.Command{
	Use:   "verify-proof <proof.json>",
	Short: "Verify an inclusion proof offline",
	Long: `Verify-proof recomputes the root from the leaf hash and siblings in a
proof file. With --root the recomputed root must also equal a root you
already trust, for example one taken from a signed attestation.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerifyProof,
}

var auditCheckpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Sign the current root and size and append it to the checkpoint file",
	Args:  cobra.NoArgs,
	RunE:  runAuditCheckpoint,
}

var (
	appendActor    string
	appendAction   string
	appendResource string
	appendPayload  string
	appendAt       string

	rootJSON bool

	proofIndex  uint64
	proofOutput string

	verifyTrustedRoot string

	checkpointKey    string
	checkpointOutput string
)

func init() {
	auditAppendCmd.Flags().StringVar(&appendActor, "actor", "", "Who performed the action")
	auditAppendCmd.Flags().StringVar(&appendAction, "action", "", "What was done")
	auditAppendCmd.Flags().StringVar(&appendResource, "resource", "", "What it was done to")
	auditAppendCmd.Flags().StringVar(&appendPayload, "payload", "{}", "JSON payload, or @file")
	auditAppendCmd.Flags().StringVar(&appendAt, "at", "", "Timestamp, RFC 3339 (default: now)")
	_ = auditAppendCmd.MarkFlagRequired("actor")
	_ = auditAppendCmd.MarkFlagRequired("action")

	auditRootCmd.Flags().BoolVar(&rootJSON, "json", false, "Print as JSON")

	auditProofCmd.Flags().Uint64Var(&proofIndex, "index", 0, "Leaf index")
	auditProofCmd.Flags().StringVarP(&proofOutput, "output", "o", "", "Write the proof to a file")
	_ = auditProofCmd.MarkFlagRequired("index")

	auditVerifyProofCmd.Flags().StringVar(&verifyTrustedRoot, "root", "", "Trusted root (sha256:<hex>)")

	auditCheckpointCmd.Flags().StringVar(&checkpointKey, "key", "", "Private key (default: keys.private from config)")
	auditCheckpointCmd.Flags().StringVarP(&checkpointOutput, "output", "o", "", "Checkpoint file, '-' for stdout (default: audit.checkpoint_output)")

	auditCmd.AddCommand(auditAppendCmd)
	auditCmd.AddCommand(auditRootCmd)
	auditCmd.AddCommand(auditProofCmd)
	auditCmd.AddCommand(auditVerifyProofCmd)
	auditCmd.AddCommand(auditCheckpointCmd)
}

// GetAuditCmd returns the audit command
func GetAuditCmd() *cobra.Command {
	return auditCmd
}

func runAuditAppend(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger audit append", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "audit.append")
	defer func() { done(err) }()

	at := appendAt
	if at == "" {
		at = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := parsePayload(appendPayload)
	if err != nil {
		return err
	}

	svc, err := openService(ctx, "")
	if err != nil {
		return err
	}
	defer svc.Log().Close()

	ref, err := svc.Record(ctx, models.AuditEntry{
		Actor:     appendActor,
		Action:    appendAction,
		Resource:  appendResource,
		Payload:   payload,
		Timestamp: at,
	})
	if err != nil {
		return err
	}
	opts = append(opts, receipt.WithAudit(ref.LeafIndex, ref.Root, ref.TreeSize))

	out := cmd.OutOrStdout()
	green.Fprintf(out, "✓ appended leaf %d\n", ref.LeafIndex)
	fmt.Fprintf(out, "  leaf: %s\n  root: %s\n  size: %d\n", ref.LeafHash, ref.Root, ref.TreeSize)
	return nil
}

// parsePayload decodes an inline or @file JSON payload with exact numbers.
func parsePayload(s string) (any, error) {
	data := []byte(s)
	if len(s) > 1 && s[0] == '@' {
		var err error
		data, err = readInput(s[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("payload must be JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("payload must be a single JSON document")
	}
	return v, nil
}

// rootOutput is the JSON form of audit root.
type rootOutput struct {
	Root     auditlog.Hash `json:"root"`
	TreeSize uint64        `json:"tree_size"`
}

func runAuditRoot(cmd *cobra.Command, _ []string) error {
	log, err := openLog(cmd.Context())
	if err != nil {
		return err
	}
	defer log.Close()

	snap := log.Snapshot()
	if rootJSON {
		return writeJSON(cmd.OutOrStdout(), "", rootOutput{Root: snap.Root, TreeSize: snap.Size()})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "root: %s\nsize: %d\n", snap.Root, snap.Size())
	return nil
}

// proofDocument is a self-contained inclusion proof.
type proofDocument struct {
	Entry    models.AuditEntry `json:"entry"`
	LeafHash auditlog.Hash     `json:"leaf_hash"`
	Root     auditlog.Hash     `json:"root"`
	Proof    auditlog.Proof    `json:"proof"`
}

func runAuditProof(cmd *cobra.Command, _ []string) (err error) {
	ctx, done := startCommand(cmd.Context(), "audit.proof")
	defer func() { done(err) }()

	log, err := openLog(ctx)
	if err != nil {
		return err
	}
	defer log.Close()

	entry, err := log.Entry(proofIndex)
	if err != nil {
		return err
	}
	proof, root, err := log.Proof(proofIndex)
	if err != nil {
		return err
	}
	leaf, err := auditlog.LeafHash(entry)
	if err != nil {
		return err
	}

	doc := proofDocument{Entry: entry, LeafHash: leaf, Root: root, Proof: proof}
	if err := writeJSON(cmd.OutOrStdout(), proofOutput, doc); err != nil {
		return err
	}
	if proofOutput != "" {
		green.Fprintf(cmd.OutOrStdout(), "✓ proof for leaf %d written to %s\n", proofIndex, proofOutput)
	}
	return nil
}

func runAuditVerifyProof(cmd *cobra.Command, args []string) (err error) {
	ctx, done := startCommand(cmd.Context(), "audit.verify_proof")
	defer func() { done(err) }()

	data, err := readInput(args[0])
	if err != nil {
		return fmt.Errorf("failed to read proof: %w", err)
	}
	var doc proofDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid proof document: %w", err)
	}

	// the entry, when present, must hash to the claimed leaf
	if doc.Entry.Action != "" {
		leaf, err := auditlog.LeafHash(doc.Entry)
		if err != nil {
			return err
		}
		if leaf != doc.LeafHash {
			return fmt.Errorf("entry does not match leaf hash %s", doc.LeafHash)
		}
	}

	root := doc.Root
	if verifyTrustedRoot != "" {
		root, err = auditlog.ParseHash(verifyTrustedRoot)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if !auditlog.VerifyProof(doc.LeafHash, doc.Proof, root) {
		red.Fprintf(out, "✗ proof does not verify against %s\n", root)
		return fmt.Errorf("inclusion proof invalid")
	}
	logging.From(ctx).Event(ctx, "audit.proof_verified", map[string]any{
		"leaf_index": doc.Proof.LeafIndex,
		"tree_size":  doc.Proof.TreeSize,
	})
	green.Fprintf(out, "✓ leaf %d is included in tree of size %d\n", doc.Proof.LeafIndex, doc.Proof.TreeSize)
	fmt.Fprintf(out, "  root: %s\n", root)
	return nil
}

func runAuditCheckpoint(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "complyledger audit checkpoint", os.Args[1:])
	var opts []receipt.Option
	defer func() {
		_ = sess.Finish(err, opts...)
	}()
	ctx, done := startCommand(ctx, "audit.checkpoint")
	defer func() { done(err) }()

	keyPath := checkpointKey
	if keyPath == "" {
		keyPath = cfg.Keys.Private
	}
	signer, err := crypto.LoadSigner(keyPath)
	if err != nil {
		return err
	}
	log, err := openLog(ctx)
	if err != nil {
		return err
	}
	defer log.Close()

	dest := checkpointOutput
	if dest == "" {
		dest = cfg.Audit.CheckpointOutput
	}
	var sink io.Writer = cmd.OutOrStdout()
	if dest != "" && dest != "-" {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint file: %w", err)
		}
		defer f.Close()
		sink = f
	}

	cp := attest.NewCheckpointer(log, signer, sink, attest.WithLogger(logging.From(ctx)))
	a, wrote, err := cp.Flush(ctx)
	if err != nil {
		return err
	}
	if !wrote {
		return auditlog.ErrEmptyLog
	}
	opts = append(opts, receipt.WithAttestation(a.KeyID, a.Root, a.TreeSize))

	if sink != cmd.OutOrStdout() {
		green.Fprintf(cmd.OutOrStdout(), "✓ checkpoint at size %d appended to %s\n", a.TreeSize, dest)
		fmt.Fprintf(cmd.OutOrStdout(), "  root: %s\n  key:  %s\n", a.Root, a.KeyID)
	}
	return nil
}
