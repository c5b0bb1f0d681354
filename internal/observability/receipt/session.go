package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/complyledger/complyledger/internal/observability"
)

// MaxErrorLength is the maximum length for error strings in receipts.
const MaxErrorLength = 2048

// Session tracks command execution
type Session struct {
	ctx     context.Context
	start   time.Time
	command string
	args    []string
}

// Start session
func Start(ctx context.Context, cmd string, args []string) *Session {
	return &Session{
		ctx:     ctx,
		start:   time.Now(),
		command: cmd,
		args:    args,
	}
}

// Option configures receipt
type Option func(*Receipt)

// WithPolicyFile pins the policy document by digest.
func WithPolicyFile(path string) Option {
	return func(r *Receipt) {
		if path == "" {
			return
		}
		ref := &FileRef{Path: path}
		if hash, err := computeSHA256(path); err == nil {
			ref.SHA256 = hash
		}
		r.PolicyFile = ref
	}
}

// WithArtifact option
func WithArtifact(ref, digest string) Option {
	return func(r *Receipt) {
		r.Artifact = &ArtifactRef{Ref: ref, Digest: digest}
	}
}

// WithPolicy records the verdict headline.
func WithPolicy(ref, status string, score float64, failed []string) Option {
	return func(r *Receipt) {
		r.Policy = &PolicySummary{
			Ref:         ref,
			Status:      status,
			Score:       score,
			FailedRules: failed,
		}
	}
}

// WithAudit records the appended leaf.
func WithAudit(leafIndex uint64, root string, treeSize uint64) Option {
	return func(r *Receipt) {
		r.Audit = &AuditRef{LeafIndex: leafIndex, Root: root, TreeSize: treeSize}
	}
}

// WithDrift option
func WithDrift(critical, moderate, info int, summary string) Option {
	return func(r *Receipt) {
		r.Drift = &DriftSummary{
			Critical: critical,
			Moderate: moderate,
			Info:     info,
			Summary:  summary,
		}
	}
}

// WithAttestation records a signed checkpoint.
func WithAttestation(keyID, root string, treeSize uint64) Option {
	return func(r *Receipt) {
		r.Attestation = &AttestationRef{KeyID: keyID, Root: root, TreeSize: treeSize}
	}
}

// Finish and write receipt
func (s *Session) Finish(err error, opts ...Option) error {
	w := From(s.ctx)
	if w == nil {
		return nil
	}

	redactedArgs, wasRedacted := RedactArgs(s.args)

	r := Receipt{
		SchemaVersion: ReceiptSchemaVersion,
		OpID:          observability.OpID(s.ctx),
		TsStart:       s.start.Format(time.RFC3339Nano),
		TsEnd:         time.Now().Format(time.RFC3339Nano),
		Command:       s.command,
		Args:          redactedArgs,
		ArgsRedacted:  wasRedacted,
	}

	if err != nil {
		r.Result = Result{
			Status: "fail",
			Error:  truncateError(err.Error()),
		}
	} else {
		r.Result = Result{
			Status: "success",
		}
	}

	for _, opt := range opts {
		opt(&r)
	}

	return w.Write(r)
}

func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func truncateError(s string) string {
	if len(s) <= MaxErrorLength {
		return s
	}
	return s[:MaxErrorLength-3] + "..."
}
