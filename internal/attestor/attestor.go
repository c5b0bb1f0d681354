// Package attestor composes policy evaluation, the audit log and signing
// behind the narrow contract the service layer calls.
package attestor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/models"
	"github.com/complyledger/complyledger/internal/observability"
	"github.com/complyledger/complyledger/internal/observability/logging"
	otelobs "github.com/complyledger/complyledger/internal/observability/otel"
	"github.com/complyledger/complyledger/internal/policy"
)

// ActionEvaluate is the audit action recorded for verdicts.
const ActionEvaluate = "evaluate"

// ErrNoSigner is returned by signing operations on a service built without one.
var ErrNoSigner = errors.New("no signer configured")

// Service owns one engine and one log. It holds no other state and is safe
// for concurrent use.
type Service struct {
	engine *policy.Engine
	log    *auditlog.Log
	signer crypto.Signer
}

// Option configures a Service.
type Option func(*Service)

// WithSigner enables root signing and checkpoints.
func WithSigner(s crypto.Signer) Option {
	return func(svc *Service) {
		svc.signer = s
	}
}

func New(engine *policy.Engine, log *auditlog.Log, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("attestor: engine is required")
	}
	if log == nil {
		return nil, fmt.Errorf("attestor: audit log is required")
	}
	s := &Service{engine: engine, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Engine returns the policy engine.
func (s *Service) Engine() *policy.Engine { return s.engine }

// Log returns the audit log the service appends to.
func (s *Service) Log() *auditlog.Log { return s.log }

// Signer returns the configured signer, nil when none.
func (s *Service) Signer() crypto.Signer { return s.signer }

// Evaluate runs pkg against evalCtx. A fault still yields the fail-closed
// verdict alongside the error.
func (s *Service) Evaluate(ctx context.Context, pkg *policy.Package, evalCtx map[string]any, at string) (v models.Verdict, err error) {
	ref := "unknown"
	if pkg != nil {
		ref = pkg.Ref().String()
	}

	ctx, span := otelobs.StartSpan(ctx, "evaluate",
		otelobs.Attr("op_id", observability.OpID(ctx)),
		otelobs.Attr("policy", ref),
	)
	defer func() { otelobs.EndSpan(span, err) }()

	v, err = s.engine.Evaluate(pkg, evalCtx, at)

	failed := v.FailedRules()
	fields := map[string]any{
		"policy":       ref,
		"status":       string(v.OverallStatus),
		"score":        v.Score,
		"rules":        len(v.RuleResults),
		"failed_rules": failed,
	}
	var fault *policy.EvaluationFault
	if errors.As(err, &fault) {
		fields["fault_rule"] = fault.RuleID
	}
	logging.From(ctx).Event(ctx, "evaluate.complete", fields)
	return v, err
}

// Record appends one auditable action.
func (s *Service) Record(ctx context.Context, entry models.AuditEntry) (ref models.LogRef, err error) {
	ctx, span := otelobs.StartSpan(ctx, "audit.append",
		otelobs.Attr("op_id", observability.OpID(ctx)),
		otelobs.Attr("action", entry.Action),
	)
	defer func() { otelobs.EndSpan(span, err) }()

	ref, err = s.log.Append(entry)
	log := logging.From(ctx)
	if err != nil {
		log.Error("audit", "append failed", "action", entry.Action, "error", err.Error())
		return models.LogRef{}, err
	}

	span.SetAttributes(otelobs.Attr("leaf_index", strconv.FormatUint(ref.LeafIndex, 10)))
	log.Event(ctx, "audit.append", map[string]any{
		"action":     entry.Action,
		"resource":   entry.Resource,
		"leaf_index": ref.LeafIndex,
		"tree_size":  ref.TreeSize,
		"root":       ref.Root,
	})
	return ref, nil
}

// RecordVerdict appends v as an evaluate action. recordedAt is the RFC 3339
// append time; empty means the verdict's own evaluated_at, which then has to
// be RFC 3339 itself.
func (s *Service) RecordVerdict(ctx context.Context, actor string, v models.Verdict, recordedAt string) (models.LogRef, error) {
	if recordedAt == "" {
		recordedAt = v.EvaluatedAt
	}
	return s.Record(ctx, models.AuditEntry{
		Actor:     actor,
		Action:    ActionEvaluate,
		Resource:  v.PolicyRef.String(),
		Payload:   v,
		Timestamp: recordedAt,
	})
}

// Request is one evaluate-and-record call. At is the logical evaluation
// time copied into the verdict and may be any string. RecordedAt stamps the
// audit entry and defaults to At.
type Request struct {
	Actor      string
	Package    *policy.Package
	Context    map[string]any
	At         string
	RecordedAt string
}

func (r Request) recordedAt() string {
	if r.RecordedAt != "" {
		return r.RecordedAt
	}
	return r.At
}

// EvaluateAndRecord evaluates and records the verdict, including a
// fail-closed one. A request whose entry could not be stamped is rejected
// before evaluation, so no verdict exists without its audit leaf. The
// returned error joins the evaluation fault and the audit failure, so
// callers can test for either with errors.Is.
func (s *Service) EvaluateAndRecord(ctx context.Context, req Request) (models.Verdict, models.LogRef, error) {
	stamp := req.recordedAt()
	if err := auditlog.CheckTimestamp(stamp); err != nil {
		return models.Verdict{}, models.LogRef{}, fmt.Errorf("evaluate and record: %w", err)
	}
	v, evalErr := s.Evaluate(ctx, req.Package, req.Context, req.At)
	ref, recErr := s.RecordVerdict(ctx, req.Actor, v, stamp)
	return v, ref, errors.Join(evalErr, recErr)
}

// SignRoot signs the current root.
func (s *Service) SignRoot(ctx context.Context) (auditlog.Hash, []byte, error) {
	if s.signer == nil {
		return auditlog.Hash{}, nil, ErrNoSigner
	}
	root := s.log.Root()
	sig, err := attest.SignRoot(s.signer, root)
	if err != nil {
		return auditlog.Hash{}, nil, err
	}
	logging.From(ctx).Event(ctx, "attest.root", map[string]any{
		"root":   root.String(),
		"key_id": crypto.KeyID(s.signer.PublicKey()),
	})
	return root, sig, nil
}

// Attest signs a checkpoint over the current root and size.
func (s *Service) Attest(ctx context.Context, issuedAt string) (a attest.Attestation, err error) {
	if s.signer == nil {
		return attest.Attestation{}, ErrNoSigner
	}
	ctx, span := otelobs.StartSpan(ctx, "attest",
		otelobs.Attr("op_id", observability.OpID(ctx)),
	)
	defer func() { otelobs.EndSpan(span, err) }()

	snap := s.log.Snapshot()
	if snap.Size() == 0 {
		return attest.Attestation{}, auditlog.ErrEmptyLog
	}
	a, err = attest.SignCheckpoint(s.signer, snap.Root, snap.Size(), issuedAt)
	if err != nil {
		return attest.Attestation{}, err
	}
	logging.From(ctx).Event(ctx, "attest.checkpoint", map[string]any{
		"root":      a.Root,
		"tree_size": a.TreeSize,
		"key_id":    a.KeyID,
	})
	return a, nil
}

// Proof returns the inclusion proof for index and the root it proves against.
func (s *Service) Proof(index uint64) (auditlog.Proof, auditlog.Hash, error) {
	return s.log.Proof(index)
}

// VerifyRoot checks an Ed25519 signature over root.
func (s *Service) VerifyRoot(root auditlog.Hash, sig, pub []byte) (bool, error) {
	return attest.VerifyRoot(root, sig, pub)
}
