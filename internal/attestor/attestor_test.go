package attestor

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/models"
	"github.com/complyledger/complyledger/internal/observability/logging"
	otelobs "github.com/complyledger/complyledger/internal/observability/otel"
	"github.com/complyledger/complyledger/internal/policy"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testAt = "2024-05-01T09:00:00Z"

const ncaBaseline = `
name: NCA_baseline
version: "1.0"
rules:
  - id: r1
    severity: critical
    condition:
      equals: {field: tls_version, value: "1.3"}
`

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	engine, err := policy.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(engine, auditlog.New(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func loadPackage(t *testing.T, svc *Service, src string) *policy.Package {
	t.Helper()
	pkg, err := svc.engine.LoadPackage([]byte(src))
	if err != nil {
		t.Fatalf("LoadPackage: %v", err)
	}
	return pkg
}

func testSigner(t *testing.T) crypto.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := crypto.NewEd25519Signer(priv)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_RequiresCollaborators(t *testing.T) {
	engine, err := policy.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(nil, auditlog.New()); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := New(engine, nil); err == nil {
		t.Error("expected error for nil log")
	}
}

func TestEvaluateAndRecord_NCABaseline(t *testing.T) {
	svc := newService(t)
	pkg := loadPackage(t, svc, ncaBaseline)

	v, ref, err := svc.EvaluateAndRecord(context.Background(), Request{
		Actor:   "gateway",
		Package: pkg,
		Context: map[string]any{"tls_version": "1.2"},
		At:      testAt,
	})
	if err != nil {
		t.Fatalf("EvaluateAndRecord: %v", err)
	}

	if v.OverallStatus != models.StatusFail {
		t.Errorf("status = %q, want fail", v.OverallStatus)
	}
	if v.Score != 0 {
		t.Errorf("score = %v, want 0", v.Score)
	}
	if len(v.RuleResults) != 1 || v.RuleResults[0].RuleID != "r1" || v.RuleResults[0].Passed {
		t.Errorf("rule results = %+v", v.RuleResults)
	}

	if ref.LeafIndex != 0 || ref.TreeSize != 1 {
		t.Errorf("ref = %+v, want leaf 0 of 1", ref)
	}
	root, err := auditlog.ParseHash(ref.Root)
	if err != nil {
		t.Fatal(err)
	}
	if root.IsZero() {
		t.Error("root should not be the empty sentinel")
	}
	if root != svc.Log().Root() {
		t.Error("ref root differs from log root")
	}

	entry, err := svc.Log().Entry(0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != ActionEvaluate || entry.Resource != "NCA_baseline@1.0" || entry.Timestamp != testAt {
		t.Errorf("entry = %+v", entry)
	}
}

func TestEvaluateAndRecord_RecordsFailClosed(t *testing.T) {
	svc := newService(t)
	pkg := &policy.Package{
		Name:    "broken",
		Version: "1",
		Rules: []policy.Rule{
			{ID: "bad", Severity: policy.SeverityCritical, Condition: policy.Not{}},
		},
	}

	v, ref, err := svc.EvaluateAndRecord(context.Background(), Request{
		Actor: "gateway", Package: pkg, Context: map[string]any{}, At: testAt,
	})
	if !errors.Is(err, policy.ErrEvaluationFault) {
		t.Fatalf("expected evaluation fault, got %v", err)
	}
	if errors.Is(err, auditlog.ErrAuditAppend) {
		t.Error("audit append should have succeeded")
	}
	if v.OverallStatus != models.StatusFailClosed {
		t.Errorf("status = %q", v.OverallStatus)
	}
	if ref.TreeSize != 1 {
		t.Errorf("fail-closed verdict was not recorded: %+v", ref)
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, auditlog.Record) error { return errors.New("disk full") }
func (failingStore) Load(context.Context) ([]auditlog.Record, error) {
	return nil, nil
}
func (failingStore) Close() error { return nil }

func TestEvaluateAndRecord_AuditFailureSurfaces(t *testing.T) {
	engine, err := policy.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	log, err := auditlog.Open(context.Background(), failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(engine, log)
	if err != nil {
		t.Fatal(err)
	}
	pkg := loadPackage(t, svc, ncaBaseline)

	v, ref, err := svc.EvaluateAndRecord(context.Background(), Request{
		Actor: "gateway", Package: pkg, Context: map[string]any{"tls_version": "1.3"}, At: testAt,
	})
	if !errors.Is(err, auditlog.ErrAuditAppend) {
		t.Fatalf("expected audit append error, got %v", err)
	}
	if errors.Is(err, policy.ErrEvaluationFault) {
		t.Error("evaluation itself did not fault")
	}
	if v.OverallStatus != models.StatusPass {
		t.Errorf("verdict should still be returned, got %q", v.OverallStatus)
	}
	if ref != (models.LogRef{}) {
		t.Errorf("ref should be empty on failure, got %+v", ref)
	}
	if log.Size() != 0 {
		t.Errorf("log size = %d, want 0", log.Size())
	}
}

func TestRecord_InvalidEntry(t *testing.T) {
	svc := newService(t)
	_, err := svc.Record(context.Background(), models.AuditEntry{Actor: "ops", Timestamp: testAt})
	if !errors.Is(err, auditlog.ErrInvalidEntry) {
		t.Fatalf("expected invalid entry, got %v", err)
	}
}

func TestProofAndVerifyRoot(t *testing.T) {
	signer := testSigner(t)
	svc := newService(t, WithSigner(signer))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Record(ctx, models.AuditEntry{
			Actor:     "ops",
			Action:    "policy.publish",
			Resource:  "NCA_baseline@1.0",
			Payload:   map[string]any{"n": i},
			Timestamp: testAt,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := uint64(0); i < 5; i++ {
		proof, root, err := svc.Proof(i)
		if err != nil {
			t.Fatal(err)
		}
		leaves := svc.Log().Snapshot().Leaves
		if !auditlog.VerifyProof(leaves[i], proof, root) {
			t.Errorf("proof %d does not verify", i)
		}
	}

	root, sig, err := svc.SignRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := svc.VerifyRoot(root, sig, signer.PublicKey())
	if err != nil || !ok {
		t.Fatalf("VerifyRoot = %v, %v", ok, err)
	}

	sig[0] ^= 0xff
	ok, err = svc.VerifyRoot(root, sig, signer.PublicKey())
	if err != nil || ok {
		t.Fatalf("tampered signature: VerifyRoot = %v, %v", ok, err)
	}
}

func TestAttest(t *testing.T) {
	ctx := context.Background()

	unsigned := newService(t)
	if _, err := unsigned.Attest(ctx, testAt); !errors.Is(err, ErrNoSigner) {
		t.Errorf("expected ErrNoSigner, got %v", err)
	}
	if _, _, err := unsigned.SignRoot(ctx); !errors.Is(err, ErrNoSigner) {
		t.Errorf("expected ErrNoSigner, got %v", err)
	}

	svc := newService(t, WithSigner(testSigner(t)))
	if _, err := svc.Attest(ctx, testAt); !errors.Is(err, auditlog.ErrEmptyLog) {
		t.Errorf("expected ErrEmptyLog, got %v", err)
	}

	pkg := loadPackage(t, svc, ncaBaseline)
	if _, _, err := svc.EvaluateAndRecord(ctx, Request{Package: pkg, Context: map[string]any{"tls_version": "1.3"}, At: testAt}); err != nil {
		t.Fatal(err)
	}
	a, err := svc.Attest(ctx, testAt)
	if err != nil {
		t.Fatal(err)
	}
	if a.TreeSize != 1 || a.Root != svc.Log().Root().String() {
		t.Errorf("attestation = %+v", a)
	}
	ok, err := attest.Verify(a)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
}

func TestEvents_NeverCarryContextValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := logging.NewLogger(logging.Config{Format: logging.FormatJSONL, Level: logging.LevelDebug, Output: path})
	if err != nil {
		t.Fatal(err)
	}
	ctx := logging.WithLogger(context.Background(), logger)

	svc := newService(t)
	pkg := loadPackage(t, svc, ncaBaseline)
	_, _, err = svc.EvaluateAndRecord(ctx, Request{
		Actor:   "gateway",
		Package: pkg,
		Context: map[string]any{"tls_version": "1.2", "vendor_name": "Acme Secret Holdings"},
		At:      testAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	events := map[string]map[string]any{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "Acme Secret Holdings") {
			t.Errorf("context value leaked into log line: %s", line)
		}
		var rec struct {
			Event  string         `json:"event"`
			Fields map[string]any `json:"fields"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		events[rec.Event] = rec.Fields
	}

	eval, ok := events["complyledger.evaluate.complete"]
	if !ok {
		t.Fatalf("missing evaluate.complete event, got %v", events)
	}
	if eval["status"] != "fail" || eval["policy"] != "NCA_baseline@1.0" {
		t.Errorf("evaluate.complete fields = %v", eval)
	}
	appended, ok := events["complyledger.audit.append"]
	if !ok {
		t.Fatal("missing audit.append event")
	}
	if appended["leaf_index"] != float64(0) {
		t.Errorf("audit.append fields = %v", appended)
	}
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx := otelobs.WithHandle(context.Background(), otelobs.InitWithProvider(tp))

	svc := newService(t)
	pkg := loadPackage(t, svc, ncaBaseline)
	if _, _, err := svc.EvaluateAndRecord(ctx, Request{Package: pkg, Context: map[string]any{"tls_version": "1.3"}, At: testAt}); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"complyledger.evaluate", "complyledger.audit.append"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("spans = %v, want %v", names, want)
	}
}

func TestEvaluateAndRecord_LogicalTimestamp(t *testing.T) {
	svc := newService(t)
	pkg := loadPackage(t, svc, ncaBaseline)
	input := map[string]any{"tls_version": "1.3"}

	t.Run("rejected before evaluation without a record time", func(t *testing.T) {
		v, ref, err := svc.EvaluateAndRecord(context.Background(), Request{
			Actor: "scheduler", Package: pkg, Context: input, At: "tick-42",
		})
		if !errors.Is(err, auditlog.ErrInvalidEntry) {
			t.Fatalf("expected invalid entry error, got %v", err)
		}
		if v.OverallStatus != "" || ref != (models.LogRef{}) {
			t.Errorf("no verdict should be produced, got %q %+v", v.OverallStatus, ref)
		}
		if svc.Log().Size() != 0 {
			t.Errorf("log size = %d, want 0", svc.Log().Size())
		}
	})

	t.Run("recorded with a separate record time", func(t *testing.T) {
		v, ref, err := svc.EvaluateAndRecord(context.Background(), Request{
			Actor: "scheduler", Package: pkg, Context: input, At: "tick-42", RecordedAt: testAt,
		})
		if err != nil {
			t.Fatalf("EvaluateAndRecord: %v", err)
		}
		if v.EvaluatedAt != "tick-42" || v.RuleResults[0].EvaluatedAt != "tick-42" {
			t.Errorf("logical time not kept in verdict: %q", v.EvaluatedAt)
		}
		if ref.TreeSize != 1 {
			t.Fatalf("tree size = %d, want 1", ref.TreeSize)
		}
		entry, err := svc.Log().Entry(ref.LeafIndex)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Timestamp != testAt {
			t.Errorf("entry timestamp = %q, want %q", entry.Timestamp, testAt)
		}
	})
}

func TestRecordVerdict_DefaultsToEvaluatedAt(t *testing.T) {
	svc := newService(t)
	pkg := loadPackage(t, svc, ncaBaseline)
	v, err := svc.Evaluate(context.Background(), pkg, map[string]any{"tls_version": "1.3"}, testAt)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := svc.RecordVerdict(context.Background(), "gateway", v, "")
	if err != nil {
		t.Fatalf("RecordVerdict: %v", err)
	}
	entry, err := svc.Log().Entry(ref.LeafIndex)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Timestamp != testAt || entry.Action != ActionEvaluate {
		t.Errorf("entry = %+v", entry)
	}
}
