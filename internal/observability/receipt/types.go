// Package receipt writes one evidence record per CLI invocation.
package receipt

// ReceiptSchemaVersion current
const ReceiptSchemaVersion = "1.0"

// Receipt structure
type Receipt struct {
	SchemaVersion string          `json:"schema_version"`
	OpID          string          `json:"op_id"`
	TsStart       string          `json:"ts_start"`
	TsEnd         string          `json:"ts_end"`
	Command       string          `json:"command"`
	Args          []string        `json:"args"`
	ArgsRedacted  bool            `json:"args_redacted,omitempty"`
	Result        Result          `json:"result"`
	PolicyFile    *FileRef        `json:"policy_file,omitempty"`
	Artifact      *ArtifactRef    `json:"artifact,omitempty"`
	Policy        *PolicySummary  `json:"policy,omitempty"`
	Audit         *AuditRef       `json:"audit,omitempty"`
	Drift         *DriftSummary   `json:"drift,omitempty"`
	Attestation   *AttestationRef `json:"attestation,omitempty"`
}

// Result status
type Result struct {
	Status string `json:"status"` // "success" or "fail"
	Error  string `json:"error,omitempty"`
}

// FileRef pins a local input file by digest.
type FileRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// ArtifactRef identifies a pulled OCI policy artifact.
type ArtifactRef struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest,omitempty"`
}

// PolicySummary is the verdict headline. Context values never appear here.
type PolicySummary struct {
	Ref         string   `json:"ref"`
	Status      string   `json:"status"` // pass|fail|fail_closed_on_error
	Score       float64  `json:"score"`
	FailedRules []string `json:"failed_rules,omitempty"`
}

// AuditRef points at the leaf appended by this invocation.
type AuditRef struct {
	LeafIndex uint64 `json:"leaf_index"`
	Root      string `json:"root"`
	TreeSize  uint64 `json:"tree_size"`
}

// DriftSummary detail
type DriftSummary struct {
	Critical int    `json:"critical"`
	Moderate int    `json:"moderate"`
	Info     int    `json:"info"`
	Summary  string `json:"summary,omitempty"`
}

// AttestationRef records a signed checkpoint.
type AttestationRef struct {
	KeyID    string `json:"key_id"`
	Root     string `json:"root"`
	TreeSize uint64 `json:"tree_size"`
}
