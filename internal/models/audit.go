package models

// AuditEntry is one auditable action. Payload must be JSON-compatible.
type AuditEntry struct {
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// LogRef points at an appended leaf and the root it produced.
type LogRef struct {
	LeafIndex uint64 `json:"leaf_index"`
	LeafHash  string `json:"leaf_hash"`
	Root      string `json:"root"`
	TreeSize  uint64 `json:"tree_size"`
}
