package bundler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/version"
)

// Well-known member names
const (
	ManifestName    = "manifest.json"
	AttestationName = "attestation.json"
	EntriesName     = "entries.jsonl"
	PublicKeyName   = "public.key"
	ReadmeName      = "README.txt"
)

// Manifest contents
type Manifest struct {
	ToolVersion string         `json:"tool_version"`
	Root        string         `json:"root"`
	TreeSize    uint64         `json:"tree_size"`
	KeyID       string         `json:"key_id"`
	Files       []ManifestFile `json:"files"`
}

// ManifestFile desc
type ManifestFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// NewManifest hashes every file and records what the attestation covers.
func NewManifest(files []File, a attest.Attestation) *Manifest {
	m := &Manifest{
		ToolVersion: version.BuildVersion(),
		Root:        a.Root,
		TreeSize:    a.TreeSize,
		KeyID:       a.KeyID,
		Files:       make([]ManifestFile, 0, len(files)),
	}
	for _, f := range files {
		m.Files = append(m.Files, ManifestFile{
			Name:   f.Name,
			SHA256: sum(f.Data),
			Size:   int64(len(f.Data)),
		})
	}
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Name < m.Files[j].Name
	})
	return m
}

// ToJSON deterministic
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
