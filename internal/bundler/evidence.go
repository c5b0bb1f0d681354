package bundler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
)

// Readme is the README.txt shipped in evidence bundles.
const Readme = `complyledger evidence bundle

manifest.json     sha256 and size of every member
attestation.json  signed checkpoint: root and tree size of the audit log
entries.jsonl     the first tree_size audit entries, one canonical JSON per line
public.key        the signer's public key (PEM), when included

To check: complyledger bundle verify <bundle.zip> --key <trusted public key>
Each line of entries.jsonl is hashed as a leaf; the Merkle root of those
leaves must equal the attested root.
`

// Evidence collects the members of a bundle for attestation a. The log
// must hold at least a.TreeSize entries.
func Evidence(log *auditlog.Log, a attest.Attestation, publicKeyPEM []byte, extra ...File) ([]File, error) {
	if log.Size() < a.TreeSize {
		return nil, fmt.Errorf("log has %d entries, attestation covers %d", log.Size(), a.TreeSize)
	}

	var entries bytes.Buffer
	for i := uint64(0); i < a.TreeSize; i++ {
		e, err := log.Entry(i)
		if err != nil {
			return nil, err
		}
		line, err := auditlog.CanonicalEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries.Write(line)
		entries.WriteByte('\n')
	}

	att, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation: %w", err)
	}

	files := []File{
		{Name: AttestationName, Data: att},
		{Name: EntriesName, Data: entries.Bytes()},
	}
	if len(publicKeyPEM) > 0 {
		files = append(files, File{Name: PublicKeyName, Data: publicKeyPEM})
	}
	return append(files, extra...), nil
}
