package crypto

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureHeader metadata
type SignatureHeader struct {
	Algorithm string `json:"alg"`
	Message   string `json:"msg_format,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// SignatureEnvelope is a detached signature file: a JSON header line and
// the hex signature.
type SignatureEnvelope struct {
	Header    *SignatureHeader
	Signature []byte
}

// WriteSignature encodes a detached signature file.
func WriteSignature(sig []byte, header SignatureHeader) []byte {
	headerBytes, _ := json.Marshal(header)
	return []byte(string(headerBytes) + "\n" + hex.EncodeToString(sig) + "\n")
}

// ReadSignature parses a signature file. A bare hex line is accepted as an
// ed25519 signature without header.
func ReadSignature(data []byte) (*SignatureEnvelope, error) {
	content := strings.TrimSpace(string(data))

	if strings.HasPrefix(content, "{") {
		lines := strings.SplitN(content, "\n", 2)
		if len(lines) != 2 {
			return nil, &SignatureError{Op: "read", Reason: "expected header and payload"}
		}

		var header SignatureHeader
		if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
			return nil, &SignatureError{Op: "read", Reason: "invalid signature header", Err: err}
		}
		if header.Algorithm == "" {
			return nil, &SignatureError{Op: "read", Reason: "signature header has no alg"}
		}

		sig, err := hex.DecodeString(strings.TrimSpace(lines[1]))
		if err != nil {
			return nil, &SignatureError{Op: "read", Algorithm: header.Algorithm, Reason: "invalid signature hex", Err: err}
		}
		return &SignatureEnvelope{Header: &header, Signature: sig}, nil
	}

	sig, err := hex.DecodeString(content)
	if err != nil {
		return nil, &SignatureError{Op: "read", Reason: "invalid signature format", Err: err}
	}
	return &SignatureEnvelope{Signature: sig}, nil
}

// GetAlgorithm returns the header algorithm, ed25519 for bare signatures.
func (e *SignatureEnvelope) GetAlgorithm() string {
	if e.Header == nil || e.Header.Algorithm == "" {
		return AlgEd25519
	}
	return e.Header.Algorithm
}
