package bundler

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/complyledger/complyledger/internal/attest"
	"github.com/complyledger/complyledger/internal/auditlog"
)

// maxMemberSize bounds one decompressed member.
const maxMemberSize = 256 << 20

// ErrTampered reports a bundle whose contents disagree with its manifest or
// attestation.
var ErrTampered = errors.New("bundle does not match its manifest")

// Bundle is an opened evidence bundle.
type Bundle struct {
	Manifest    Manifest
	Attestation attest.Attestation
	Files       map[string][]byte
}

// Read opens a bundle and checks every member against the manifest.
func Read(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}

	b := &Bundle{Files: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxMemberSize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		if len(data) > maxMemberSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxMemberSize)
		}
		b.Files[f.Name] = data
	}

	raw, ok := b.Files[ManifestName]
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrTampered, ManifestName)
	}
	if err := json.Unmarshal(raw, &b.Manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	listed := make(map[string]bool, len(b.Manifest.Files))
	for _, mf := range b.Manifest.Files {
		listed[mf.Name] = true
		data, ok := b.Files[mf.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing", ErrTampered, mf.Name)
		}
		if sum(data) != mf.SHA256 || int64(len(data)) != mf.Size {
			return nil, fmt.Errorf("%w: %s hash mismatch", ErrTampered, mf.Name)
		}
	}
	for name := range b.Files {
		if name != ManifestName && name != ReadmeName && !listed[name] {
			return nil, fmt.Errorf("%w: %s is not in the manifest", ErrTampered, name)
		}
	}

	att, ok := b.Files[AttestationName]
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrTampered, AttestationName)
	}
	if err := json.Unmarshal(att, &b.Attestation); err != nil {
		return nil, fmt.Errorf("invalid attestation: %w", err)
	}
	if b.Attestation.Root != b.Manifest.Root || b.Attestation.TreeSize != b.Manifest.TreeSize {
		return nil, fmt.Errorf("%w: manifest and attestation disagree", ErrTampered)
	}
	return b, nil
}

// Leaves hashes each line of entries.jsonl as a leaf. Lines are the
// canonical entry bytes, so no re-encoding happens.
func (b *Bundle) Leaves() ([]auditlog.Hash, error) {
	data, ok := b.Files[EntriesName]
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrTampered, EntriesName)
	}
	var leaves []auditlog.Hash
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxMemberSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		leaves = append(leaves, auditlog.HashLeaf(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return leaves, nil
}

// CheckRoot recomputes the root from the entries and compares it with the
// attested root.
func (b *Bundle) CheckRoot() error {
	leaves, err := b.Leaves()
	if err != nil {
		return err
	}
	if uint64(len(leaves)) != b.Attestation.TreeSize {
		return fmt.Errorf("%w: %d entries, attestation covers %d", ErrTampered, len(leaves), b.Attestation.TreeSize)
	}
	want, err := auditlog.ParseHash(b.Attestation.Root)
	if err != nil {
		return err
	}
	if got := auditlog.ComputeRoot(leaves); got != want {
		return fmt.Errorf("%w: entries hash to %s, attested %s", ErrTampered, got, want)
	}
	return nil
}
