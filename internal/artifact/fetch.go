package artifact

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
)

// Policy file names looked up in an artifact, in priority order.
var PolicyFileNames = []string{"policy.yaml", "policy.yml", "policy.json"}

// MaxPolicySize bounds the policy file read from an artifact.
const MaxPolicySize = 1 << 20

// ErrNoPolicy is returned when an artifact holds no policy file.
var ErrNoPolicy = errors.New("artifact contains no policy file")

// Fetched is a policy pulled from a registry.
type Fetched struct {
	Ref    string
	Digest string
	File   string
	Data   []byte
}

// Options configures registry access.
type Options struct {
	Insecure bool
}

func (o Options) crane(ctx context.Context) []crane.Option {
	opts := []crane.Option{crane.WithContext(ctx)}
	if o.Insecure {
		opts = append(opts, crane.Insecure)
	}
	return opts
}

// ResolveDigest returns the manifest digest ref currently points at.
func ResolveDigest(ctx context.Context, ref string, o Options) (string, error) {
	if _, err := ParsePolicyRef(ref); err != nil {
		return "", err
	}
	digest, err := crane.Digest(ref, o.crane(ctx)...)
	if err != nil {
		return "", fmt.Errorf("failed to resolve digest: %w", err)
	}
	return digest, nil
}

// FetchPolicy pulls ref and returns the policy file from its flattened
// filesystem. A pinned reference must match the pulled digest.
func FetchPolicy(ctx context.Context, ref string, o Options) (*Fetched, error) {
	parsed, err := ParsePolicyRef(ref)
	if err != nil {
		return nil, err
	}

	img, err := crane.Pull(ref, o.crane(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("failed to compute digest: %w", err)
	}
	if parsed.Pinned() && digest.String() != parsed.Digest {
		return nil, fmt.Errorf("digest mismatch: pulled %s, pinned %s", digest, parsed.Digest)
	}

	rc := mutate.Extract(img)
	defer rc.Close()

	file, data, err := ExtractPolicy(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return &Fetched{Ref: ref, Digest: digest.String(), File: file, Data: data}, nil
}

// ExtractPolicy scans a tar stream for a policy file at any depth. The
// highest-priority name wins; among equal names the shallowest path wins.
func ExtractPolicy(r io.Reader) (string, []byte, error) {
	tr := tar.NewReader(r)

	var (
		bestName string
		bestData []byte
		bestRank = len(PolicyFileNames)
		bestDepth int
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to read artifact layer: %w", err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}

		rank := rankOf(path.Base(hdr.Name))
		if rank < 0 {
			continue
		}
		depth := depthOf(hdr.Name)
		if rank > bestRank || (rank == bestRank && depth >= bestDepth) {
			continue
		}
		if hdr.Size > MaxPolicySize {
			return "", nil, fmt.Errorf("%s exceeds %d bytes", hdr.Name, MaxPolicySize)
		}

		data, err := io.ReadAll(io.LimitReader(tr, MaxPolicySize+1))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}
		if len(data) > MaxPolicySize {
			return "", nil, fmt.Errorf("%s exceeds %d bytes", hdr.Name, MaxPolicySize)
		}
		bestName, bestData, bestRank, bestDepth = hdr.Name, data, rank, depth
	}

	if bestData == nil {
		return "", nil, ErrNoPolicy
	}
	return bestName, bestData, nil
}

func rankOf(base string) int {
	for i, n := range PolicyFileNames {
		if base == n {
			return i
		}
	}
	return -1
}

func depthOf(name string) int {
	clean := path.Clean("/" + name)
	depth := 0
	for _, c := range clean {
		if c == '/' {
			depth++
		}
	}
	return depth
}
