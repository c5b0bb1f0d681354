package artifact

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
)

// PublishPolicy pushes data as a single-layer artifact holding file and
// returns the pushed manifest digest.
func PublishPolicy(ctx context.Context, ref, file string, data []byte, o Options) (string, error) {
	parsed, err := ParsePolicyRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Pinned() {
		return "", fmt.Errorf("cannot publish to a digest reference")
	}
	if rankOf(file) < 0 {
		return "", fmt.Errorf("policy file must be one of %v", PolicyFileNames)
	}
	if len(data) > MaxPolicySize {
		return "", fmt.Errorf("policy exceeds %d bytes", MaxPolicySize)
	}

	img, err := crane.Image(map[string][]byte{file: data})
	if err != nil {
		return "", fmt.Errorf("failed to build artifact: %w", err)
	}
	if err := crane.Push(img, ref, o.crane(ctx)...); err != nil {
		return "", fmt.Errorf("failed to push %s: %w", ref, err)
	}
	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to compute digest: %w", err)
	}
	return digest.String(), nil
}
