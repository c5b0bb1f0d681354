// Package artifact distributes policy packages as OCI artifacts.
package artifact

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// PolicyRef is a parsed OCI reference to a policy artifact.
type PolicyRef struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

func (r *PolicyRef) String() string {
	var sb strings.Builder

	if r.Registry != "" {
		sb.WriteString(r.Registry)
		sb.WriteString("/")
	}
	sb.WriteString(r.Repository)

	if r.Digest != "" {
		sb.WriteString("@")
		sb.WriteString(r.Digest)
	} else if r.Tag != "" {
		sb.WriteString(":")
		sb.WriteString(r.Tag)
	}

	return sb.String()
}

// Pinned reports whether the reference names a content digest.
func (r *PolicyRef) Pinned() bool {
	return r.Digest != ""
}

// ParsePolicyRef splits ref into its parts and checks it with the registry
// client's own parser.
func ParsePolicyRef(ref string) (*PolicyRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty policy reference")
	}
	if _, err := name.ParseReference(ref); err != nil {
		return nil, fmt.Errorf("invalid policy reference %q: %w", ref, err)
	}

	result := &PolicyRef{}
	rest := ref

	if atIdx := strings.LastIndex(rest, "@"); atIdx != -1 {
		result.Digest = rest[atIdx+1:]
		rest = rest[:atIdx]
		if !isValidDigest(result.Digest) {
			return nil, fmt.Errorf("invalid digest %q (want sha256:<64 hex>)", result.Digest)
		}
	}

	if colonIdx := strings.LastIndex(rest, ":"); colonIdx != -1 {
		slashIdx := strings.LastIndex(rest, "/")
		if colonIdx > slashIdx {
			result.Tag = rest[colonIdx+1:]
			rest = rest[:colonIdx]
		}
	}

	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		possibleRegistry := rest[:slashIdx]
		if strings.Contains(possibleRegistry, ".") || strings.Contains(possibleRegistry, ":") || possibleRegistry == "localhost" {
			result.Registry = possibleRegistry
			rest = rest[slashIdx+1:]
		}
	}

	result.Repository = rest
	if result.Repository == "" {
		return nil, fmt.Errorf("invalid policy reference: missing repository")
	}

	return result, nil
}

func isValidDigest(digest string) bool {
	if len(digest) != 71 { // "sha256:" + 64 hex chars
		return false
	}
	if digest[:7] != "sha256:" {
		return false
	}
	for _, c := range digest[7:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
