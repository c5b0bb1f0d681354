package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/complyledger/complyledger/internal/artifact"
	"github.com/complyledger/complyledger/internal/attestor"
	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
	"github.com/complyledger/complyledger/internal/policy"
	"github.com/complyledger/complyledger/internal/registry"
	"github.com/spf13/cobra"
)

// policySource is the set of mutually exclusive flags naming a policy.
type policySource struct {
	file     string
	preset   string
	ociRef   string
	registry string
}

func (s *policySource) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.file, "policy", "", "Path to a policy YAML or JSON file")
	cmd.Flags().StringVar(&s.preset, "preset", "", "Built-in preset: "+strings.Join(policy.ListPresetNames(), ", "))
	cmd.Flags().StringVar(&s.ociRef, "ref", "", "OCI reference of a published policy artifact")
	cmd.Flags().StringVar(&s.registry, "from-registry", "", "Published policy as name@version")
}

// loadedPolicy is a compiled package and where it came from.
type loadedPolicy struct {
	pkg            *policy.Package
	source         string
	path           string
	artifactRef    string
	artifactDigest string
}

func (s *policySource) load(ctx context.Context, engine *policy.Engine) (*loadedPolicy, error) {
	set := 0
	for _, v := range []string{s.file, s.preset, s.ociRef, s.registry} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("choose exactly one of --policy, --preset, --ref or --from-registry")
	}

	switch {
	case s.preset != "":
		pkg, err := engine.GetPreset(s.preset)
		if err != nil {
			return nil, err
		}
		return &loadedPolicy{pkg: pkg, source: "preset:" + s.preset}, nil

	case s.file != "":
		data, err := os.ReadFile(s.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy: %w", err)
		}
		pkg, err := engine.LoadPackage(data)
		if err != nil {
			return nil, err
		}
		return &loadedPolicy{pkg: pkg, source: "file:" + s.file, path: s.file}, nil

	case s.ociRef != "":
		fetched, err := artifact.FetchPolicy(ctx, s.ociRef, artifact.Options{Insecure: cfg.Registry.OCIInsecure})
		if err != nil {
			return nil, err
		}
		pkg, err := engine.LoadPackage(fetched.Data)
		if err != nil {
			return nil, err
		}
		return &loadedPolicy{
			pkg:            pkg,
			source:         "oci:" + s.ociRef,
			artifactRef:    s.ociRef,
			artifactDigest: fetched.Digest,
		}, nil

	default:
		name, version, err := splitNameVersion(s.registry)
		if err != nil {
			return nil, err
		}
		reg, err := openRegistry(ctx)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		data, err := reg.Get(ctx, name, version)
		if err != nil {
			return nil, err
		}
		pkg, err := engine.LoadPackage(data)
		if err != nil {
			return nil, err
		}
		if pkg.Name != name || pkg.Version != version {
			return nil, fmt.Errorf("registry entry %s@%s holds %s", name, version, pkg.Ref())
		}
		return &loadedPolicy{pkg: pkg, source: "registry:" + s.registry}, nil
	}
}

// splitNameVersion parses name@version.
func splitNameVersion(s string) (string, string, error) {
	idx := strings.LastIndex(s, "@")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", fmt.Errorf("invalid policy reference %q (want name@version)", s)
	}
	return s[:idx], s[idx+1:], nil
}

func openRegistry(ctx context.Context) (registry.Registry, error) {
	if cfg.Registry.RedisAddr == "" {
		return nil, fmt.Errorf("no policy registry configured (set registry.redis_addr or COMPLYLEDGER_REDIS_ADDR)")
	}
	return registry.Open(ctx, cfg.Registry.RedisAddr, cfg.Registry.RedisPassword)
}

// openLog opens the configured audit store and replays it.
func openLog(ctx context.Context) (*auditlog.Log, error) {
	store, err := auditlog.OpenStore(ctx, cfg.Audit.Store, cfg.Audit.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	log, err := auditlog.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return log, nil
}

// openService builds the attestor over the configured log. keyPath, when
// set, loads a signer.
func openService(ctx context.Context, keyPath string) (*attestor.Service, error) {
	engine, err := policy.NewEngine()
	if err != nil {
		return nil, err
	}
	log, err := openLog(ctx)
	if err != nil {
		return nil, err
	}

	var opts []attestor.Option
	if keyPath != "" {
		signer, err := crypto.LoadSigner(keyPath)
		if err != nil {
			_ = log.Close()
			return nil, err
		}
		opts = append(opts, attestor.WithSigner(signer))
	}
	svc, err := attestor.New(engine, log, opts...)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return svc, nil
}
