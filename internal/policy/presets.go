package policy

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// presetFiles maps preset names to embedded file paths
var presetFiles = map[string]string{
	"nca_ecc_baseline": "presets/nca_ecc_baseline.yaml",
	"sama_csf":         "presets/sama_csf.yaml",
	"pdpl_privacy":     "presets/pdpl_privacy.yaml",
}

// PresetSource returns the raw YAML of a preset.
func PresetSource(name string) ([]byte, error) {
	path, ok := presetFiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %v)", name, ListPresetNames())
	}
	return presetFS.ReadFile(path)
}

// GetPreset returns a preset compiled by this engine. Compiled packages are
// immutable, so each engine caches its own.
func (e *Engine) GetPreset(name string) (*Package, error) {
	e.presetMu.Lock()
	defer e.presetMu.Unlock()

	if cached, ok := e.presets[name]; ok {
		return cached, nil
	}

	data, err := PresetSource(name)
	if err != nil {
		return nil, err
	}
	pkg, err := e.LoadPackage(data)
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}

	e.presets[name] = pkg
	return pkg, nil
}

// ListPresetNames returns preset names in sorted order
func ListPresetNames() []string {
	names := make([]string, 0, len(presetFiles))
	for name := range presetFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustGetPreset returns a preset or panics (for tests)
func (e *Engine) MustGetPreset(name string) *Package {
	p, err := e.GetPreset(name)
	if err != nil {
		panic(err)
	}
	return p
}
