// Package bundler packs audit evidence into a deterministic zip that can be
// checked offline.
package bundler

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"time"
)

// File is one bundle member.
type File struct {
	Name string
	Data []byte
}

// zipEpoch keeps bundles byte-identical across runs.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Write writes manifest.json first, then files by name, then README.txt.
func Write(w io.Writer, files []File, readme string, manifest *Manifest) error {
	zw := zip.NewWriter(w)

	if manifest != nil {
		data, err := manifest.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize manifest: %w", err)
		}
		if err := addToZip(zw, ManifestName, data); err != nil {
			return fmt.Errorf("failed to add manifest: %w", err)
		}
	}

	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	seen := make(map[string]bool, len(sorted))
	for _, f := range sorted {
		if f.Name == ManifestName || f.Name == ReadmeName || seen[f.Name] {
			return fmt.Errorf("duplicate bundle member %q", f.Name)
		}
		seen[f.Name] = true
		if err := addToZip(zw, f.Name, f.Data); err != nil {
			return fmt.Errorf("failed to add %s: %w", f.Name, err)
		}
	}

	if err := addToZip(zw, ReadmeName, []byte(readme)); err != nil {
		return fmt.Errorf("failed to add README: %w", err)
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, name string, data []byte) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	}
	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}
