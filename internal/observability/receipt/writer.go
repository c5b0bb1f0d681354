package receipt

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer persists receipts.
type Writer interface {
	Write(r Receipt) error
	Close() error
}

// Mode selects how successive receipts share one file.
type Mode string

const (
	// ModeOverwrite keeps only the latest receipt, as one indented object.
	ModeOverwrite Mode = "overwrite"
	// ModeAppend adds one compact JSON line per invocation.
	ModeAppend Mode = "append"
)

// Modes lists the accepted receipt modes.
var Modes = []Mode{ModeOverwrite, ModeAppend}

// ParseMode maps a config or flag value to a Mode. Empty means overwrite.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeOverwrite:
		return ModeOverwrite, nil
	case ModeAppend:
		return ModeAppend, nil
	}
	return "", fmt.Errorf("unknown receipt mode %q (want %s or %s)", s, ModeOverwrite, ModeAppend)
}

type fileWriter struct {
	mu   sync.Mutex
	file *os.File
	mode Mode
}

// NewWriter opens path for receipts. Parent directories are created.
func NewWriter(path string, mode string) (Writer, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create receipt directory: %w", err)
		}
	}

	flag := os.O_CREATE | os.O_WRONLY
	if m == ModeAppend {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt file: %w", err)
	}
	return &fileWriter{file: f, mode: m}, nil
}

func (w *fileWriter) Write(r Receipt) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("receipt writer is closed")
	}

	var (
		data []byte
		err  error
	)
	if w.mode == ModeAppend {
		data, err = json.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	data = append(data, '\n')

	if w.mode == ModeOverwrite {
		// a second receipt in the same process replaces the first
		if err := w.file.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate receipt: %w", err)
		}
		if _, err := w.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind receipt: %w", err)
		}
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return w.file.Sync()
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
