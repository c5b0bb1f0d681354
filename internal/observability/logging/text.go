package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/complyledger/complyledger/internal/observability"
)

// textLogger writes one human-readable line per record. Colors are only
// emitted when color.NoColor is false (a terminal without NO_COLOR).
type textLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
	levels   map[string]*color.Color
	dim      *color.Color
}

func newTextLogger(w io.Writer, closer io.Closer, minLevel int) *textLogger {
	return &textLogger{
		writer:   w,
		closer:   closer,
		minLevel: minLevel,
		levels: map[string]*color.Color{
			LevelDebug: color.New(color.FgHiBlack),
			LevelInfo:  color.New(color.FgCyan),
			LevelWarn:  color.New(color.FgYellow),
			LevelError: color.New(color.FgRed, color.Bold),
		},
		dim: color.New(color.Faint),
	}
}

func (l *textLogger) write(level, component, msg string, fields map[string]any) {
	if levelPriority(level) < l.minLevel {
		return
	}

	var b strings.Builder
	b.WriteString(l.dim.Sprint(time.Now().Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(l.levels[level].Sprintf("%-5s", strings.ToUpper(level)))
	b.WriteByte(' ')
	b.WriteString(component)
	b.WriteString(": ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", l.dim.Sprint(k), fields[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, b.String())
}

func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}

func (l *textLogger) Debug(component, msg string, fields ...any) {
	l.write(LevelDebug, component, msg, pairs(fields))
}

func (l *textLogger) Info(component, msg string, fields ...any) {
	l.write(LevelInfo, component, msg, pairs(fields))
}

func (l *textLogger) Warn(component, msg string, fields ...any) {
	l.write(LevelWarn, component, msg, pairs(fields))
}

func (l *textLogger) Error(component, msg string, fields ...any) {
	l.write(LevelError, component, msg, pairs(fields))
}

func (l *textLogger) Event(ctx context.Context, event string, fields map[string]any) {
	msg := EventPrefix + event
	if id := observability.OpID(ctx); id != "" {
		msg += " op_id=" + id
	}
	l.write(LevelInfo, componentOf(event), msg, fields)
}

func (l *textLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
