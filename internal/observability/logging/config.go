package logging

type Config struct {
	Format string
	Level  string
	Output string
}

func DefaultConfig() Config {
	return Config{
		Format: FormatPretty,
		Level:  LevelInfo,
		Output: "stderr",
	}
}

// Formats. pretty leaves the terminal to the command's own output and logs
// nothing; text is a colored human log; jsonl is one object per line.
const (
	FormatPretty = "pretty"
	FormatText   = "text"
	FormatJSONL  = "jsonl"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelPriority(level string) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1 // default to info
	}
}

// ValidFormat reports whether format is known.
func ValidFormat(format string) bool {
	switch format {
	case FormatPretty, FormatText, FormatJSONL:
		return true
	}
	return false
}

// ValidLevel reports whether level is known.
func ValidLevel(level string) bool {
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}
