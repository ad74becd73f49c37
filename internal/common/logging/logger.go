package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// NewDefaultLogger creates a stdout logger at the LOG_LEVEL level
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger installs the global logger from LOG_LEVEL and LOG_FILE.
// LOG_FILE defaults to laminate.log; "-" or "stdout" keeps console output,
// which the CLI uses so render output and logs can be told apart by stream.
func InitGlobalLogger() error {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "laminate.log"
	}

	config := LogConfig{Level: level}
	switch strings.ToLower(logFile) {
	case "-", "stdout":
		config.Output = os.Stdout
	case "stderr":
		config.Output = os.Stderr
	default:
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		config.Output = file
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Debug("Logger initialized",
		Field{"level", level.String()},
		Field{"log_file", logFile},
	)
	return nil
}

// MustSync flushes the global logger; call before exit
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// WithContext adds request-scoped fields to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields adds fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// ForComponent returns the global logger tagged with a component name
func ForComponent(name string) Logger {
	return GetGlobalLogger().WithFields(Field{"component", name})
}

// NumberedSource prefixes every line of src with its 1-based line number.
// Used when logging generated Lua so error lines can be read off directly.
func NumberedSource(src string) string {
	lines := strings.Split(src, "\n")
	width := len(fmt.Sprint(len(lines)))

	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d: %s", width, i+1, line)
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
