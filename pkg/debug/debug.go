// Package debug provides category-based debug logging for proxified.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via PROXIFIED_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via PROXIFIED_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("registry", "set", "container", id, "proxy", p.Redacted())
//	if debug.Enabled("storage") { /* expensive formatting */ }
//
// Categories: registry, storage, transport, auth, mcp, config, dialer, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, stored values are logged in full.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	// Initialize from environment for immediate availability.
	// Can be re-initialized later via Init() with config values.
	categories = parseCategories(os.Getenv("PROXIFIED_DEBUG"))
}

// Options configures the default logger installed by Init.
type Options struct {
	Categories string
	Level      string
	// Format is "text" (default) or "json".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// Init configures the debug system. Called at startup with values
// from config and/or environment. Environment overrides config.
func Init(opts Options) {
	cats := os.Getenv("PROXIFIED_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	categories = parseCategories(cats)

	level := os.Getenv("PROXIFIED_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	slog.SetDefault(slog.New(NewHandler(out, opts.Format, ParseLevel(level))))
}

// NewHandler builds a text or JSON slog handler at the given level.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when PROXIFIED_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
