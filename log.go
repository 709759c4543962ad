package forgecache

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Logger is a minimal wrapper around an io.Writer, in the same spirit as
// a small leaf logging package: no levels, no structured fields, just
// formatted lines, with optional color for status words. It satisfies
// internal/cache.Logger.
type Logger struct {
	io.Writer
	Verbose bool
}

// NewLogger returns a Logger writing to w.
func NewLogger(w io.Writer, verbose bool) *Logger {
	return &Logger{Writer: w, Verbose: verbose}
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string, appending a newline if one isn't already
// present.
func (l *Logger) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprint(l, msg)
}

// Status logs a single colorized status line: green for ok, yellow for
// warn, red for fail. Only emitted when Verbose is set, following
// Config.Verbose rather than introducing a separate log level system.
func (l *Logger) Status(kind string, format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	var c *color.Color
	switch kind {
	case "ok":
		c = color.New(color.FgGreen)
	case "warn":
		c = color.New(color.FgYellow)
	case "fail":
		c = color.New(color.FgRed)
	default:
		c = color.New(color.Reset)
	}
	l.Logln(c.Sprintf(format, args...))
}
