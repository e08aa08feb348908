package lqr

import (
	"fmt"
	"io"
	"strings"
)

// LogLevel controls the verbosity of solver output.
type LogLevel int

const (
	// LogNone produces no output.
	LogNone LogLevel = iota
	// LogWarn prints warnings (non-convergence, Jacobian mismatches).
	LogWarn
	// LogIter prints a table row per outer iteration.
	LogIter
	// LogDebug prints per-step details (QP iteration counts, step sizes).
	LogDebug
)

// Logger reports solver progress to a caller-owned writer. Each Logger
// keeps its own table-header cache, so concurrent solves with separate
// Loggers never share state. The zero value is silent.
type Logger struct {
	Level LogLevel
	Out   io.Writer

	seen map[string]bool
}

func (l *Logger) enabled(level LogLevel) bool {
	return l != nil && l.Out != nil && l.Level >= level
}

// Warnf prints a warning line.
func (l *Logger) Warnf(format string, a ...any) {
	if l.enabled(LogWarn) {
		fmt.Fprintf(l.Out, "warning: "+format+"\n", a...)
	}
}

// Iterf prints an iteration-level line.
func (l *Logger) Iterf(format string, a ...any) {
	if l.enabled(LogIter) {
		fmt.Fprintf(l.Out, format+"\n", a...)
	}
}

// Debugf prints a detail line.
func (l *Logger) Debugf(format string, a ...any) {
	if l.enabled(LogDebug) {
		fmt.Fprintf(l.Out, format+"\n", a...)
	}
}

// Table prints one row of a named table, emitting the header the first
// time this Logger sees the tag.
func (l *Logger) Table(tag string, cols [][2]string) {
	if !l.enabled(LogIter) {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if !l.seen[tag] {
		l.seen[tag] = true
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c[0]
		}
		fmt.Fprintf(l.Out, "| %s |\n", strings.Join(names, " | "))
	}
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = c[1]
	}
	fmt.Fprintf(l.Out, "| %s |\n", strings.Join(vals, " | "))
}
