// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds zerolog loggers from LogConfig. Console output is
// used for terminals and JSON otherwise, unless the format is set explicitly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// Nop discards all output. Tests and library callers without a logger use it.
var Nop = zerolog.Nop()

// New returns a logger for cfg. Output "stderr" (or empty) writes to stderr,
// "stdout" to stdout, "discard" nowhere, and anything else is a file path
// opened for appending. The returned close function releases that file.
func New(cfg types.LogConfig) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return Nop, nil, err
	}

	out, closeFn, err := openOutput(cfg.Output)
	if err != nil {
		return Nop, nil, err
	}

	w, err := formatWriter(cfg.Format, out)
	if err != nil {
		closeFn()
		return Nop, nil, err
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger, closeFn, nil
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", output, err)
	}
	return f, f.Close, nil
}

func formatWriter(format string, out io.Writer) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "json":
		return out, nil
	case "console", "pretty":
		return consoleWriter(out), nil
	case "", "auto":
		if isTerminal(out) {
			return consoleWriter(out), nil
		}
		return out, nil
	}
	return nil, fmt.Errorf("invalid log format %q: use auto, console, or json", format)
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
