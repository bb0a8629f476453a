package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging installs the default slog handler. With a log file, output
// goes through a size-rotated lumberjack writer and the returned closer
// must be closed on exit.
func setupLogging(stderr io.Writer, level, format, file string) (io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	w := stderr
	var closer io.Closer
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(h))
	return closer, nil
}
