// Package logs builds the server's slog logger from configuration.
package logs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created when output is a directory.
const FileName = "rpcserver.log"

// Options selects the logger's level, format and destination.
type Options struct {
	// Level is debug, info, warn or error. Unknown values fall back to info.
	Level string
	// Format is json or text.
	Format string
	// Output is stdout, stderr, or a directory for rotated log files.
	Output string
}

// New returns a logger for opts. The returned closer releases the log file
// and is a no-op for the standard streams.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		if err := os.MkdirAll(opts.Output, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logs: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Output, FileName),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		w, closer = lj, lj
	}
	return slog.New(NewHandler(w, opts)), closer, nil
}

// NewHandler returns the slog handler New would use, writing to w.
func NewHandler(w io.Writer, opts Options) slog.Handler {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(w, hopts)
	}
	return slog.NewJSONHandler(w, hopts)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SlogWriter adapts a logger to io.Writer, one record per Write, for APIs
// that take a *log.Logger such as http.Server.ErrorLog.
type SlogWriter struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (w *SlogWriter) Write(p []byte) (int, error) {
	w.Logger.Log(context.Background(), w.Level, string(bytes.TrimSpace(p)))
	return len(p), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
