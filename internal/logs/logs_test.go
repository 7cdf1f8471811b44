package logs

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, Options{Format: "json", Level: "debug"})).Debug("hello", "k", 1)
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json output %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["k"] != float64(1) {
		t.Errorf("got %v", entry)
	}

	buf.Reset()
	slog.New(NewHandler(&buf, Options{Format: "text"})).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("got text output %q", buf.String())
	}

	buf.Reset()
	slog.New(NewHandler(&buf, Options{Level: "warn"})).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestNew_FileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := New(Options{Output: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"to file"`) {
		t.Errorf("got %q", b)
	}
}

func TestNew_StandardStreams(t *testing.T) {
	for _, out := range []string{"", "stdout", "STDERR"} {
		_, closer, err := New(Options{Output: out})
		if err != nil {
			t.Fatalf("%q: %v", out, err)
		}
		if err := closer.Close(); err != nil {
			t.Errorf("%q: Close: %v", out, err)
		}
	}
}

func TestSlogWriter(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&SlogWriter{Logger: slog.New(NewHandler(&buf, Options{})), Level: slog.LevelError}, "", 0)
	l.Println("http: TLS handshake error")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "http: TLS handshake error" || entry["level"] != "ERROR" {
		t.Errorf("got %v", entry)
	}
}
