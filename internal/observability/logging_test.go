package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Leveler
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseLevel(%q) expected error", tt.in)
				}
				return
			}

			if err != nil {
				t.Fatalf("parseLevel(%q) unexpected error: %v", tt.in, err)
			}

			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestShouldEnableStderr(t *testing.T) {
	tests := []struct {
		mode    string
		tty     bool
		want    bool
		wantErr bool
	}{
		{mode: "auto", tty: true, want: false},
		{mode: "auto", tty: false, want: true},
		{mode: "", tty: false, want: true},
		{mode: "on", tty: true, want: true},
		{mode: "off", tty: false, want: false},
		{mode: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		got, err := shouldEnableStderr(tt.mode, tt.tty)
		if tt.wantErr {
			if err == nil {
				t.Errorf("shouldEnableStderr(%q) expected error", tt.mode)
			}
			continue
		}

		if err != nil {
			t.Errorf("shouldEnableStderr(%q) unexpected error: %v", tt.mode, err)
			continue
		}

		if got != tt.want {
			t.Errorf("shouldEnableStderr(%q, tty=%v) = %v, want %v", tt.mode, tt.tty, got, tt.want)
		}
	}
}

func TestRedactAttr(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{key: "authorization", redacted: true},
		{key: "api_key", redacted: true},
		{key: "hook.token", redacted: true},
		{key: "prompt", redacted: true},
		{key: "last_assistant_message", redacted: true},
		{key: "last_result", redacted: true},
		{key: "session.id", redacted: false},
		{key: "event.type", redacted: false},
	}

	for _, tt := range tests {
		attr := redactAttr(nil, slog.String(tt.key, "value"))

		got := attr.Value.String() == redactedValue
		if got != tt.redacted {
			t.Errorf("redactAttr(%q): redacted = %v, want %v", tt.key, got, tt.redacted)
		}
	}
}

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "oversee.log")

	logger, cleanup, err := NewLogger(&Config{
		Level:      "debug",
		Format:     "json",
		LogFile:    logPath,
		StderrMode: "off",
		InstanceID: "test-instance",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("session started", slog.String("session.id", "main"))

	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var line map[string]any

	data := readFile(t, logPath)
	if err := json.Unmarshal(firstLine(data), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	if line["msg"] != "session started" {
		t.Errorf("msg = %v, want %q", line["msg"], "session started")
	}

	if line["instance.id"] != "test-instance" {
		t.Errorf("instance.id = %v, want test-instance", line["instance.id"])
	}

	if pid, ok := line["daemon.pid"].(float64); !ok || int(pid) != os.Getpid() {
		t.Errorf("daemon.pid = %v, want %d", line["daemon.pid"], os.Getpid())
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return data
}

func firstLine(data []byte) []byte {
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		return data[:idx]
	}

	return data
}

func TestNewLoggerRejectsNoSinks(t *testing.T) {
	_, _, err := NewLogger(&Config{StderrMode: "off"})
	if err == nil || !strings.Contains(err.Error(), "no log sinks") {
		t.Fatalf("expected no-sinks error, got %v", err)
	}
}

func TestFromContextFallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to slog.Default")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Fatal("FromContext should return the stored logger")
	}
}
