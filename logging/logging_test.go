package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INF") {
		t.Errorf("log should contain INFO level, got: %s", output)
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("transport")
	logger.SetOutput(&buf)
	logger.SetFormat(FormatJSON)

	logger.Info("sent", map[string]interface{}{"type": "storage"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["component"] != "transport" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["type"] != "storage" {
		t.Errorf("type = %v", entry["type"])
	}
	if entry["message"] != "sent" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLogger_ComponentSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	child := root.WithComponent("storage")
	root.SetOutput(&buf)
	root.SetFormat(FormatJSON)
	root.SetLevel(LevelDebug)

	child.Debug("watch")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["component"] != "storage" {
		t.Fatalf("child logger should follow parent settings, got %v", lines)
	}
}

func TestLogger_Nop(t *testing.T) {
	var buf bytes.Buffer
	l := Nop()
	l.SetOutput(&buf)
	l.SetLevel(LevelDebug)
	l.Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("Nop logger wrote %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_MessageDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetFormat(FormatJSON)

	logger.MessageDropped("origin", "http://evil.example", fmt.Errorf("origin not allowed"))

	entry := decodeLines(t, &buf)[0]
	if entry["level"] != "warn" || entry["message"] != "message_dropped" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["reason"] != "origin" || entry["origin"] != "http://evil.example" {
		t.Errorf("unexpected fields %v", entry)
	}
	if entry["error"] != "origin not allowed" {
		t.Errorf("error = %v", entry["error"])
	}
}

func TestLogger_CallExpired(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetFormat(FormatJSON)

	logger.CallExpired("storage", "get", 3, nil)

	entry := decodeLines(t, &buf)[0]
	if entry["callback_id"] != float64(3) {
		t.Errorf("callback_id = %v", entry["callback_id"])
	}
	if _, ok := entry["error"]; ok {
		t.Error("nil error should not be logged")
	}
}

func TestLogger_HandlerFailed(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetFormat(FormatJSON)

	logger.HandlerFailed("ls", "change", fmt.Errorf("boom"))

	entry := decodeLines(t, &buf)[0]
	if entry["level"] != "error" || entry["name"] != "change" || entry["error"] != "boom" {
		t.Errorf("unexpected entry %v", entry)
	}
}
