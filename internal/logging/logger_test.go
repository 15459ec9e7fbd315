package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_WritesJSONWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New().SetOutput(buf).SetLevel(LevelDebug)

	logger.WithField("req", "123").Info("hello", map[string]interface{}{"user": "pat"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not valid json: %v", err)
	}
	if entry.Level != "INFO" {
		t.Fatalf("level = %q, want INFO", entry.Level)
	}
	if entry.Message != "hello" {
		t.Fatalf("message = %q, want hello", entry.Message)
	}
	if entry.Timestamp == "" {
		t.Fatal("expected a timestamp")
	}
	if entry.Fields["req"] != "123" || entry.Fields["user"] != "pat" {
		t.Fatalf("fields not merged: %+v", entry.Fields)
	}
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New().SetOutput(buf).SetLevel(LevelError)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below error to be written, got %q", buf.String())
	}

	logger.Error("kept", map[string]interface{}{"k": "v"})
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("expected error entry to be written")
	}
}

func TestLevel_String(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestPackageHelpers_UseDefaultLogger(t *testing.T) {
	orig := Default
	t.Cleanup(func() { Default = orig })

	buf := &bytes.Buffer{}
	Default = New().SetOutput(buf).SetLevel(LevelDebug)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if lines != 4 {
		t.Fatalf("expected 4 log lines, got %d: %s", lines, buf.String())
	}
}
