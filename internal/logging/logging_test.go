package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStdoutLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "scanner", LevelDebug)

	l.Info("scan complete", Field{Key: "url", Value: "http://example.com"}, Field{Key: "error", Value: errors.New("boom")})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if entry["level"] != "info" || entry["msg"] != "scan complete" || entry["component"] != "scanner" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	fields := entry["fields"].(map[string]any)
	if fields["error"] != "boom" {
		t.Fatalf("errors should be rendered as strings, got %v", fields["error"])
	}
}

func TestStdoutLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "", LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Fatalf("expected 1 line, got %d: %s", n, buf.String())
	}
}

func TestStdoutLogger_WithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	child := NewLogger(&buf, "root", LevelInfo).With(
		Field{Key: "component", Value: "alerts"},
		Field{Key: "store", Value: "sqlite"},
	)
	child.Info("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["component"] != "alerts" {
		t.Fatalf("component not replaced: %v", entry["component"])
	}
	if entry["fields"].(map[string]any)["store"] != "sqlite" {
		t.Fatalf("persistent field missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
