package app

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", in, got, want)
		}
	}
}

func TestNewLogHandler_FormatSwitch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		json   bool
	}{
		{format: "json", json: true},
		{format: "", json: true},
		{format: "text", json: true},
		{format: "pretty", json: false},
		{format: " Pretty ", json: false},
	}

	for _, tc := range cases {
		var buf strings.Builder
		log := slog.New(newLogHandler(&buf, "debug", tc.format, false))
		log.Debug("conversation.created", "conversation_id", "c-1", "context_kind", "profile_contact")

		line := strings.TrimSpace(buf.String())
		var rec map[string]any
		isJSON := json.Unmarshal([]byte(line), &rec) == nil
		if isJSON != tc.json {
			t.Fatalf("format %q: json=%v want %v (%q)", tc.format, isJSON, tc.json, line)
		}
		if tc.json {
			if rec["msg"] != "conversation.created" || rec["conversation_id"] != "c-1" || rec["level"] != "DEBUG" {
				t.Fatalf("format %q: unexpected record %v", tc.format, rec)
			}
			if _, ok := rec[slog.SourceKey]; !ok {
				t.Fatalf("format %q: json records carry source: %v", tc.format, rec)
			}
			continue
		}
		for _, want := range []string{"lvl=[DEBUG]", "msg=conversation.created", "conv=c-1", "ctx=profile_contact", "src=logger_test.go:"} {
			if !strings.Contains(line, want) {
				t.Fatalf("format %q: missing %q in %q", tc.format, want, line)
			}
		}
	}
}

func TestNewLogHandler_LevelFilters(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"json", "pretty"} {
		var buf strings.Builder
		log := slog.New(newLogHandler(&buf, "warn", format, false))
		log.Info("message.appended")
		log.Warn("message.throttle.fail")

		out := buf.String()
		if strings.Contains(out, "message.appended") || !strings.Contains(out, "message.throttle.fail") {
			t.Fatalf("format %q: level filter not applied: %q", format, out)
		}
	}
}

func TestNewLogHandler_NoColorDisablesANSI(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf strings.Builder
	log := slog.New(newLogHandler(&buf, "info", "pretty", true))
	log.Info("http.request", "status", 200)

	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("NO_COLOR must disable ANSI codes: %q", buf.String())
	}
}
