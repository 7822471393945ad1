package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":   log.DebugLevel,
		"WARN":    log.WarnLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.InfoLevel,
		"verbose": log.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormatter(t *testing.T) {
	if ParseFormatter("json") != log.JSONFormatter {
		t.Error("json")
	}
	if ParseFormatter("logfmt") != log.LogfmtFormatter {
		t.Error("logfmt")
	}
	if ParseFormatter("pretty") != log.TextFormatter {
		t.Error("fallback")
	}
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.ReportTimestamp = false
	opts.Formatter = log.LogfmtFormatter
	logger := Component(New(&buf, opts), "sweep")
	logger.Info("run finished", "processed", 3)

	out := buf.String()
	if !strings.Contains(out, "sweep") || !strings.Contains(out, "processed=3") {
		t.Fatalf("unexpected output %q", out)
	}
}
