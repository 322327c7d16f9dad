package acfetch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologLoggerStructuredPairs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info("request completed", "status", 200, "cacheHit", true)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["message"] != "request completed" {
		t.Errorf("message = %v", record["message"])
	}
	if record["status"] != float64(200) {
		t.Errorf("status = %v", record["status"])
	}
	if record["cacheHit"] != true {
		t.Errorf("cacheHit = %v", record["cacheHit"])
	}
	if record["level"] != "info" {
		t.Errorf("level = %v", record["level"])
	}
}

func TestZerologLoggerSkipsMalformedPairs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	// A non-string key and a dangling value must not panic or corrupt output.
	logger.Warn("odd pairs", 42, "value", "dangling")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["message"] != "odd pairs" {
		t.Errorf("message = %v", record["message"])
	}
}

func TestSimpleLoggerLevels(t *testing.T) {
	l := NewSimpleLogger()
	var buf bytes.Buffer
	l.logger.SetOutput(&buf)

	l.Debug("d", "k", "v")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	out := buf.String()
	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
