package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestProductionLoggerWritesJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	log.Debug().Msg("hidden")
	log.Info().Str("component", "service").Msg("ready")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "ready" || entry["component"] != "service" || entry["env"] != "production" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestDevLoggerIncludesDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("dev", &buf)
	log.Debug().Msg("visible")
	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("expected debug line in dev, got %q", buf.String())
	}
}
