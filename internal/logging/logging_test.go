package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetupWithWriterProductionEmitsJSON(t *testing.T) {
	var out, capture bytes.Buffer
	logger := SetupWithWriter("production", &out, &capture)

	streamLogger := Component(logger, "stream")
	streamLogger.Info().Str("conn_id", "abc").Msg("hello")
	logger.Debug().Msg("dropped")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", out.String(), err)
	}
	if line["component"] != "stream" || line["conn_id"] != "abc" {
		t.Fatalf("unexpected fields: %v", line)
	}
	if !bytes.Equal(out.Bytes(), capture.Bytes()) {
		t.Fatal("capture writer should receive the same JSON line")
	}
}

func TestSetupWithWriterDevelopmentLogsDebug(t *testing.T) {
	var out bytes.Buffer
	logger := SetupWithWriter("development", &out, nil)

	logger.Debug().Msg("visible")
	if !bytes.Contains(out.Bytes(), []byte("visible")) {
		t.Fatalf("expected debug line in development output, got %q", out.String())
	}
}
