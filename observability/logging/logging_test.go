package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestSetupRewritesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "test", Options{Output: &buf, Level: slog.LevelDebug})
	logger.Debug("order accepted", "orderId", 7)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" || line["message"] != "order accepted" || line["service"] != "escrowd" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger := Setup("escrowd", "", Options{Output: &buf, File: &FileOptions{Path: path, MaxSizeMB: 1}})
	logger.Info("hello")
	if buf.Len() == 0 {
		t.Fatalf("stdout writer received nothing")
	}
}

func TestMasking(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("authorization must be masked, got %s", got.Value.String())
	}
	if got := MaskField("orderId", "12"); got.Value.String() != "12" {
		t.Fatalf("orderId is allowlisted, got %s", got.Value.String())
	}
	if got := MaskToken("0123456789abcdef"); got != "0123..."+RedactedValue {
		t.Fatalf("unexpected token mask %q", got)
	}
	if got := MaskToken("short"); got != RedactedValue {
		t.Fatalf("unexpected short mask %q", got)
	}
	if got := ParseLevel("WARN"); got != slog.LevelWarn {
		t.Fatalf("unexpected level %v", got)
	}
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "", Options{Output: &buf})
	logger.Info("token issued", "token", "eyJhbGciOiJIUzI1NiJ9.payload.sig", "idempotency_key", MaskToken("order-create-0001"), "orderId", "9")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["token"] != RedactedValue {
		t.Fatalf("token leaked: %v", line["token"])
	}
	if line["idempotency_key"] != "orde..."+RedactedValue {
		t.Fatalf("pre-masked key rewritten: %v", line["idempotency_key"])
	}
	if line["orderId"] != "9" {
		t.Fatalf("orderId altered: %v", line["orderId"])
	}
}
