package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_token", "abc",
		"learner_id", "u-1",
		"workspace", "ws-1",
		"dangling",
	})
	if len(out) != 7 {
		t.Fatalf("len: want=7 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("token value: want=[REDACTED] got=%v", out[1])
	}
	hashed, _ := out[3].(string)
	if !strings.HasPrefix(hashed, "hash:") || len(hashed) != len("hash:")+12 {
		t.Fatalf("learner_id value: want hash got=%v", out[3])
	}
	if out[5] != "ws-1" {
		t.Fatalf("workspace value untouched: got=%v", out[5])
	}
	if out[6] != "dangling" {
		t.Fatalf("dangling key kept: got=%v", out[6])
	}
}

func TestNopLoggerWith(t *testing.T) {
	log := NewNop().With("component", "test")
	log.Info("hello", "k", "v")
	log.Sync()
}
