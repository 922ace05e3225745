package util

import (
	"testing"
	"time"
)

func TestGetEnvGetters(t *testing.T) {
	t.Setenv("KG_TEST_FLOAT", "0.9")
	t.Setenv("KG_TEST_BAD_FLOAT", "ninety")
	t.Setenv("KG_TEST_BOOL", "true")
	t.Setenv("KG_TEST_BAD_BOOL", "yes")
	t.Setenv("KG_TEST_DURATION", "45s")
	t.Setenv("KG_TEST_NEG_DURATION", "-5s")
	t.Setenv("KG_TEST_EMPTY", "")

	if got := GetEnvFloat("KG_TEST_FLOAT", 0.85); got != 0.9 {
		t.Fatalf("expected 0.9, got %v", got)
	}
	if got := GetEnvFloat("KG_TEST_BAD_FLOAT", 0.85); got != 0.85 {
		t.Fatalf("expected default 0.85, got %v", got)
	}
	if got := GetEnvNumeric("KG_TEST_MISSING", 3); got != 3 {
		t.Fatalf("expected default 3, got %v", got)
	}
	if !GetEnvBool("KG_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	if GetEnvBool("KG_TEST_BAD_BOOL", false) {
		t.Fatalf("expected default false for unparsable bool")
	}
	if got := GetEnvDuration("KG_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %v", got)
	}
	if got := GetEnvDuration("KG_TEST_NEG_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected default for negative duration, got %v", got)
	}
	if got := GetEnvString("KG_TEST_EMPTY", "memory"); got != "memory" {
		t.Fatalf("expected default for empty value, got %q", got)
	}
}
