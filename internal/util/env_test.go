package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !ParseBoolEnv("TEST_BOOL", false) {
		t.Error("expected true for \"true\"")
	}
	t.Setenv("TEST_BOOL", "0")
	if ParseBoolEnv("TEST_BOOL", true) {
		t.Error("expected false for \"0\"")
	}
	t.Setenv("TEST_BOOL", "not-a-bool")
	if !ParseBoolEnv("TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
	if ParseBoolEnv("TEST_BOOL_UNSET", false) {
		t.Error("expected default for unset variable")
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "45s")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != 45*time.Second {
		t.Errorf("expected 45s, got %s", got)
	}
	t.Setenv("TEST_DUR", "garbage")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default for invalid value, got %s", got)
	}
	if got := ParseDurationEnv("TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("expected default for unset variable, got %s", got)
	}
}

func TestParseListEnv(t *testing.T) {
	t.Setenv("TEST_LIST", "100, 200 ,300")
	got := ParseListEnv("TEST_LIST")
	if len(got) != 3 || got[0] != "100" || got[1] != "200" || got[2] != "300" {
		t.Errorf("expected trimmed entries, got %v", got)
	}
	if got := ParseListEnv("TEST_LIST_UNSET"); got != nil {
		t.Errorf("expected nil for unset variable, got %v", got)
	}
	t.Setenv("TEST_LIST", "100,,200")
	if got := ParseListEnv("TEST_LIST"); len(got) != 2 {
		t.Errorf("expected empty entries dropped, got %v", got)
	}
}
