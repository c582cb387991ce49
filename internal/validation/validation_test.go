package validation

import (
	"testing"
	"time"
)

func TestValidateHostname(t *testing.T) {
	cases := []struct {
		host    string
		wantErr bool
	}{
		{"", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"node.example.com", false},
		{"node_1", true},
		{"-bad", true},
	}
	for _, c := range cases {
		err := ValidateHostname(c.host)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateHostname(%q) err=%v, wantErr=%v", c.host, err, c.wantErr)
		}
	}
}

func TestValidatePort(t *testing.T) {
	if _, err := ValidatePort("8080"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ValidatePort("0"); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := ValidatePort("70000"); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, err := ValidatePort("abc"); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidateBackupID(t *testing.T) {
	valid := "a3f5c1e2b4d6f7a8c9b0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2"
	if err := ValidateBackupID(valid); err != nil {
		t.Errorf("unexpected error for valid id: %v", err)
	}
	if err := ValidateBackupID("short"); err == nil {
		t.Error("expected error for short id")
	}
	if err := ValidateBackupID("A3F5C1E2B4D6F7A8C9B0D1E2F3A4B5C6D7E8F9A0B1C2D3E4F5A6B7C8D9E0F1A2"); err == nil {
		t.Error("expected error for uppercase id")
	}
}

func TestParseExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	future := "2026-06-15T12:00"
	got, err := ParseExpiration(future, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Before(now) {
		t.Errorf("expected parsed time after now, got %v", got)
	}

	past := "2025-01-01T00:00"
	if _, err := ParseExpiration(past, now); err == nil {
		t.Error("expected error for a past expiration")
	}

	if _, err := ParseExpiration("not-a-date", now); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestValidateExcludePattern(t *testing.T) {
	if err := ValidateExcludePattern("app/*.rs"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateExcludePattern(""); err == nil {
		t.Error("expected error for empty pattern")
	}
	if err := ValidateExcludePattern("app[/"); err == nil {
		t.Error("expected error for unbalanced character class")
	}
}

func TestValidateChunkIndexStorage(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateChunkIndexStorage(dir); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateChunkIndexStorage(dir + "/does-not-exist"); err == nil {
		t.Error("expected error for missing directory")
	}
}
