package logger

import (
	"testing"
)

func TestNew(t *testing.T) {
	cases := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"info json", "info", "json", false},
		{"debug text", "debug", "text", false},
		{"warn json", "warn", "json", false},
		{"error text", "error", "text", false},
		{"mixed case", "INFO", "Text", false},
		{"empty level", "", "json", true},
		{"empty format", "info", "", true},
		{"both empty", "", "", true},
		{"unknown level", "verbose", "json", true},
		{"unknown format", "info", "xml", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, err := New(c.level, c.format)
			if c.wantErr {
				if err == nil {
					t.Fatalf("New(%q, %q) expected error, got nil", c.level, c.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q, %q) error: %v", c.level, c.format, err)
			}
			if l == nil {
				t.Fatalf("New(%q, %q) returned nil logger", c.level, c.format)
			}
		})
	}
}

func TestNewPair(t *testing.T) {
	stdout, stderr, err := NewPair("info", "text")
	if err != nil {
		t.Fatalf("NewPair error: %v", err)
	}
	if stdout == nil || stderr == nil {
		t.Fatalf("NewPair returned nil logger: stdout=%v stderr=%v", stdout, stderr)
	}
	if stdout == stderr {
		t.Error("stdout and stderr loggers should be distinct")
	}
}

func TestNewPairInvalid(t *testing.T) {
	cases := []struct {
		name   string
		level  string
		format string
	}{
		{"unknown level", "verbose", "json"},
		{"unknown format", "info", "xml"},
		{"empty level", "", "text"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stdout, stderr, err := NewPair(c.level, c.format)
			if err == nil {
				t.Fatalf("NewPair(%q, %q) expected error, got nil", c.level, c.format)
			}
			if stdout != nil || stderr != nil {
				t.Errorf("NewPair(%q, %q) loggers should be nil on error", c.level, c.format)
			}
		})
	}
}
