package redact

import (
	"strings"
	"testing"
)

func TestRedactDefaultPatterns(t *testing.T) {
	in := "interface Ethernet0\n password my-secret-pw\nno shutdown\n"
	out := Redact(in, nil)

	inLines := strings.Split(in, "\n")
	outLines := strings.Split(out, "\n")
	if len(inLines) != len(outLines) {
		t.Fatalf("line count changed: in=%d out=%d", len(inLines), len(outLines))
	}
	if strings.Contains(strings.ToLower(outLines[1]), "password") {
		t.Errorf("redacted line still contains keyword: %q", outLines[1])
	}
	if outLines[1] != Marker {
		t.Errorf("expected marker, got %q", outLines[1])
	}
	if outLines[0] != inLines[0] || outLines[2] != inLines[2] {
		t.Errorf("non-matching lines should be untouched")
	}
}

func TestRedactCaseInsensitive(t *testing.T) {
	out := Redact("SNMP COMMUNITY public RO", nil)
	if out != Marker {
		t.Errorf("expected case-insensitive match, got %q", out)
	}
}

func TestRedactCustomPatterns(t *testing.T) {
	out := Redact("enable secret 5 $1$abc\ncustom-token XYZ", []string{"custom-token"})
	lines := strings.Split(out, "\n")
	if lines[0] != "enable secret 5 $1$abc" {
		t.Errorf("default patterns should not apply once custom patterns are given: %q", lines[0])
	}
	if lines[1] != Marker {
		t.Errorf("custom pattern should match: %q", lines[1])
	}
}

func TestRedactPreservesLineCountOnEmptyInput(t *testing.T) {
	if got := Redact("", nil); got != "" {
		t.Errorf("empty input should stay empty, got %q", got)
	}
}
