package stats

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateTitle(t *testing.T) {
	if got := truncateTitle("short prompt", 80); got != "short prompt" {
		t.Fatalf("short input changed: %q", got)
	}

	long := strings.Repeat("a", 100)
	got := truncateTitle(long, 80)
	if got != strings.Repeat("a", 80)+"..." {
		t.Fatalf("ascii truncation wrong: %q", got)
	}

	// Multi-byte input must never be cut mid-character.
	long = strings.Repeat("日本語テスト", 30)
	got = truncateTitle(long, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if want := string([]rune(long)[:80]) + "..."; got != want {
		t.Fatalf("rune truncation wrong: got %d runes", len([]rune(got)))
	}

	exact := strings.Repeat("é", 80)
	if got := truncateTitle(exact, 80); got != exact {
		t.Fatalf("exact-length input changed: %q", got)
	}
}
