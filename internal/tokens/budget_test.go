package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// newBudget skips when the tokenizer data cannot be loaded, e.g. offline.
func newBudget(t *testing.T, max int) *Budget {
	t.Helper()
	b, err := New("gpt-4", max)
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	return b
}

func TestNewFallsBackForUnknownModel(t *testing.T) {
	b, err := New("not-a-model", 10)
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	if b.Max() != 10 {
		t.Errorf("expected max 10, got %d", b.Max())
	}
}

func TestTrim(t *testing.T) {
	b := newBudget(t, 5)

	short := "hello"
	if got := b.Trim(short); got != short {
		t.Errorf("expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("population data for Luxembourg ", 20)
	got := b.Trim(long)
	if n := b.Count(got); n > 5 {
		t.Errorf("expected at most 5 tokens, got %d", n)
	}
	if !strings.HasPrefix(long, got) {
		t.Errorf("expected a prefix of the input, got %q", got)
	}
}

func TestTrimDisabled(t *testing.T) {
	b := newBudget(t, 0)
	long := strings.Repeat("x ", 500)
	if got := b.Trim(long); got != long {
		t.Error("expected zero budget to disable trimming")
	}
}

func TestTrimKeepsWholeRunes(t *testing.T) {
	long := strings.Repeat("Lëtzebuerg 日本語の統計データ 🇱🇺 ", 10)
	for max := 1; max <= 12; max++ {
		got := newBudget(t, max).Trim(long)
		if !utf8.ValidString(got) {
			t.Fatalf("budget %d: trimmed text is not valid UTF-8: %q", max, got)
		}
		if !strings.HasPrefix(long, got) {
			t.Fatalf("budget %d: expected a prefix of the input, got %q", max, got)
		}
	}
}
