package session

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "empty uses default", title: "", want: DefaultTitle},
		{name: "whitespace only uses default", title: "   \t\n", want: DefaultTitle},
		{name: "short title kept", title: "Weather questions", want: "Weather questions"},
		{name: "trimmed", title: "  padded  ", want: "padded"},
		{name: "exactly max kept", title: strings.Repeat("a", TitleMaxLength), want: strings.Repeat("a", TitleMaxLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeTitle(tt.title); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle_TruncatesRunes(t *testing.T) {
	t.Parallel()

	// Multi-byte runes: truncation must count runes, not bytes.
	long := strings.Repeat("試", TitleMaxLength+50)
	got := NormalizeTitle(long)

	if n := utf8.RuneCountInString(got); n != TitleMaxLength {
		t.Errorf("truncated title has %d runes, want %d", n, TitleMaxLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated title is not valid UTF-8")
	}
}

func TestNewKey(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		key := NewKey()
		if key == "" {
			t.Fatal("NewKey() returned empty string")
		}
		if seen[key] {
			t.Fatalf("NewKey() returned duplicate key %q", key)
		}
		seen[key] = true
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{Role("other"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
		}
	}
}
