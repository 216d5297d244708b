package auth

import (
	"strings"
	"testing"
)

func TestParseTokenRoundtrip(t *testing.T) {
	want := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	tok, err := ParseToken(want)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got := tok.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseTokenRejectsWrongLength(t *testing.T) {
	cases := []string{
		"",
		"abcd",
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
	}
	for _, s := range cases {
		if _, err := ParseToken(s); err == nil {
			t.Errorf("ParseToken(%q): expected error, got nil", s)
		}
	}
}

func TestParseTokenRejectsNonHex(t *testing.T) {
	s := strings.Repeat("z", 64)
	if _, err := ParseToken(s); err == nil {
		t.Fatalf("ParseToken(%q): expected error for non-hex input", s)
	}
}

func TestTokenEqual(t *testing.T) {
	a, err := ParseToken(strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	b, err := ParseToken(strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	c, err := ParseToken(strings.Repeat("b", 64))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}

	if !a.Equal(b) {
		t.Fatal("expected equal tokens to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected different tokens to compare unequal")
	}
}

func TestAllowList(t *testing.T) {
	a, _ := ParseToken(strings.Repeat("a", 64))
	b, _ := ParseToken(strings.Repeat("b", 64))

	list := NewAllowList([]Token{a})
	if !list.Allowed(a) {
		t.Error("expected a to be allowed")
	}
	if list.Allowed(b) {
		t.Error("expected b to be rejected")
	}
}

func TestAllowListNilRejectsEverything(t *testing.T) {
	var list *AllowList
	a, _ := ParseToken(strings.Repeat("a", 64))
	if list.Allowed(a) {
		t.Fatal("expected nil allow list to reject every token")
	}
}

func TestEmptyAllowListRejectsEverything(t *testing.T) {
	list := NewAllowList(nil)
	a, _ := ParseToken(strings.Repeat("a", 64))
	if list.Allowed(a) {
		t.Fatal("expected empty allow list to reject every token")
	}
}
