// Package auth implements the access-token allow-list used to gate new
// connections during the handshake.
package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Token is a 256-bit opaque credential. Its text form is exactly 64 lowercase
// hex characters.
type Token [32]byte

// ParseToken parses a 64-character hex string into a Token.
func ParseToken(s string) (Token, error) {
	var t Token
	if len(s) != len(t)*2 {
		return t, fmt.Errorf("auth: access token must be %d hex characters, got %d", len(t)*2, len(s))
	}
	for i := 0; i < len(s); i++ {
		if ch := s[i]; !('0' <= ch && ch <= '9' || 'a' <= ch && ch <= 'f') {
			return t, fmt.Errorf("auth: access token must be lowercase hex, got %q at offset %d", ch, i)
		}
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("auth: access token is not valid hex: %w", err)
	}
	copy(t[:], decoded)
	return t, nil
}

// String renders the token as lowercase hex.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// Equal reports whether two tokens are byte-identical, in constant time.
func (t Token) Equal(other Token) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// AllowList is a set of tokens accepted during the handshake.
type AllowList struct {
	tokens map[Token]struct{}
}

// NewAllowList builds an AllowList from the given tokens.
func NewAllowList(tokens []Token) *AllowList {
	set := make(map[Token]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &AllowList{tokens: set}
}

// Allowed reports whether t is a member of the allow list. An empty allow
// list rejects every token.
func (a *AllowList) Allowed(t Token) bool {
	if a == nil {
		return false
	}
	_, ok := a.tokens[t]
	return ok
}
