package core

import (
	"net/mail"
	"strings"
)

// NormalizeEmail canonicalizes an email into the join key used everywhere:
// surrounding whitespace trimmed, then lowercased. Two records belong to the
// same prospect iff their normalized emails are equal.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether a normalized email is a bare address that can
// serve as an identity key. Display-name forms ("Jo <jo@x.com>") are rejected.
func ValidEmail(normalized string) bool {
	if normalized == "" || strings.ContainsAny(normalized, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil {
		return false
	}
	return addr.Address == normalized
}
