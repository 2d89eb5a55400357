// Package phone canonicalizes customer and sender addresses.
//
// Every address that enters the system passes through Canonical exactly once,
// at the boundary. Downstream code (registry lookups, cache keys, message
// rows) only ever sees the canonical +E164 form, so a number stored on
// inbound always matches the same number used later as a cache key.
package phone

import (
	"errors"
	"strings"
)

// ChannelPrefix is the provider channel prefix carried on webhook addresses
// (for example "whatsapp:+9665xxxxxxxx").
const ChannelPrefix = "whatsapp:"

var ErrInvalid = errors.New("phone: invalid number")

// StripChannel removes the provider channel prefix, if present.
func StripChannel(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), ChannelPrefix)
}

// Canonical normalizes an address to +E164: channel prefix stripped,
// separators removed, international prefixes ("00", "011") folded into "+".
// Returns ErrInvalid when the remainder is not 7-15 digits.
func Canonical(addr string) (string, error) {
	s := StripChannel(addr)
	if s == "" {
		return "", ErrInvalid
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			// kept implicitly; digits only in the builder
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator noise
		default:
			return "", ErrInvalid
		}
	}
	digits := b.String()

	// International dialing prefixes.
	if !strings.HasPrefix(s, "+") {
		if strings.HasPrefix(digits, "00") {
			digits = digits[2:]
		} else if strings.HasPrefix(digits, "011") {
			digits = digits[3:]
		}
	}

	if len(digits) < 7 || len(digits) > 15 || strings.HasPrefix(digits, "0") {
		return "", ErrInvalid
	}
	return "+" + digits, nil
}

// WithChannel prepends the provider channel prefix to a canonical address.
func WithChannel(canonical string) string {
	return ChannelPrefix + canonical
}
