// Copyright 2024-2026 Aiku AI

// Package phonefmt normalizes phone numbers into WhatsApp user addresses and
// masks them for logging.
package phonefmt

import "strings"

// UserServer is the WhatsApp server part of individual user addresses.
const UserServer = "s.whatsapp.net"

// brazil is the calling code whose mobile numbers exist both with and
// without the extra leading 9 after the area code.
const brazil = "55"

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Variants returns the candidate international numbers for a user-supplied
// number, most likely first. The country code is prepended when the number
// does not already start with it. Brazilian mobile numbers also yield the
// variant with the ninth digit added or removed.
func Variants(number, countryCode string) []string {
	digits := Digits(number)
	if digits == "" {
		return nil
	}
	countryCode = Digits(countryCode)
	base := digits
	if countryCode != "" && !strings.HasPrefix(digits, countryCode) {
		base = countryCode + digits
	}
	out := []string{base}
	if countryCode != brazil || !strings.HasPrefix(base, brazil) {
		return out
	}

	rest := base[len(brazil):]
	var alt string
	switch {
	case len(rest) == 11 && rest[2] == '9':
		alt = brazil + rest[:2] + rest[3:]
	case len(rest) == 10:
		alt = brazil + rest[:2] + "9" + rest[2:]
	}
	if alt != "" && alt != base {
		out = append(out, alt)
	}
	return out
}

// UserJID returns the user address of an international number.
func UserJID(number string) string {
	return number + "@" + UserServer
}

// MaskDigits replaces every digit except the last four with '*'.
func MaskDigits(s string) string {
	total := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			total++
		}
	}
	if total <= 4 {
		return s
	}
	b := []byte(s)
	seen := 0
	for i := range b {
		if b[i] >= '0' && b[i] <= '9' {
			if seen < total-4 {
				b[i] = '*'
			}
			seen++
		}
	}
	return string(b)
}

// MaskJID masks the user part of an address and keeps the server.
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if !found {
		return MaskDigits(jid)
	}
	return MaskDigits(user) + "@" + server
}
