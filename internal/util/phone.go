package util

import (
	"html"
	"strings"
)

// NormalizePhone strips everything but digits and drops a leading Indian
// country code ("91") or trunk prefix ("0") when the remainder is a
// 10-digit subscriber number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return digits[1:]
	}
	return digits
}

// IsValidPhone reports whether phone is a normalized 10-digit mobile number
// starting with 6, 7, 8 or 9.
func IsValidPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	if phone[0] < '6' || phone[0] > '9' {
		return false
	}
	return IsDigits(phone)
}

// IsNumericCode reports whether code is all digits with a length in [min, max].
func IsNumericCode(code string, min, max int) bool {
	if len(code) < min || len(code) > max {
		return false
	}
	return IsDigits(code)
}

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
