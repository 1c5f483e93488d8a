package cardgen

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
)

// LuhnCheckDigit returns the check digit that makes body+digit Luhn-valid.
// Virtual identifiers carry a fixed suffix instead of a check digit; this is
// used to report whether a number would pass a Luhn check at a real acquirer.
func LuhnCheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	cd := (10 - (sum % 10)) % 10
	return string('0' + byte(cd))
}

// ValidateLuhn checks that pan is all digits, 13..19 long and Luhn-valid.
func ValidateLuhn(pan string) error {
	if pan == "" {
		return fmt.Errorf("pan is required")
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	if l := len(pan); l < 13 || l > 19 {
		return fmt.Errorf("pan length must be 13..19 digits (got %d)", l)
	}
	body := pan[:len(pan)-1]
	if pan[len(pan)-1] != LuhnCheckDigit(body)[0] {
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MaskPAN keeps the last four digits, e.g. "**** **** **** 2241".
func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	if n != IdentifierLen {
		return strings.Repeat("*", n-4) + cleaned[n-4:]
	}
	return "**** **** **** " + cleaned[n-4:]
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

// HashPANHMAC keys a store lookup on the normalized number without indexing
// the number itself.
func HashPANHMAC(pan string, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(NormalizePAN(pan)))
	return h.Sum(nil)
}
