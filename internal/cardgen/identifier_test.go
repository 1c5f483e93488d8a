package cardgen

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"8948123456782241", true},
		{"8948000000002241", true},
		{"894812345672241", false},   // 15 chars
		{"89481234567812241", false}, // 17 chars
		{"8949123456782241", false},  // prefix
		{"8948123456782242", false},  // suffix
		{"89481234a6782241", false},  // infix
		{"", false},
	}
	for _, c := range cases {
		if got := IsWellFormed(c.in); got != c.ok {
			t.Fatalf("IsWellFormed(%q)=%v want %v", c.in, got, c.ok)
		}
	}
}

func TestValidateIdentifier_WrapsSentinel(t *testing.T) {
	err := ValidateIdentifier("1234")
	if !errors.Is(err, ErrMalformedIdentifier) {
		t.Fatalf("want ErrMalformedIdentifier, got %v", err)
	}
}

func TestSource_GeneratesWellFormed(t *testing.T) {
	s := NewSource()
	seen := make(map[string]struct{})
	for i := 0; i < 2000; i++ {
		id, err := s.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !IsWellFormed(id) {
			t.Fatalf("generated malformed id %q", id)
		}
		seen[id] = struct{}{}
	}
	// 2000 draws from 10^8: collisions are possible but a handful at most.
	if len(seen) < 1990 {
		t.Fatalf("too many duplicates: %d unique of 2000", len(seen))
	}
}

func TestSource_RejectsBiasedBytes(t *testing.T) {
	// bytes >= 250 must be skipped; 0..7 map to digits 0..7
	in := []byte{255, 251, 0, 1, 2, 250, 3, 4, 5, 6, 7}
	s := newSource(bytes.NewReader(in))
	id, err := s.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if id != "8948012345672241" {
		t.Fatalf("got %s", id)
	}
}

func TestRandomDigits(t *testing.T) {
	for _, n := range []int{0, 3, 6, 32} {
		got, err := RandomDigits(n)
		if err != nil {
			t.Fatalf("RandomDigits(%d): %v", n, err)
		}
		if len(got) != n || !IsDigits(got) {
			t.Fatalf("RandomDigits(%d)=%q", n, got)
		}
	}
}

func TestLuhn(t *testing.T) {
	if err := ValidateLuhn("4111111111111111"); err != nil {
		t.Fatalf("valid pan rejected: %v", err)
	}
	if err := ValidateLuhn("4111111111111112"); err == nil {
		t.Fatalf("invalid pan accepted")
	}
	if cd := LuhnCheckDigit("411111111111111"); cd != "1" {
		t.Fatalf("check digit got %s want 1", cd)
	}
}

func TestMaskPAN(t *testing.T) {
	if got := MaskPAN("8948 1234 5678 2241"); got != "**** **** **** 2241" {
		t.Fatalf("got %q", got)
	}
	if got := MaskPAN("123"); got != "***" {
		t.Fatalf("got %q", got)
	}
	if got := MaskPAN("4111111111111"); !strings.HasSuffix(got, "1111") || strings.Count(got, "*") != 9 {
		t.Fatalf("got %q", got)
	}
}

func TestHashPANHMAC_NormalizesInput(t *testing.T) {
	key := []byte("k")
	a := HashPANHMAC("8948123456782241", key)
	b := HashPANHMAC("8948-1234-5678-2241", key)
	if !bytes.Equal(a, b) {
		t.Fatalf("hash differs for formatted input")
	}
	if bytes.Equal(a, HashPANHMAC("8948123456782241", []byte("other"))) {
		t.Fatalf("hash must depend on key")
	}
}
