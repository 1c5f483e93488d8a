package cardgen

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	IdentifierPrefix = "8948"
	IdentifierSuffix = "2241"
	IdentifierLen    = 16

	infixLen = IdentifierLen - len(IdentifierPrefix) - len(IdentifierSuffix)
)

// IdentifierSpace is the number of distinct identifiers the fixed
// prefix/suffix layout can produce (10^8).
const IdentifierSpace = 100_000_000

var ErrMalformedIdentifier = errors.New("malformed card identifier")

// IsWellFormed reports whether id has the exact issuer layout:
// prefix, 8 digits, suffix. Pool membership is not checked.
func IsWellFormed(id string) bool {
	return ValidateIdentifier(id) == nil
}

// ValidateIdentifier is IsWellFormed with a reason attached.
func ValidateIdentifier(id string) error {
	if len(id) != IdentifierLen {
		return fmt.Errorf("%w: length %d, want %d", ErrMalformedIdentifier, len(id), IdentifierLen)
	}
	if !strings.HasPrefix(id, IdentifierPrefix) {
		return fmt.Errorf("%w: prefix must be %s", ErrMalformedIdentifier, IdentifierPrefix)
	}
	if !strings.HasSuffix(id, IdentifierSuffix) {
		return fmt.Errorf("%w: suffix must be %s", ErrMalformedIdentifier, IdentifierSuffix)
	}
	if !IsDigits(id[len(IdentifierPrefix) : len(IdentifierPrefix)+infixLen]) {
		return fmt.Errorf("%w: infix must be digits", ErrMalformedIdentifier)
	}
	return nil
}

// Source produces random identifiers from a buffered crypto/rand stream.
// A Source is not safe for concurrent use; give each generator goroutine its own.
type Source struct {
	r   io.Reader
	buf []byte
}

func NewSource() *Source {
	return newSource(rand.Reader)
}

func newSource(r io.Reader) *Source {
	return &Source{
		r:   bufio.NewReaderSize(r, 4096),
		buf: make([]byte, 64),
	}
}

// Next returns one candidate identifier. Uniqueness is the caller's concern.
func (s *Source) Next() (string, error) {
	var sb strings.Builder
	sb.Grow(IdentifierLen)
	sb.WriteString(IdentifierPrefix)
	if err := s.digits(&sb, infixLen); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	sb.WriteString(IdentifierSuffix)
	return sb.String(), nil
}

// digits appends count uniform decimal digits, using rejection sampling
// (only bytes < 250 are accepted) so that 0-9 stay unbiased.
func (s *Source) digits(sb *strings.Builder, count int) error {
	const threshold = 250 // 256 - (256 % 10)
	for written := 0; written < count; {
		n, err := s.r.Read(s.buf[:count-written+4])
		if err != nil {
			return err
		}
		for i := 0; i < n && written < count; i++ {
			if b := s.buf[i]; b < threshold {
				sb.WriteByte('0' + (b % 10))
				written++
			}
		}
	}
	return nil
}

// GenerateIdentifier returns a single random identifier.
func GenerateIdentifier() (string, error) {
	return NewSource().Next()
}

// RandomDigits returns a uniform random numeric string of the given length,
// used for CVVs, activation codes and approval codes.
func RandomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.Grow(count)
	s := &Source{r: rand.Reader, buf: make([]byte, count+8)}
	if err := s.digits(&sb, count); err != nil {
		return "", err
	}
	return sb.String(), nil
}
