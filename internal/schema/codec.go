package schema

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"certstore/pkg/platform/sentinel"
)

// DateLayout is the fixed-width wire form of instants, always UTC. Lexicographic
// order of encoded values equals chronological order.
const DateLayout = "20060102150405Z"

// EncodeBigInt encodes a non-negative integer as its decimal digit count followed
// by the digits. Counts below ten are zero padded to two characters, so within one
// digit count the lexicographic order of encodings equals numeric order.
func EncodeBigInt(n *big.Int) (string, error) {
	if n == nil {
		return "", fmt.Errorf("encode integer: nil value: %w", sentinel.ErrSerialization)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("encode integer %s: negative value: %w", n, sentinel.ErrSerialization)
	}
	return encodeDigits(n.String()), nil
}

// EncodeInt64 is EncodeBigInt for machine integers.
func EncodeInt64(n int64) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("encode integer %d: negative value: %w", n, sentinel.ErrSerialization)
	}
	return encodeDigits(strconv.FormatInt(n, 10)), nil
}

func encodeDigits(digits string) string {
	count := len(digits)
	if count < 10 {
		return "0" + strconv.Itoa(count) + digits
	}
	return strconv.Itoa(count) + digits
}

// DecodeBigInt reverses EncodeBigInt.
func DecodeBigInt(s string) (*big.Int, error) {
	digits, err := splitDigits(s)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("decode integer %q: %w", s, sentinel.ErrSerialization)
	}
	return n, nil
}

// DecodeInt64 reverses EncodeInt64.
func DecodeInt64(s string) (int64, error) {
	digits, err := splitDigits(s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode integer %q: %w", s, sentinel.ErrSerialization)
	}
	return n, nil
}

// splitDigits strips the length prefix, accepting two- or three-character counts.
func splitDigits(s string) (string, error) {
	for _, width := range []int{2, 3} {
		if len(s) <= width {
			break
		}
		count, err := strconv.Atoi(s[:width])
		if err != nil {
			break
		}
		if count == len(s)-width && isDigits(s[width:]) {
			return s[width:], nil
		}
	}
	return "", fmt.Errorf("decode integer %q: malformed length prefix: %w", s, sentinel.ErrSerialization)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// ParseBigInt reads a decimal or 0x-prefixed hexadecimal integer as typed by a
// user in a filter.
func ParseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("parse integer %q: %w", s, sentinel.ErrSerialization)
	}
	return n, nil
}

// EncodeDate renders t in DateLayout.
func EncodeDate(t time.Time) (string, error) {
	if t.IsZero() {
		return "", fmt.Errorf("encode date: zero time: %w", sentinel.ErrSerialization)
	}
	return t.UTC().Format(DateLayout), nil
}

// DecodeDate reverses EncodeDate.
func DecodeDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode date %q: %w", s, sentinel.ErrSerialization)
	}
	return t, nil
}

// ParseDate reads a date typed in a filter: epoch milliseconds, RFC 3339, or the
// wire form itself.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse date %q: %w", s, sentinel.ErrSerialization)
}
