package schema

import (
	"fmt"
	"strconv"
	"strings"

	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/pkg/platform/sentinel"
)

const (
	revReasonTag   = "reason="
	revInvalidTag  = "invalidityDate="
	revSeparator   = ";"
	subReason      = "reason"
	subInvalidDate = "invalidityDate"
)

// RevocationInfoMapper stores models.RevocationInfo as a single value of the form
// "<date>;reason=<code>[;invalidityDate=<date>]".
type RevocationInfoMapper struct {
	Attr string
}

func (m RevocationInfoMapper) WireNames() []string { return []string{m.Attr} }

func (m RevocationInfoMapper) Encode(v any) (directory.Attributes, error) {
	info, ok := v.(*models.RevocationInfo)
	if !ok || info == nil {
		return nil, typeError("revocation info", v)
	}
	s, err := FormatRevocationInfo(info)
	if err != nil {
		return nil, err
	}
	return directory.Attributes{strings.ToLower(m.Attr): {s}}, nil
}

func (m RevocationInfoMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	s, ok := attrs.First(m.Attr)
	if !ok {
		return nil, false, nil
	}
	info, err := ParseRevocationInfo(s)
	if err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// TranslateClause supports the sub-fields "reason" and "invalidityDate", which
// become substring patterns on the encoded value.
func (m RevocationInfoMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	_, sub := SplitField(name)
	switch sub {
	case "":
		return leaf(m.Attr, op, value), nil
	case subReason:
		switch op {
		case filter.OpPresent:
			return filter.Present(m.Attr), nil
		case filter.OpEqual:
			r, err := models.ParseRevocationReason(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", sentinel.ErrInvalidFilter, err)
			}
			tag := revSeparator + revReasonTag + strconv.Itoa(int(r))
			return filter.OrOf(
				filter.Eq(m.Attr, "*"+tag),
				filter.Eq(m.Attr, "*"+tag+revSeparator+"*"),
			), nil
		}
	case subInvalidDate:
		switch op {
		case filter.OpPresent:
			return filter.Eq(m.Attr, "*"+revSeparator+revInvalidTag+"*"), nil
		case filter.OpEqual:
			t, err := ParseDate(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", sentinel.ErrInvalidFilter, err)
			}
			encoded, err := EncodeDate(t)
			if err != nil {
				return nil, err
			}
			return filter.Eq(m.Attr, "*"+revSeparator+revInvalidTag+encoded), nil
		}
	default:
		return nil, fmt.Errorf("%w: revocation info has no sub-field %q", sentinel.ErrInvalidFilter, sub)
	}
	return nil, fmt.Errorf("%w: operator %s not supported on %s", sentinel.ErrInvalidFilter, op, name)
}

// FormatRevocationInfo renders info in its wire form.
func FormatRevocationInfo(info *models.RevocationInfo) (string, error) {
	date, err := EncodeDate(info.Date)
	if err != nil {
		return "", err
	}
	s := date + revSeparator + revReasonTag + strconv.Itoa(int(info.Reason))
	if info.InvalidityDate != nil {
		inv, err := EncodeDate(*info.InvalidityDate)
		if err != nil {
			return "", err
		}
		s += revSeparator + revInvalidTag + inv
	}
	return s, nil
}

// ParseRevocationInfo reverses FormatRevocationInfo.
func ParseRevocationInfo(s string) (*models.RevocationInfo, error) {
	parts := strings.Split(s, revSeparator)
	if len(parts) < 2 {
		return nil, fmt.Errorf("revocation info %q: missing reason: %w", s, sentinel.ErrSerialization)
	}
	date, err := DecodeDate(parts[0])
	if err != nil {
		return nil, err
	}
	info := &models.RevocationInfo{Date: date}
	sawReason := false
	for _, p := range parts[1:] {
		switch {
		case strings.HasPrefix(p, revReasonTag):
			code, err := strconv.Atoi(strings.TrimPrefix(p, revReasonTag))
			if err != nil || !models.RevocationReason(code).IsValid() {
				return nil, fmt.Errorf("revocation info %q: bad reason: %w", s, sentinel.ErrSerialization)
			}
			info.Reason = models.RevocationReason(code)
			sawReason = true
		case strings.HasPrefix(p, revInvalidTag):
			inv, err := DecodeDate(strings.TrimPrefix(p, revInvalidTag))
			if err != nil {
				return nil, err
			}
			info.InvalidityDate = &inv
		default:
			return nil, fmt.Errorf("revocation info %q: unknown part %q: %w", s, p, sentinel.ErrSerialization)
		}
	}
	if !sawReason {
		return nil, fmt.Errorf("revocation info %q: missing reason: %w", s, sentinel.ErrSerialization)
	}
	return info, nil
}
