package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"certstore/pkg/platform/sentinel"
)

// RevocationReason is an RFC 5280 CRLReason code.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

var reasonNames = map[RevocationReason]string{
	ReasonUnspecified:          "unspecified",
	ReasonKeyCompromise:        "keyCompromise",
	ReasonCACompromise:         "cACompromise",
	ReasonAffiliationChanged:   "affiliationChanged",
	ReasonSuperseded:           "superseded",
	ReasonCessationOfOperation: "cessationOfOperation",
	ReasonCertificateHold:      "certificateHold",
	ReasonRemoveFromCRL:        "removeFromCRL",
	ReasonPrivilegeWithdrawn:   "privilegeWithdrawn",
	ReasonAACompromise:         "aACompromise",
}

// IsValid checks if r is a code RFC 5280 defines. Code 7 is unused.
func (r RevocationReason) IsValid() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r RevocationReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "reason(" + strconv.Itoa(int(r)) + ")"
}

// ParseRevocationReason accepts a reason name, case-insensitively, or its code.
func ParseRevocationReason(s string) (RevocationReason, error) {
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		r := RevocationReason(code)
		if !r.IsValid() {
			return 0, fmt.Errorf("unknown revocation reason %d: %w", code, sentinel.ErrSerialization)
		}
		return r, nil
	}
	for r, name := range reasonNames {
		if strings.EqualFold(name, s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown revocation reason %q: %w", s, sentinel.ErrSerialization)
}

// RevocationInfo records when and why a certificate was revoked.
type RevocationInfo struct {
	Date   time.Time        `json:"date"`
	Reason RevocationReason `json:"reason"`
	// InvalidityDate is when the key is known or suspected to have been
	// compromised, if reported.
	InvalidityDate *time.Time `json:"invalidity_date,omitempty"`
}

// NewRevocationInfo validates and builds revocation info.
func NewRevocationInfo(date time.Time, reason RevocationReason, invalidityDate *time.Time) (*RevocationInfo, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("revocation date is required: %w", sentinel.ErrSerialization)
	}
	if !reason.IsValid() {
		return nil, fmt.Errorf("unknown revocation reason %d: %w", int(reason), sentinel.ErrSerialization)
	}
	info := &RevocationInfo{Date: date.UTC().Truncate(time.Second), Reason: reason}
	if invalidityDate != nil {
		d := invalidityDate.UTC().Truncate(time.Second)
		info.InvalidityDate = &d
	}
	return info, nil
}
