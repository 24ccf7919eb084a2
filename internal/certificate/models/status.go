package models

import (
	"fmt"

	"certstore/pkg/platform/sentinel"
)

// Status is the lifecycle state of a certificate record.
//
// Transitions:
//   - INVALID → VALID once notBefore is reached
//   - VALID → EXPIRED once notAfter has passed
//   - VALID → REVOKED on revocation, REVOKED → VALID on unrevocation
//   - REVOKED → REVOKED_EXPIRED once notAfter has passed
//
// EXPIRED and REVOKED_EXPIRED are terminal.
type Status string

const (
	StatusInvalid        Status = "INVALID"
	StatusValid          Status = "VALID"
	StatusExpired        Status = "EXPIRED"
	StatusRevoked        Status = "REVOKED"
	StatusRevokedExpired Status = "REVOKED_EXPIRED"
)

// IsValid checks if the status is one of the supported values.
func (s Status) IsValid() bool {
	switch s {
	case StatusInvalid, StatusValid, StatusExpired, StatusRevoked, StatusRevokedExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusRevokedExpired
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusInvalid:
		return next == StatusValid
	case StatusValid:
		return next == StatusExpired || next == StatusRevoked
	case StatusRevoked:
		return next == StatusValid || next == StatusRevokedExpired
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown status %q: %w", s, sentinel.ErrSerialization)
	}
	return st, nil
}

// AutoRenew is the renewal preference of a certificate.
type AutoRenew string

const (
	AutoRenewEnabled  AutoRenew = "ENABLED"
	AutoRenewDisabled AutoRenew = "DISABLED"
	AutoRenewDone     AutoRenew = "DONE"
	AutoRenewNotified AutoRenew = "NOTIFIED"
)

// IsValid checks if the value is one of the supported values.
func (a AutoRenew) IsValid() bool {
	switch a {
	case AutoRenewEnabled, AutoRenewDisabled, AutoRenewDone, AutoRenewNotified:
		return true
	}
	return false
}

// ParseAutoRenew validates s as an AutoRenew value.
func ParseAutoRenew(s string) (AutoRenew, error) {
	a := AutoRenew(s)
	if !a.IsValid() {
		return "", fmt.Errorf("unknown auto renew value %q: %w", s, sentinel.ErrSerialization)
	}
	return a, nil
}
