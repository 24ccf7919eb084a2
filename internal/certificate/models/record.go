package models

import (
	"fmt"
	"math/big"
	"slices"
	"time"

	"certstore/internal/x509cert"
	"certstore/pkg/platform/sentinel"
)

// RecordType is the registered name of the certificate record type.
const RecordType = "certificateRecord"

// Logical field names. Sub-fields of a field are addressed as "<field>.<sub>".
const (
	FieldSerialNumber   = "serialNumber"
	FieldCertificate    = "cert"
	FieldStatus         = "status"
	FieldAutoRenew      = "autoRenew"
	FieldMetaInfo       = "metaInfo"
	FieldIssuedBy       = "issuedBy"
	FieldRevokedBy      = "revokedBy"
	FieldRevokedOn      = "revokedOn"
	FieldRevocationInfo = "revocationInfo"
	FieldCreateTime     = "createTime"
	FieldModifyTime     = "modifyTime"

	FieldNotBefore = FieldCertificate + ".notBefore"
	FieldNotAfter  = FieldCertificate + ".notAfter"
	FieldSubject   = FieldCertificate + ".subject"
)

// Fields lists every persisted field in encode order.
var Fields = []string{
	FieldSerialNumber,
	FieldCertificate,
	FieldStatus,
	FieldAutoRenew,
	FieldMetaInfo,
	FieldIssuedBy,
	FieldRevokedBy,
	FieldRevokedOn,
	FieldRevocationInfo,
	FieldCreateTime,
	FieldModifyTime,
}

// Certificate is an encoded certificate together with the facts the store indexes.
type Certificate struct {
	DER           []byte    `json:"der"`
	Subject       string    `json:"subject"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	ExtensionOIDs []string  `json:"extension_oids,omitempty"`
}

// NewCertificate parses der and captures its indexed facts.
func NewCertificate(der []byte, parser x509cert.Parser) (*Certificate, error) {
	info, err := parser.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Certificate{
		DER:           slices.Clone(der),
		Subject:       info.Subject,
		NotBefore:     info.NotBefore,
		NotAfter:      info.NotAfter,
		ExtensionOIDs: info.ExtensionOIDs,
	}, nil
}

// CertificateRecord is the persistent record of one issued certificate.
//
// Invariants:
//   - SerialNumber is non-nil and non-negative; it is the record key
//   - Status follows the transitions documented on Status
//   - RevocationInfo, RevokedBy and RevokedOn are set together, and only while the
//     record is REVOKED or REVOKED_EXPIRED
type CertificateRecord struct {
	SerialNumber   *big.Int        `json:"serial_number"`
	Certificate    *Certificate    `json:"certificate,omitempty"`
	Status         Status          `json:"status"`
	AutoRenew      AutoRenew       `json:"auto_renew,omitempty"`
	MetaInfo       MetaInfo        `json:"meta_info"`
	IssuedBy       string          `json:"issued_by,omitempty"`
	RevokedBy      string          `json:"revoked_by,omitempty"`
	RevokedOn      time.Time       `json:"revoked_on,omitzero"`
	RevocationInfo *RevocationInfo `json:"revocation_info,omitempty"`
	CreateTime     time.Time       `json:"create_time"`
	ModifyTime     time.Time       `json:"modify_time"`
}

// NewCertificateRecord builds a record for a freshly issued certificate. Status,
// issuer and timestamps are filled in by the store.
func NewCertificateRecord(serial *big.Int, cert *Certificate) (*CertificateRecord, error) {
	if serial == nil || serial.Sign() < 0 {
		return nil, fmt.Errorf("serial number must be non-negative: %w", sentinel.ErrSerialization)
	}
	if cert == nil {
		return nil, fmt.Errorf("certificate is required: %w", sentinel.ErrSerialization)
	}
	return &CertificateRecord{
		SerialNumber: new(big.Int).Set(serial),
		Certificate:  cert,
	}, nil
}

// IsRevoked reports whether the record carries revocation info.
func (r *CertificateRecord) IsRevoked() bool {
	return r.RevocationInfo != nil
}

// RecordType implements schema.Record.
func (*CertificateRecord) RecordType() string { return RecordType }

// Field implements schema.Record. Unset fields are reported as nil.
func (r *CertificateRecord) Field(name string) any {
	switch name {
	case FieldSerialNumber:
		if r.SerialNumber == nil {
			return nil
		}
		return r.SerialNumber
	case FieldCertificate:
		if r.Certificate == nil {
			return nil
		}
		return r.Certificate
	case FieldStatus:
		return nonEmpty(string(r.Status))
	case FieldAutoRenew:
		return nonEmpty(string(r.AutoRenew))
	case FieldMetaInfo:
		if r.MetaInfo.Len() == 0 {
			return nil
		}
		return r.MetaInfo
	case FieldIssuedBy:
		return nonEmpty(r.IssuedBy)
	case FieldRevokedBy:
		return nonEmpty(r.RevokedBy)
	case FieldRevokedOn:
		return nonZero(r.RevokedOn)
	case FieldRevocationInfo:
		if r.RevocationInfo == nil {
			return nil
		}
		return r.RevocationInfo
	case FieldCreateTime:
		return nonZero(r.CreateTime)
	case FieldModifyTime:
		return nonZero(r.ModifyTime)
	}
	return nil
}

// SetField implements schema.Record.
func (r *CertificateRecord) SetField(name string, v any) error {
	var ok bool
	switch name {
	case FieldSerialNumber:
		r.SerialNumber, ok = v.(*big.Int)
	case FieldCertificate:
		r.Certificate, ok = v.(*Certificate)
	case FieldStatus:
		var s string
		if s, ok = v.(string); ok {
			st, err := ParseStatus(s)
			if err != nil {
				return err
			}
			r.Status = st
		}
	case FieldAutoRenew:
		var s string
		if s, ok = v.(string); ok {
			a, err := ParseAutoRenew(s)
			if err != nil {
				return err
			}
			r.AutoRenew = a
		}
	case FieldMetaInfo:
		r.MetaInfo, ok = v.(MetaInfo)
	case FieldIssuedBy:
		r.IssuedBy, ok = v.(string)
	case FieldRevokedBy:
		r.RevokedBy, ok = v.(string)
	case FieldRevokedOn:
		r.RevokedOn, ok = v.(time.Time)
	case FieldRevocationInfo:
		r.RevocationInfo, ok = v.(*RevocationInfo)
	case FieldCreateTime:
		r.CreateTime, ok = v.(time.Time)
	case FieldModifyTime:
		r.ModifyTime, ok = v.(time.Time)
	default:
		return fmt.Errorf("unknown field %s: %w", name, sentinel.ErrSchema)
	}
	if !ok {
		return fmt.Errorf("field %s: unexpected value type %T: %w", name, v, sentinel.ErrSerialization)
	}
	return nil
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
