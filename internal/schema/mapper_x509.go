package schema

import (
	"encoding/base64"
	"fmt"
	"strings"

	"certstore/internal/certificate/models"
	"certstore/internal/directory"
	"certstore/internal/filter"
	"certstore/internal/x509cert"
	"certstore/pkg/platform/sentinel"
)

// Wire attributes written by X509CertificateMapper.
const (
	AttrUserCertificate = "userCertificate;binary"
	AttrNotBefore       = "notBefore"
	AttrNotAfter        = "notAfter"
	AttrSubjectName     = "subjectName"
	AttrExtension       = "extension"
)

// X509CertificateMapper stores the encoded certificate together with the facts
// searches need: validity bounds, subject and extension OIDs. The facts are always
// re-derived from the encoding through Parser.
type X509CertificateMapper struct {
	Parser x509cert.Parser
}

func (m X509CertificateMapper) WireNames() []string {
	return []string{AttrUserCertificate, AttrNotBefore, AttrNotAfter, AttrSubjectName, AttrExtension}
}

func (m X509CertificateMapper) Encode(v any) (directory.Attributes, error) {
	cert, ok := v.(*models.Certificate)
	if !ok || cert == nil {
		return nil, typeError("x509 certificate", v)
	}
	info, err := m.Parser.Parse(cert.DER)
	if err != nil {
		return nil, fmt.Errorf("x509 certificate mapper: %w: %w", sentinel.ErrSerialization, err)
	}
	notBefore, err := EncodeDate(info.NotBefore)
	if err != nil {
		return nil, err
	}
	notAfter, err := EncodeDate(info.NotAfter)
	if err != nil {
		return nil, err
	}
	attrs := directory.Attributes{}
	attrs.Set(AttrUserCertificate, base64.StdEncoding.EncodeToString(cert.DER))
	attrs.Set(AttrNotBefore, notBefore)
	attrs.Set(AttrNotAfter, notAfter)
	if info.Subject != "" {
		attrs.Set(AttrSubjectName, info.Subject)
	}
	attrs.Set(AttrExtension, info.ExtensionOIDs...)
	return attrs, nil
}

func (m X509CertificateMapper) Decode(attrs directory.Attributes) (any, bool, error) {
	encoded, ok := attrs.First(AttrUserCertificate)
	if !ok {
		return nil, false, nil
	}
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("x509 certificate mapper: %w: %w", sentinel.ErrSerialization, err)
	}
	cert, err := models.NewCertificate(der, m.Parser)
	if err != nil {
		return nil, false, fmt.Errorf("x509 certificate mapper: %w: %w", sentinel.ErrSerialization, err)
	}
	return cert, true, nil
}

// TranslateClause supports the sub-fields notBefore, notAfter, subject and
// extension. A bare field name only supports presence.
func (m X509CertificateMapper) TranslateClause(name string, op filter.Op, value string) (filter.Node, error) {
	_, sub := SplitField(name)
	switch strings.ToLower(sub) {
	case "":
		if op != filter.OpPresent {
			return nil, fmt.Errorf("%w: %s only supports presence", sentinel.ErrInvalidFilter, name)
		}
		return filter.Present(AttrUserCertificate), nil
	case "notbefore":
		return DateClause(AttrNotBefore, op, value)
	case "notafter":
		return DateClause(AttrNotAfter, op, value)
	case "subject":
		return leaf(AttrSubjectName, op, value), nil
	case "extension":
		return leaf(AttrExtension, op, value), nil
	}
	return nil, fmt.Errorf("%w: certificate has no sub-field %q", sentinel.ErrInvalidFilter, sub)
}
