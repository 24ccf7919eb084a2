package schema

import (
	"certstore/internal/certificate/models"
	"certstore/internal/x509cert"
)

// Wire attributes of the certificate record type.
const (
	AttrSerialNumber = "serialno"
	AttrStatus       = "certStatus"
	AttrAutoRenew    = "autoRenew"
	AttrMetaInfo     = "metaInfo"
	AttrIssuedBy     = "issuedBy"
	AttrRevokedBy    = "revokedBy"
	AttrRevokedOn    = "revokedOn"
	AttrRevInfo      = "revInfo"
	AttrCreateTime   = "dateOfCreate"
	AttrModifyTime   = "dateOfModify"
)

// CertificateClasses are the object classes of a certificate record entry.
var CertificateClasses = []string{"top", "certificateRecord"}

// MetaKeyPrefix names the dynamic field family addressing single meta keys, as in
// "meta.requestId".
const MetaKeyPrefix = "meta"

// NewCertificateRegistry builds the schema for certificate records.
func NewCertificateRegistry(parser x509cert.Parser) (*Registry, error) {
	return NewBuilder().
		Register(RecordType{
			Name:    models.RecordType,
			Classes: CertificateClasses,
			Fields:  models.Fields,
			New:     func() Record { return &models.CertificateRecord{} },
		}).
		RegisterAttribute(models.FieldSerialNumber, BigIntegerMapper{Attr: AttrSerialNumber}).
		RegisterAttribute(models.FieldCertificate, X509CertificateMapper{Parser: parser}).
		RegisterAttribute(models.FieldStatus, StringMapper{Attr: AttrStatus}).
		RegisterAttribute(models.FieldAutoRenew, StringMapper{Attr: AttrAutoRenew}).
		RegisterAttribute(models.FieldMetaInfo, MetaInfoMapper{Attr: AttrMetaInfo}).
		RegisterAttribute(models.FieldIssuedBy, StringMapper{Attr: AttrIssuedBy}).
		RegisterAttribute(models.FieldRevokedBy, StringMapper{Attr: AttrRevokedBy}).
		RegisterAttribute(models.FieldRevokedOn, DateMapper{Attr: AttrRevokedOn}).
		RegisterAttribute(models.FieldRevocationInfo, RevocationInfoMapper{Attr: AttrRevInfo}).
		RegisterAttribute(models.FieldCreateTime, DateMapper{Attr: AttrCreateTime}).
		RegisterAttribute(models.FieldModifyTime, DateMapper{Attr: AttrModifyTime}).
		RegisterDynamicMapper(MetaKeyMapper{Prefix: MetaKeyPrefix, Attr: AttrMetaInfo}).
		Build()
}
