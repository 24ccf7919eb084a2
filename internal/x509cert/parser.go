// Package x509cert extracts the searchable facts of an encoded certificate.
package x509cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrMalformed is returned when the input is not a parsable certificate.
var ErrMalformed = errors.New("malformed certificate")

// Info is what the record store needs from a certificate.
type Info struct {
	SerialNumber  *big.Int
	Subject       string
	NotBefore     time.Time
	NotAfter      time.Time
	ExtensionOIDs []string
}

// Parser decodes DER encoded certificates.
type Parser interface {
	Parse(der []byte) (*Info, error)
}

// StdParser is a Parser backed by crypto/x509.
type StdParser struct{}

// Parse implements Parser.
func (StdParser) Parse(der []byte) (*Info, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	oids := make([]string, 0, len(cert.Extensions))
	for _, ext := range cert.Extensions {
		oids = append(oids, ext.Id.String())
	}
	return &Info{
		SerialNumber:  cert.SerialNumber,
		Subject:       cert.Subject.String(),
		NotBefore:     cert.NotBefore.UTC(),
		NotAfter:      cert.NotAfter.UTC(),
		ExtensionOIDs: oids,
	}, nil
}
