package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var (
	oidSerialNumber           = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}
)

// Czech tax identifier (DIČ): CZ followed by 8 to 10 digits.
var reTaxID = regexp.MustCompile(`\bCZ\d{8,10}\b`)

var ErrNoCertificate = errors.New("certificate missing")

// Info describes the certificate behind a signing alias.
type Info struct {
	SerialNumber *big.Int
	Alias        string
	Issuer       string
	Subject      string
	TaxID        string
	NotBefore    time.Time
	NotAfter     time.Time
	Fingerprint  [32]byte
}

// Describe extracts Info for alias from its leaf certificate.
func Describe(alias string, cert *x509.Certificate) (Info, error) {
	if cert == nil {
		return Info{}, ErrNoCertificate
	}
	if cert.SerialNumber == nil {
		return Info{}, errors.New("certificate has no serial number")
	}
	return Info{
		SerialNumber: new(big.Int).Set(cert.SerialNumber),
		Alias:        alias,
		Issuer:       cert.Issuer.String(),
		Subject:      cert.Subject.String(),
		TaxID:        extractTaxID(cert),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  sha256.Sum256(cert.Raw),
	}, nil
}

// String joins serial number, alias and issuer DN.
func (i Info) String() string {
	serial := ""
	if i.SerialNumber != nil {
		serial = i.SerialNumber.String()
	}
	return strings.Join([]string{serial, i.Alias, i.Issuer}, ", ")
}

func (i Info) FingerprintHex() string {
	return hex.EncodeToString(i.Fingerprint[:])
}

// ValidAt reports whether t falls inside the certificate validity window.
func (i Info) ValidAt(t time.Time) bool {
	return !t.Before(i.NotBefore) && !t.After(i.NotAfter)
}

// LogValue implements slog.LogValuer.
func (i Info) LogValue() slog.Value {
	serial := ""
	if i.SerialNumber != nil {
		serial = i.SerialNumber.String()
	}
	attrs := []slog.Attr{
		slog.String("serial", serial),
		slog.String("alias", i.Alias),
		slog.String("issuer", i.Issuer),
		slog.String("subject", i.Subject),
		slog.Time("not_after", i.NotAfter),
		slog.String("fingerprint", i.FingerprintHex()),
	}
	if i.TaxID != "" {
		attrs = append(attrs, slog.String("tax_id", i.TaxID))
	}
	return slog.GroupValue(attrs...)
}

// extractTaxID looks for a DIČ in the subject serialNumber and
// organizationIdentifier attributes, then in the common name.
func extractTaxID(cert *x509.Certificate) string {
	for _, name := range cert.Subject.Names {
		if !name.Type.Equal(oidSerialNumber) && !name.Type.Equal(oidOrganizationIdentifier) {
			continue
		}
		val, ok := name.Value.(string)
		if !ok {
			continue
		}
		if id := reTaxID.FindString(normalize(val)); id != "" {
			return id
		}
	}
	return reTaxID.FindString(normalize(cert.Subject.CommonName))
}

// normalize turns "VATCZ-12345678" style identifiers into "CZ12345678".
func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "VAT")
	return strings.Replace(s, "CZ-", "CZ", 1)
}
