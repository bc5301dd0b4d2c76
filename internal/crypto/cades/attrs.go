package cades

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

var (
	// id-aa-signingCertificateV2
	OidSigningCertificateV2      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OidSignaturePolicyIdentifier = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 15}
	OidSHA256                    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

	OidSignaturePolicyQualifierCPS = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 5, 1}
)

type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

type ESSCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial names the signing certificate by issuer and serial number.
// Issuer is a GeneralNames sequence holding one directoryName.
type IssuerSerial struct {
	Issuer       []asn1.RawValue
	SerialNumber *big.Int
}

const generalNameDirectory = 4

func newIssuerSerial(cert *x509.Certificate) IssuerSerial {
	return IssuerSerial{
		Issuer: []asn1.RawValue{{
			Class:      asn1.ClassContextSpecific,
			Tag:        generalNameDirectory,
			IsCompound: true,
			Bytes:      cert.RawIssuer,
		}},
		SerialNumber: cert.SerialNumber,
	}
}

type SignaturePolicyIdentifier struct {
	SigPolicyID         asn1.ObjectIdentifier
	SigPolicyHash       SigPolicyHash
	SigPolicyQualifiers []SigPolicyQualifier `asn1:"optional"`
}

type SigPolicyHash struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashValue     []byte
}

type SigPolicyQualifier struct {
	SigPolicyQualifierID asn1.ObjectIdentifier
	Qualifier            asn1.RawValue
}

// NewAlgorithmIdentifierSHA256 returns SHA-256 with explicit NULL parameters.
func NewAlgorithmIdentifierSHA256() pkix.AlgorithmIdentifier {
	return pkix.AlgorithmIdentifier{
		Algorithm:  OidSHA256,
		Parameters: asn1.NullRawValue,
	}
}
