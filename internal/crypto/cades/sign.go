package cades

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/smallstep/pkcs7"
)

// Policy identifies a signature policy by OID and the SHA-256 hash of the
// policy document.
type Policy struct {
	OID  string
	Hash []byte
	URI  string
}

type SignOpts struct {
	Policy *Policy // nil if none
	Logger *slog.Logger
}

func parseOID(oidStr string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(oidStr, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", oidStr)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		val, err := strconv.Atoi(part)
		if err != nil || val < 0 {
			return nil, fmt.Errorf("invalid OID %q", oidStr)
		}
		oid[i] = val
	}
	return oid, nil
}

// SignDetached creates a CAdES-BES detached signature over content. The
// signed attributes carry signingCertificateV2 and, when opts.Policy is set,
// a signature policy identifier.
func SignDetached(ctx context.Context, signer crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate, content []byte, opts SignOpts) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signer == nil || cert == nil {
		return nil, errors.New("signer and certificate are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Debug("starting CAdES detached signing", "content_len", len(content))

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	attrs, err := signedAttributes(cert, opts.Policy)
	if err != nil {
		return nil, err
	}
	if err := sd.AddSigner(cert, signer, pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}

	for _, c := range chain {
		if c.Equal(cert) {
			continue
		}
		sd.AddCertificate(c)
	}
	sd.Detach()

	out, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signature: %w", err)
	}
	logger.Debug("CAdES signing complete", "signature_len", len(out), "chain_len", len(chain))
	return out, nil
}

func signedAttributes(cert *x509.Certificate, policy *Policy) ([]pkcs7.Attribute, error) {
	certHash := sha256.Sum256(cert.Raw)
	signingCertV2Bytes, err := asn1.Marshal(SigningCertificateV2{
		Certs: []ESSCertIDv2{{
			HashAlgorithm: NewAlgorithmIdentifierSHA256(),
			CertHash:      certHash[:],
			IssuerSerial:  newIssuerSerial(cert),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signingCertificateV2: %w", err)
	}
	attrs := []pkcs7.Attribute{{
		Type:  OidSigningCertificateV2,
		Value: asn1.RawValue{FullBytes: signingCertV2Bytes},
	}}

	if policy == nil || policy.OID == "" {
		return attrs, nil
	}
	policyOID, err := parseOID(policy.OID)
	if err != nil {
		return nil, err
	}
	if len(policy.Hash) != sha256.Size {
		return nil, fmt.Errorf("policy hash must be %d bytes, got %d", sha256.Size, len(policy.Hash))
	}
	sigPolicyID := SignaturePolicyIdentifier{
		SigPolicyID: policyOID,
		SigPolicyHash: SigPolicyHash{
			HashAlgorithm: NewAlgorithmIdentifierSHA256(),
			HashValue:     policy.Hash,
		},
	}
	if policy.URI != "" {
		sigPolicyID.SigPolicyQualifiers = []SigPolicyQualifier{{
			SigPolicyQualifierID: OidSignaturePolicyQualifierCPS,
			Qualifier:            asn1.RawValue{Tag: asn1.TagIA5String, Bytes: []byte(policy.URI)},
		}}
	}
	sigPolicyBytes, err := asn1.Marshal(sigPolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signature policy: %w", err)
	}
	return append(attrs, pkcs7.Attribute{
		Type:  OidSignaturePolicyIdentifier,
		Value: asn1.RawValue{FullBytes: sigPolicyBytes},
	}), nil
}
