// Package testutil generates certificates and PKCS#12 bundles for tests.
package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Identity is a private key with the certificate issued for it.
type Identity struct {
	Key    crypto.Signer
	Cert   *x509.Certificate
	Issuer *Identity
}

// RSAKey returns the identity key as an RSA key, failing the test otherwise.
func (id *Identity) RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, ok := id.Key.(*rsa.PrivateKey)
	require.True(t, ok, "identity key is %T", id.Key)
	return key
}

// NewCA creates a self-signed RSA certificate authority.
func NewCA(t testing.TB, cn string) *Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := template(cn)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return sign(t, tmpl, key, nil)
}

// NewRSAIdentity creates a self-signed RSA identity, or one issued by ca when
// ca is non-nil.
func NewRSAIdentity(t testing.TB, cn string, ca *Identity) *Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return sign(t, leafTemplate(cn), key, ca)
}

// NewECIdentity creates a self-signed P-256 identity.
func NewECIdentity(t testing.TB, cn string) *Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return sign(t, leafTemplate(cn), key, nil)
}

// Chain returns the identity's CA certificates, nearest issuer first.
func (id *Identity) Chain() []*x509.Certificate {
	var out []*x509.Certificate
	for cur := id.Issuer; cur != nil; cur = cur.Issuer {
		out = append(out, cur.Cert)
	}
	return out
}

// Bundle encodes the identity as a PKCS#12 file with 3DES and a SHA-1 MAC.
func (id *Identity) Bundle(t testing.TB, password string) []byte {
	t.Helper()
	pfx, err := pkcs12.LegacyDES.Encode(id.Key, id.Cert, id.Chain(), password)
	require.NoError(t, err)
	return pfx
}

// ModernBundle encodes the identity with AES-256 and a SHA-256 MAC.
func (id *Identity) ModernBundle(t testing.TB, password string) []byte {
	t.Helper()
	pfx, err := pkcs12.Modern2023.Encode(id.Key, id.Cert, id.Chain(), password)
	require.NoError(t, err)
	return pfx
}

var serials atomic.Int64

func template(cn string) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(1000 + serials.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"p12sign tests"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
}

func leafTemplate(cn string) *x509.Certificate {
	tmpl := template(cn)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	return tmpl
}

func sign(t testing.TB, tmpl *x509.Certificate, key crypto.Signer, ca *Identity) *Identity {
	t.Helper()
	parent, parentKey := tmpl, key
	if ca != nil {
		parent, parentKey = ca.Cert, ca.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, key.Public(), parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Identity{Key: key, Cert: cert, Issuer: ca}
}
