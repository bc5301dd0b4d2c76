package clientkey

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	dsig "github.com/russellhaering/goxmldsig"
)

// Crypto wraps a keystore for an XML signature engine: certificate chains
// and public keys by alias, and the keystore itself as the private key
// source. It performs no canonicalization or signature embedding.
type Crypto struct {
	keystore Keystore
}

func (c *Crypto) Aliases() []string {
	return c.keystore.Aliases()
}

func (c *Crypto) CertificateChain(alias string) ([]*x509.Certificate, error) {
	return c.keystore.CertificateChain(alias)
}

// PublicKey returns the leaf certificate's public key for alias.
func (c *Crypto) PublicKey(alias string) (crypto.PublicKey, error) {
	chain, err := c.keystore.CertificateChain(alias)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrNoCertificate
	}
	return chain[0].PublicKey, nil
}

// PrivateKey unlocks the key for alias with password.
func (c *Crypto) PrivateKey(alias, password string) (crypto.Signer, error) {
	return c.keystore.PrivateKey(alias, []byte(password))
}

// Keystore returns the underlying key source.
func (c *Crypto) Keystore() Keystore {
	return c.keystore
}

// KeyStore binds alias to the goxmldsig key store interfaces. The password is
// fetched from creds on every GetKeyPair call.
func (c *Crypto) KeyStore(alias string, creds CredentialProvider) *X509KeyStore {
	return &X509KeyStore{crypto: c, alias: alias, creds: creds}
}

// X509KeyStore implements dsig.X509KeyStore and dsig.X509ChainStore.
type X509KeyStore struct {
	crypto *Crypto
	alias  string
	creds  CredentialProvider
}

var (
	_ dsig.X509KeyStore   = (*X509KeyStore)(nil)
	_ dsig.X509ChainStore = (*X509KeyStore)(nil)
)

// GetKeyPair returns the RSA key and DER leaf certificate. Errors are
// *DataSigningError.
func (s *X509KeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	password, err := s.creds.Password(s.alias)
	if err != nil {
		return nil, nil, &DataSigningError{Op: "xml key pair", Err: err}
	}
	signer, err := s.crypto.PrivateKey(s.alias, password)
	if err != nil {
		return nil, nil, &DataSigningError{Op: "xml key pair", Err: err}
	}
	key, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, &DataSigningError{Op: "xml key pair", Err: fmt.Errorf("%w: got %T", ErrUnsupportedKey, signer)}
	}
	chain, err := s.crypto.CertificateChain(s.alias)
	if err != nil {
		return nil, nil, &DataSigningError{Op: "xml key pair", Err: err}
	}
	if len(chain) == 0 {
		return nil, nil, &DataSigningError{Op: "xml key pair", Err: ErrNoCertificate}
	}
	return key, chain[0].Raw, nil
}

// GetChain returns the DER chain, leaf first, for the KeyInfo element.
func (s *X509KeyStore) GetChain() ([][]byte, error) {
	chain, err := s.crypto.CertificateChain(s.alias)
	if err != nil {
		return nil, &DataSigningError{Op: "xml chain", Err: err}
	}
	out := make([][]byte, len(chain))
	for i, c := range chain {
		out[i] = c.Raw
	}
	return out, nil
}
