// Package clientkey loads a password-protected PKCS#12 bundle and exposes its
// first private key entry as a signing identity.
//
// A ClientKey signs text with SHA-256 and RSASSA-PKCS1-v1.5, answers password
// queries for its alias and hands key material to an XML signature engine.
// The private key is decoded from the bundle on every use and never cached.
package clientkey

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/cades"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
)

// Keystore is the key source behind a ClientKey. *pkcs12store.Bundle is the
// PKCS#12 implementation.
type Keystore = pkcs12store.Keystore

type options struct {
	logger *slog.Logger
}

// Option configures a ClientKey.
type Option func(*options)

// WithLogger sets the logger used for certificate details and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// ClientKey is a signing identity backed by one alias of a keystore. It is
// safe for concurrent use.
type ClientKey struct {
	mu       sync.Mutex
	keystore Keystore
	alias    string
	password []byte
	chain    []*x509.Certificate
	closed   bool
	logger   *slog.Logger
}

// New reads a PKCS#12 bundle from r and selects its first private key entry.
// r is consumed and, when it implements io.Closer, closed on every path.
// Failures are returned as *InvalidKeystoreError.
func New(r io.Reader, password string, opts ...Option) (*ClientKey, error) {
	bundle, err := pkcs12store.Load(r, []byte(password))
	if err != nil {
		return nil, &InvalidKeystoreError{Op: "load", Err: err}
	}
	return NewFromKeystore(bundle, password, opts...)
}

// Open is New for a bundle stored in a file.
func Open(path string, password string, opts ...Option) (*ClientKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InvalidKeystoreError{Op: "open", Err: err}
	}
	return New(f, password, opts...)
}

// NewFromKeystore builds a ClientKey over an already opened keystore.
func NewFromKeystore(ks Keystore, password string, opts ...Option) (*ClientKey, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	if ks == nil {
		return nil, &InvalidKeystoreError{Op: "load", Err: errors.New("nil keystore")}
	}

	alias, err := resolveAlias(ks, o.logger)
	if err != nil {
		return nil, err
	}
	chain, err := ks.CertificateChain(alias)
	if err != nil {
		return nil, &InvalidKeystoreError{Op: "certificate", Err: err}
	}
	if len(chain) == 0 {
		return nil, &InvalidKeystoreError{Op: "certificate", Err: ErrNoCertificate}
	}
	info, err := certs.Describe(alias, chain[0])
	if err != nil {
		return nil, &InvalidKeystoreError{Op: "certificate", Err: err}
	}
	o.logger.Info("client certificate loaded", "certificate", info)

	return &ClientKey{
		keystore: ks,
		alias:    alias,
		password: []byte(password),
		chain:    chain,
		logger:   o.logger,
	}, nil
}

// resolveAlias picks the first alias in native order. Additional identities
// are ignored; multi-identity bundles are not selectable.
func resolveAlias(ks Keystore, logger *slog.Logger) (string, error) {
	aliases := ks.Aliases()
	if len(aliases) == 0 {
		return "", &InvalidKeystoreError{Op: "resolve alias", Err: pkcs12store.ErrNoIdentity}
	}
	if len(aliases) > 1 {
		logger.Warn("keystore holds more than one identity, using the first",
			"alias", aliases[0], "ignored", len(aliases)-1)
	}
	return aliases[0], nil
}

// Alias returns the alias of the selected identity.
func (k *ClientKey) Alias() string {
	return k.alias
}

// Certificate returns the leaf certificate of the identity.
func (k *ClientKey) Certificate() *x509.Certificate {
	return k.chain[0]
}

// Chain returns a copy of the certificate chain, leaf first.
func (k *ClientKey) Chain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), k.chain...)
}

// Sign returns the SHA-256 RSASSA-PKCS1-v1.5 signature of the UTF-8 bytes of
// text. Errors are *DataSigningError.
func (k *ClientKey) Sign(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, &DataSigningError{Op: "sign", Err: ErrInvalidText}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := k.rsaKey()
	if err != nil {
		return nil, &DataSigningError{Op: "sign", Err: err}
	}
	digest := sha256.Sum256([]byte(text))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, &DataSigningError{Op: "sign", Err: err}
	}
	return sig, nil
}

// Verify checks signature over text against the identity's certificate.
func (k *ClientKey) Verify(text string, signature []byte) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	pub, ok := k.chain[0].PublicKey.(*rsa.PublicKey)
	if !ok {
		return ErrUnsupportedKey
	}
	digest := sha256.Sum256([]byte(text))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return nil
}

// SignCMS returns a detached CAdES-BES signature over content, carrying the
// identity's chain.
func (k *ClientKey) SignCMS(ctx context.Context, content []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := k.rsaKey()
	if err != nil {
		return nil, &DataSigningError{Op: "sign cms", Err: err}
	}
	sig, err := cades.SignDetached(ctx, key, k.chain[0], k.chain, content, cades.SignOpts{Logger: k.logger})
	if err != nil {
		return nil, &DataSigningError{Op: "sign cms", Err: err}
	}
	return sig, nil
}

// CredentialProvider returns the password callback bound to this identity.
func (k *ClientKey) CredentialProvider() *PasswordCallback {
	return &PasswordCallback{key: k}
}

// CryptoAdapter exposes the keystore to an external XML signature engine.
func (k *ClientKey) CryptoAdapter() *Crypto {
	return &Crypto{keystore: k.keystore}
}

// XMLKeyStore binds the identity's alias and credentials to the key store
// interfaces of github.com/russellhaering/goxmldsig.
func (k *ClientKey) XMLKeyStore() *X509KeyStore {
	return k.CryptoAdapter().KeyStore(k.alias, k.CredentialProvider())
}

// Close zeroes the stored password. Every later operation fails with
// ErrClosed.
func (k *ClientKey) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.password)
	k.password = nil
	k.closed = true
	return nil
}

// rsaKey decodes the private key again; callers hold k.mu.
func (k *ClientKey) rsaKey() (*rsa.PrivateKey, error) {
	if k.closed {
		return nil, ErrClosed
	}
	signer, err := k.keystore.PrivateKey(k.alias, k.password)
	if err != nil {
		return nil, err
	}
	key, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, signer)
	}
	return key, nil
}

func (k *ClientKey) passwordFor(alias string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return "", ErrClosed
	}
	if alias != k.alias {
		return "", fmt.Errorf("%w: %q", ErrAliasMismatch, alias)
	}
	return string(k.password), nil
}
