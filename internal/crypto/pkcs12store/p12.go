package pkcs12store

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	pemCertificate = "CERTIFICATE"
	pemPrivateKey  = "PRIVATE KEY"

	headerFriendlyName = "friendlyName"
	headerLocalKeyID   = "localKeyId"
)

// Keystore is the narrow view of a loaded bundle used by signers. It exposes
// aliases, certificate chains, and private keys unlocked on demand.
type Keystore interface {
	// Aliases lists private key entries in the bundle's native order.
	Aliases() []string
	// CertificateChain returns the chain for alias, leaf first.
	CertificateChain(alias string) ([]*x509.Certificate, error)
	// PrivateKey decodes the key for alias with password. Implementations
	// must not cache the result.
	PrivateKey(alias string, password []byte) (crypto.Signer, error)
}

// Fingerprint returns the SHA-256 fingerprint for a certificate.
func Fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

type entry struct {
	alias    string
	keyIndex int
	chain    []*x509.Certificate
}

// Bundle is an opened PKCS#12 keystore. It keeps the DER bytes that decoded
// successfully plus certificate chains; private keys are decoded again on
// every PrivateKey call.
type Bundle struct {
	der     []byte
	entries []entry
}

var _ Keystore = (*Bundle)(nil)

// Load reads a password-protected PKCS#12 bundle from r. The reader is read to
// the end and, when it is an io.Closer, closed before Load returns. For legacy
// BER-encoded files it retries using BER-to-DER normalization.
func Load(r io.Reader, password []byte) (*Bundle, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no input", ErrInvalidFile)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return Decode(data, password)
}

// Decode opens an in-memory PKCS#12 bundle.
func Decode(data, password []byte) (*Bundle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidFile)
	}
	pass := string(password)
	attempts := newDefaultAttemptSource().Build(data, pass)
	der, blocks, err := decodeWithAttempts(pkcs12.ToPEM, attempts, pass)
	if err != nil {
		return nil, err
	}
	entries, err := buildEntries(blocks)
	if err != nil {
		return nil, err
	}
	return &Bundle{der: der, entries: entries}, nil
}

// Aliases returns the alias of every private key entry in bag order.
func (b *Bundle) Aliases() []string {
	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.alias
	}
	return out
}

// CertificateChain returns a copy of the chain stored for alias.
func (b *Bundle) CertificateChain(alias string) ([]*x509.Certificate, error) {
	e, err := b.lookup(alias)
	if err != nil {
		return nil, err
	}
	return append([]*x509.Certificate(nil), e.chain...), nil
}

// PrivateKey re-decodes the bundle with password and returns the key for alias.
func (b *Bundle) PrivateKey(alias string, password []byte) (crypto.Signer, error) {
	e, err := b.lookup(alias)
	if err != nil {
		return nil, err
	}
	blocks, err := pkcs12.ToPEM(b.der, string(password))
	if err != nil {
		return nil, fmt.Errorf("unlock %q: %w", alias, classifyPasswordError(err, password))
	}

	n := 0
	for _, block := range blocks {
		if block.Type != pemPrivateKey {
			continue
		}
		if n != e.keyIndex {
			n++
			continue
		}
		if got := aliasFor(block, n); got != alias {
			return nil, fmt.Errorf("%w: key bag %d is now %q", ErrAliasNotFound, n, got)
		}
		signer, err := parsePrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if !samePublicKey(signer.Public(), e.chain[0].PublicKey) {
			return nil, fmt.Errorf("%w: private key for %q does not match its certificate", ErrUnsupported, alias)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrAliasNotFound, alias)
}

func (b *Bundle) lookup(alias string) (*entry, error) {
	for i := range b.entries {
		if b.entries[i].alias == alias {
			return &b.entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAliasNotFound, alias)
}

type certBag struct {
	cert         *x509.Certificate
	localKeyID   string
	friendlyName string
}

func buildEntries(blocks []*pem.Block) ([]entry, error) {
	var certBags []certBag
	type keyBag struct {
		alias        string
		localKeyID   string
		friendlyName string
		public       crypto.PublicKey
	}
	var keyBags []keyBag

	for _, block := range blocks {
		switch block.Type {
		case pemCertificate:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: certificate bag: %v", ErrInvalidFile, err)
			}
			certBags = append(certBags, certBag{
				cert:         cert,
				localKeyID:   block.Headers[headerLocalKeyID],
				friendlyName: block.Headers[headerFriendlyName],
			})
		case pemPrivateKey:
			signer, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			keyBags = append(keyBags, keyBag{
				alias:        aliasFor(block, len(keyBags)),
				localKeyID:   block.Headers[headerLocalKeyID],
				friendlyName: block.Headers[headerFriendlyName],
				public:       signer.Public(),
			})
		}
	}

	entries := make([]entry, 0, len(keyBags))
	seen := make(map[string]struct{}, len(keyBags))
	for i, kb := range keyBags {
		if _, dup := seen[kb.alias]; dup {
			return nil, fmt.Errorf("%w: duplicate alias %q", ErrUnsupported, kb.alias)
		}
		seen[kb.alias] = struct{}{}

		leaf := matchLeaf(certBags, kb.localKeyID, kb.friendlyName, kb.public)
		if leaf == nil {
			return nil, fmt.Errorf("%w: no certificate for private key %q", ErrUnsupported, kb.alias)
		}
		entries = append(entries, entry{
			alias:    kb.alias,
			keyIndex: i,
			chain:    buildChain(leaf, certBags),
		})
	}
	return entries, nil
}

// aliasFor names a key bag: friendlyName, else the hex localKeyId, else its position.
func aliasFor(block *pem.Block, index int) string {
	if name := block.Headers[headerFriendlyName]; name != "" {
		return name
	}
	if id := block.Headers[headerLocalKeyID]; id != "" {
		return id
	}
	return fmt.Sprintf("key-%d", index+1)
}

func matchLeaf(bags []certBag, localKeyID, friendlyName string, public crypto.PublicKey) *x509.Certificate {
	if localKeyID != "" {
		for _, cb := range bags {
			if cb.localKeyID == localKeyID {
				return cb.cert
			}
		}
	}
	if friendlyName != "" {
		for _, cb := range bags {
			if cb.friendlyName == friendlyName {
				return cb.cert
			}
		}
	}
	for _, cb := range bags {
		if samePublicKey(public, cb.cert.PublicKey) {
			return cb.cert
		}
	}
	return nil
}

// buildChain orders the bundle's certificates from leaf towards the root by
// following issuer names. Certificates that are not on the path are dropped.
func buildChain(leaf *x509.Certificate, bags []certBag) []*x509.Certificate {
	chain := []*x509.Certificate{leaf}
	used := map[*x509.Certificate]bool{leaf: true}
	cur := leaf
	for len(chain) <= len(bags) {
		if bytes.Equal(cur.RawIssuer, cur.RawSubject) {
			break
		}
		var next *x509.Certificate
		for _, cb := range bags {
			if !used[cb.cert] && bytes.Equal(cb.cert.RawSubject, cur.RawIssuer) {
				next = cb.cert
				break
			}
		}
		if next == nil {
			break
		}
		used[next] = true
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// parsePrivateKey accepts the encodings go-pkcs12's ToPEM emits: PKCS#1 for
// RSA, SEC 1 for EC, with PKCS#8 as a fallback.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	var key any
	var err error
	if key, err = x509.ParsePKCS1PrivateKey(der); err != nil {
		if key, err = x509.ParseECPrivateKey(der); err != nil {
			if key, err = x509.ParsePKCS8PrivateKey(der); err != nil {
				return nil, fmt.Errorf("%w: private key: %v", ErrUnsupported, err)
			}
		}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: parsed private key does not support signing", ErrUnsupported)
	}
	return signer, nil
}

func samePublicKey(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}
