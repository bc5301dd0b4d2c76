package clientkey_test

import (
	"crypto"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
	"github.com/vocdoni/gofirma/p12sign/internal/testutil"
	"github.com/vocdoni/gofirma/p12sign/pkg/clientkey"
)

// fakeKeystore serves a fixed identity and counts key unlocks.
type fakeKeystore struct {
	aliases  []string
	chain    []*x509.Certificate
	chainErr error
	key      crypto.Signer
	keyErr   error
	password string
	unlocks  int
}

func (f *fakeKeystore) Aliases() []string { return f.aliases }

func (f *fakeKeystore) CertificateChain(alias string) ([]*x509.Certificate, error) {
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return f.chain, nil
}

func (f *fakeKeystore) PrivateKey(alias string, password []byte) (crypto.Signer, error) {
	f.unlocks++
	if f.keyErr != nil {
		return nil, f.keyErr
	}
	if string(password) != f.password {
		return nil, pkcs12store.ErrWrongPassword
	}
	return f.key, nil
}

var (
	_ clientkey.Keystore   = (*fakeKeystore)(nil)
	_ pkcs12store.Keystore = (*fakeKeystore)(nil)
)

func newFake(t *testing.T) *fakeKeystore {
	t.Helper()
	id := testutil.NewRSAIdentity(t, "fake", nil)
	return &fakeKeystore{
		aliases:  []string{"fake"},
		chain:    []*x509.Certificate{id.Cert},
		key:      id.Key,
		password: "pw",
	}
}

func TestPrivateKeyIsNotCached(t *testing.T) {
	ks := newFake(t)
	key, err := clientkey.NewFromKeystore(ks, "pw")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := key.Sign("text")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, ks.unlocks)
}

func TestKeystoreSharesBundleInterface(t *testing.T) {
	var ks clientkey.Keystore = newFake(t)
	var store pkcs12store.Keystore = ks
	assert.Equal(t, []string{"fake"}, store.Aliases())

	key, err := clientkey.NewFromKeystore(store, "pw")
	require.NoError(t, err)
	assert.Same(t, store, key.CryptoAdapter().Keystore())
}

func TestSignReportsKeyFailures(t *testing.T) {
	ks := newFake(t)
	key, err := clientkey.NewFromKeystore(ks, "not-pw")
	require.NoError(t, err, "construction does not unlock the key")

	_, err = key.Sign("text")
	var dse *clientkey.DataSigningError
	require.ErrorAs(t, err, &dse)
	assert.ErrorIs(t, err, pkcs12store.ErrWrongPassword)

	ks.keyErr = errors.New("key unrecoverable")
	key, err = clientkey.NewFromKeystore(ks, "pw")
	require.NoError(t, err)
	_, err = key.Sign("text")
	assert.ErrorIs(t, err, clientkey.ErrDataSigning)
	assert.ErrorIs(t, err, ks.keyErr)
}

func TestNewFromKeystoreFailures(t *testing.T) {
	noAliases := newFake(t)
	noAliases.aliases = nil
	_, err := clientkey.NewFromKeystore(noAliases, "pw")
	assert.ErrorIs(t, err, clientkey.ErrInvalidKeystore)
	assert.ErrorIs(t, err, pkcs12store.ErrNoIdentity)

	chainErr := newFake(t)
	chainErr.chainErr = errors.New("store corrupted")
	_, err = clientkey.NewFromKeystore(chainErr, "pw")
	var ike *clientkey.InvalidKeystoreError
	require.ErrorAs(t, err, &ike)
	assert.Equal(t, "certificate", ike.Op)
	assert.ErrorIs(t, err, chainErr.chainErr)

	noChain := newFake(t)
	noChain.chain = nil
	_, err = clientkey.NewFromKeystore(noChain, "pw")
	assert.ErrorIs(t, err, clientkey.ErrNoCertificate)

	_, err = clientkey.NewFromKeystore(nil, "pw")
	assert.ErrorIs(t, err, clientkey.ErrInvalidKeystore)
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "clientkey: load: invalid keystore: boom", (&clientkey.InvalidKeystoreError{Op: "load", Err: cause}).Error())
	assert.Equal(t, "clientkey: sign: data signing failed: boom", (&clientkey.DataSigningError{Op: "sign", Err: cause}).Error())
	assert.Equal(t, "clientkey: sign: data signing failed", (&clientkey.DataSigningError{Op: "sign"}).Error())
}
