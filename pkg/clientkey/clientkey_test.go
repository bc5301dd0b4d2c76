package clientkey_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/smallstep/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
	"github.com/vocdoni/gofirma/p12sign/internal/testutil"
	"github.com/vocdoni/gofirma/p12sign/pkg/clientkey"
)

const (
	testAlias    = "client-1"
	testPassword = "secret"
)

func newBundle(t *testing.T) (*testutil.Identity, []byte) {
	t.Helper()
	ca := testutil.NewCA(t, "EET CA")
	leaf := testutil.NewRSAIdentity(t, "CZ1234567890", ca)
	pfx := testutil.WithFriendlyName(t, leaf.Bundle(t, testPassword), testPassword, testAlias)
	return leaf, pfx
}

func newClientKey(t *testing.T, opts ...clientkey.Option) (*testutil.Identity, *clientkey.ClientKey) {
	t.Helper()
	leaf, pfx := newBundle(t)
	key, err := clientkey.New(bytes.NewReader(pfx), testPassword, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { key.Close() })
	return leaf, key
}

func verifyWithCert(t *testing.T, cert *x509.Certificate, text string, sig []byte) {
	t.Helper()
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	digest := sha256.Sum256([]byte(text))
	require.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig))
}

func TestClientKeyScenario(t *testing.T) {
	leaf, key := newClientKey(t)
	assert.Equal(t, testAlias, key.Alias())

	text := "2024-01-01T00:00:00|CZ1234567890"
	sig, err := key.Sign(text)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
	verifyWithCert(t, leaf.Cert, text, sig)
	require.NoError(t, key.Verify(text, sig))
}

func TestNewCertificateAndChain(t *testing.T) {
	leaf, key := newClientKey(t)
	assert.True(t, key.Certificate().Equal(leaf.Cert))

	chain := key.Chain()
	require.Len(t, chain, 2)
	assert.True(t, chain[1].Equal(leaf.Issuer.Cert))
	chain[0] = nil
	assert.NotNil(t, key.Chain()[0])
}

func TestNewRejectsInvalidKeystores(t *testing.T) {
	leaf, pfx := newBundle(t)
	certOnly := testutil.WithoutKeys(t, leaf.Bundle(t, testPassword), testPassword)

	tests := []struct {
		name     string
		input    []byte
		password string
		cause    error
	}{
		{name: "zero identities", input: certOnly, password: testPassword, cause: pkcs12store.ErrNoIdentity},
		{name: "wrong password", input: pfx, password: "wrong", cause: pkcs12store.ErrWrongPassword},
		{name: "empty password", input: pfx, password: "", cause: pkcs12store.ErrPasswordRequired},
		{name: "not a bundle", input: []byte("<xml/>"), password: testPassword, cause: pkcs12store.ErrInvalidFile},
		{name: "empty input", input: nil, password: testPassword, cause: pkcs12store.ErrInvalidFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := clientkey.New(bytes.NewReader(tt.input), tt.password)
			require.Error(t, err)
			assert.Nil(t, key)

			var ike *clientkey.InvalidKeystoreError
			require.ErrorAs(t, err, &ike)
			assert.ErrorIs(t, err, clientkey.ErrInvalidKeystore)
			assert.NotErrorIs(t, err, clientkey.ErrDataSigning)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestNewClosesInput(t *testing.T) {
	_, pfx := newBundle(t)

	good := &closeTracker{Reader: bytes.NewReader(pfx)}
	key, err := clientkey.New(good, testPassword)
	require.NoError(t, err)
	defer key.Close()
	assert.True(t, good.closed)

	bad := &closeTracker{Reader: bytes.NewReader(pfx)}
	_, err = clientkey.New(bad, "wrong")
	require.Error(t, err)
	assert.True(t, bad.closed)
}

func TestOpen(t *testing.T) {
	_, pfx := newBundle(t)
	path := filepath.Join(t.TempDir(), "client.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0600))

	key, err := clientkey.Open(path, testPassword)
	require.NoError(t, err)
	defer key.Close()
	assert.Equal(t, testAlias, key.Alias())

	_, err = clientkey.Open(filepath.Join(t.TempDir(), "missing.p12"), testPassword)
	assert.ErrorIs(t, err, clientkey.ErrInvalidKeystore)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSignVerifiesForArbitraryText(t *testing.T) {
	leaf, key := newClientKey(t)
	texts := []string{
		"",
		"a",
		"Příliš žluťoučký kůň úpěl ďábelské ódy",
		"line one\nline two\r\n\ttabbed",
		"日本語のテキスト",
		strings.Repeat("0123456789", 10000),
	}
	for _, text := range texts {
		sig, err := key.Sign(text)
		require.NoError(t, err)
		assert.Len(t, sig, leaf.RSAKey(t).Size())
		verifyWithCert(t, leaf.Cert, text, sig)
		assert.NoError(t, key.Verify(text, sig))
	}
}

func TestSignIsDeterministic(t *testing.T) {
	_, key := newClientKey(t)
	first, err := key.Sign("receipt")
	require.NoError(t, err)
	second, err := key.Sign("receipt")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSignDifferentiatesInputs(t *testing.T) {
	_, key := newClientKey(t)
	a, err := key.Sign("a")
	require.NoError(t, err)
	b, err := key.Sign("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.ErrorIs(t, key.Verify("b", a), clientkey.ErrSignatureMismatch)
}

func TestSignRejectsInvalidUTF8(t *testing.T) {
	_, key := newClientKey(t)
	_, err := key.Sign(string([]byte{0xff, 0xfe}))

	var dse *clientkey.DataSigningError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "sign", dse.Op)
	assert.ErrorIs(t, err, clientkey.ErrInvalidText)
	assert.ErrorIs(t, err, clientkey.ErrDataSigning)
	assert.NotErrorIs(t, err, clientkey.ErrInvalidKeystore)
}

func TestSignConcurrent(t *testing.T) {
	_, key := newClientKey(t)
	want, err := key.Sign("concurrent")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := key.Sign("concurrent")
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(want, got) {
				errs <- errors.New("signature differs")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSignRejectsNonRSAKeys(t *testing.T) {
	leaf := testutil.NewECIdentity(t, "ec client")
	pfx := testutil.WithFriendlyName(t, leaf.Bundle(t, testPassword), testPassword, "ec")

	key, err := clientkey.New(bytes.NewReader(pfx), testPassword)
	require.NoError(t, err)
	defer key.Close()

	_, err = key.Sign("text")
	assert.ErrorIs(t, err, clientkey.ErrDataSigning)
	assert.ErrorIs(t, err, clientkey.ErrUnsupportedKey)
	assert.ErrorIs(t, key.Verify("text", []byte{1}), clientkey.ErrUnsupportedKey)
}

func TestCredentialProvider(t *testing.T) {
	_, key := newClientKey(t)
	cb := key.CredentialProvider()

	pw, err := cb.Password(testAlias)
	require.NoError(t, err)
	assert.Equal(t, testPassword, pw)

	_, err = cb.Password("client-2")
	assert.ErrorIs(t, err, clientkey.ErrAliasMismatch)

	entry, err := cb.Entry()
	require.NoError(t, err)
	assert.Equal(t, clientkey.CredentialEntry{Alias: testAlias, Password: testPassword}, entry)
}

func TestClose(t *testing.T) {
	_, key := newClientKey(t)
	sig, err := key.Sign("before close")
	require.NoError(t, err)

	require.NoError(t, key.Close())
	require.NoError(t, key.Close())

	_, err = key.Sign("after close")
	assert.ErrorIs(t, err, clientkey.ErrDataSigning)
	assert.ErrorIs(t, err, clientkey.ErrClosed)

	_, err = key.SignCMS(context.Background(), []byte("after close"))
	assert.ErrorIs(t, err, clientkey.ErrClosed)

	assert.ErrorIs(t, key.Verify("before close", sig), clientkey.ErrClosed)

	_, err = key.CredentialProvider().Password(testAlias)
	assert.ErrorIs(t, err, clientkey.ErrClosed)
	_, err = key.CredentialProvider().Entry()
	assert.ErrorIs(t, err, clientkey.ErrClosed)
}

func TestSignCMS(t *testing.T) {
	leaf, key := newClientKey(t)
	content := []byte("<Trzba/>")

	sig, err := key.SignCMS(context.Background(), content)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(sig)
	require.NoError(t, err)
	p7.Content = content
	require.NoError(t, p7.Verify())
	assert.True(t, p7.GetOnlySigner().Equal(leaf.Cert))
}

func TestLogsCertificateAndExtraIdentities(t *testing.T) {
	first := testutil.NewRSAIdentity(t, "first", nil)
	second := testutil.NewRSAIdentity(t, "second", nil)
	pfx := testutil.Merge(t, first.Bundle(t, testPassword), second, testPassword)
	pfx = testutil.WithFriendlyName(t, pfx, testPassword, "first", "second")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	key, err := clientkey.New(bytes.NewReader(pfx), testPassword, clientkey.WithLogger(logger))
	require.NoError(t, err)
	defer key.Close()

	assert.Equal(t, "first", key.Alias())
	assert.True(t, key.Certificate().Equal(first.Cert))

	logs := buf.String()
	assert.Contains(t, logs, `"level":"WARN"`)
	assert.Contains(t, logs, `"ignored":1`)
	assert.Contains(t, logs, "client certificate loaded")
	assert.Contains(t, logs, `"serial":"`+first.Cert.SerialNumber.String()+`"`)
	assert.Contains(t, logs, `"alias":"first"`)
}
