package codes_test

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/p12sign/internal/codes"
	"github.com/vocdoni/gofirma/p12sign/internal/testutil"
	"github.com/vocdoni/gofirma/p12sign/pkg/clientkey"
)

func sampleReceipt() codes.Receipt {
	return codes.Receipt{
		TaxID:      "CZ00000019",
		PremisesID: "273",
		RegisterID: "/5546/RO24",
		SequenceNo: "0/6460/ZQ42",
		Time:       time.Date(2016, 8, 5, 0, 30, 12, 0, time.FixedZone("CEST", 2*60*60)),
		Total:      3411300,
	}
}

func TestPlaintext(t *testing.T) {
	assert.Equal(t,
		"CZ00000019|273|/5546/RO24|0/6460/ZQ42|2016-08-05T00:30:12+02:00|34113.00",
		sampleReceipt().Plaintext())

	r := sampleReceipt()
	r.Time = time.Date(2024, 1, 1, 0, 0, 0, 900, time.UTC)
	r.Total = -1250
	assert.True(t, strings.HasSuffix(r.Plaintext(), "|2024-01-01T00:00:00+00:00|-12.50"))
}

func TestBKPFormat(t *testing.T) {
	sig := []byte("signature bytes")
	sum := sha1.Sum(sig)
	h := strings.ToUpper(hex.EncodeToString(sum[:]))

	bkp := codes.BKP(sig)
	assert.Equal(t, h[0:8]+"-"+h[8:16]+"-"+h[16:24]+"-"+h[24:32]+"-"+h[32:40], bkp)
	assert.Len(t, bkp, 44)
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleReceipt().Validate())

	mutations := map[string]func(*codes.Receipt){
		"tax id":   func(r *codes.Receipt) { r.TaxID = "SK00000019" },
		"premises": func(r *codes.Receipt) { r.PremisesID = "0" },
		"register": func(r *codes.Receipt) { r.RegisterID = "" },
		"sequence": func(r *codes.Receipt) { r.SequenceNo = strings.Repeat("1", 26) },
		"time":     func(r *codes.Receipt) { r.Time = time.Time{} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := sampleReceipt()
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), codes.ErrInvalidReceipt)
		})
	}
}

func TestComputeWithClientKey(t *testing.T) {
	leaf := testutil.NewRSAIdentity(t, "CZ00000019", nil)
	pfx := testutil.WithFriendlyName(t, leaf.Bundle(t, "eet"), "eet", "eet")
	key, err := clientkey.New(bytes.NewReader(pfx), "eet")
	require.NoError(t, err)
	defer key.Close()

	r := sampleReceipt()
	got, err := codes.Compute(key, r)
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(got.PKP)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(r.Plaintext()))
	require.NoError(t, rsa.VerifyPKCS1v15(leaf.Cert.PublicKey.(*rsa.PublicKey), crypto.SHA256, digest[:], sig))
	assert.Equal(t, codes.BKP(sig), got.BKP)

	again, err := codes.Compute(key, r)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

type failingSigner struct{ err error }

func (f failingSigner) Sign(string) ([]byte, error) { return nil, f.err }

func TestComputeFailures(t *testing.T) {
	boom := errors.New("boom")
	_, err := codes.Compute(failingSigner{err: boom}, sampleReceipt())
	assert.ErrorIs(t, err, boom)

	bad := sampleReceipt()
	bad.TaxID = ""
	_, err = codes.Compute(failingSigner{err: boom}, bad)
	assert.ErrorIs(t, err, codes.ErrInvalidReceipt)
}
