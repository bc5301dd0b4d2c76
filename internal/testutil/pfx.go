package testutil

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
)

var (
	oidDataContentType     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidPKCS8ShroudedKeyBag = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 2}
	oidCertBag             = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 10, 1, 3}
	oidCertTypeX509        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 22, 1}
	oidFriendlyName        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 20}
	oidLocalKeyID          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 21}
	contextZero            = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true}
	universalSet           = asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true}
)

type pfxPDU struct {
	Version  int
	AuthSafe contentInfo
	MacData  asn1.RawValue `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"tag:0,explicit,optional"`
}

// SafeBag is one PKCS#12 bag as it appears inside a SafeContents.
type SafeBag struct {
	ID         asn1.ObjectIdentifier
	Value      asn1.RawValue  `asn1:"tag:0,explicit"`
	Attributes []bagAttribute `asn1:"set,optional"`
}

type bagAttribute struct {
	ID    asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

type certBagValue struct {
	ID   asn1.ObjectIdentifier
	Data []byte `asn1:"tag:0,explicit"`
}

// IsKey reports whether the bag holds an encrypted private key.
func (b SafeBag) IsKey() bool {
	return b.ID.Equal(oidPKCS8ShroudedKeyBag)
}

// WithFriendlyName returns pfx with friendlyName attributes set on its
// private key bags, in bag order. The MAC is recomputed for password.
func WithFriendlyName(t testing.TB, pfx []byte, password string, names ...string) []byte {
	t.Helper()
	i := 0
	return RewriteBags(t, pfx, password, func(bags []SafeBag) []SafeBag {
		for j := range bags {
			if !bags[j].IsKey() || i >= len(names) {
				continue
			}
			bags[j].Attributes = append(bags[j].Attributes, friendlyName(t, names[i]))
			i++
		}
		return bags
	})
}

// WithoutKeys drops every private key bag, leaving only certificates.
func WithoutKeys(t testing.TB, pfx []byte, password string) []byte {
	t.Helper()
	return RewriteBags(t, pfx, password, func(bags []SafeBag) []SafeBag {
		kept := bags[:0]
		for _, b := range bags {
			if !b.IsKey() {
				kept = append(kept, b)
			}
		}
		return kept
	})
}

// Merge appends the key of second (encoded with the same password) and a
// plain certificate bag for it to first, producing a two-identity bundle
// where first's key comes first.
func Merge(t testing.TB, first []byte, second *Identity, password string) []byte {
	t.Helper()
	var extra []SafeBag
	RewriteBags(t, second.Bundle(t, password), password, func(bags []SafeBag) []SafeBag {
		for _, b := range bags {
			if b.IsKey() {
				extra = append(extra, b)
			}
		}
		return bags
	})
	require.Len(t, extra, 1)

	keyID := sha1.Sum(second.Cert.Raw)
	extra = append(extra, certificateBag(t, second.Cert, keyID[:]))
	return RewriteBags(t, first, password, func(bags []SafeBag) []SafeBag {
		return append(bags, extra...)
	})
}

// RewriteBags decodes the unencrypted SafeContents of pfx, lets fn edit the
// bags, and re-encodes the bundle with a MAC valid for password.
func RewriteBags(t testing.TB, pfx []byte, password string, fn func([]SafeBag) []SafeBag) []byte {
	t.Helper()
	var pdu pfxPDU
	_, err := asn1.Unmarshal(pfx, &pdu)
	require.NoError(t, err)

	var authSafeDER []byte
	_, err = asn1.Unmarshal(pdu.AuthSafe.Content.Bytes, &authSafeDER)
	require.NoError(t, err)
	var safes []contentInfo
	_, err = asn1.Unmarshal(authSafeDER, &safes)
	require.NoError(t, err)

	for i, ci := range safes {
		if !ci.ContentType.Equal(oidDataContentType) {
			continue
		}
		var contentsDER []byte
		_, err := asn1.Unmarshal(ci.Content.Bytes, &contentsDER)
		require.NoError(t, err)
		var bags []SafeBag
		_, err = asn1.Unmarshal(contentsDER, &bags)
		require.NoError(t, err)

		contentsDER, err = asn1.Marshal(fn(bags))
		require.NoError(t, err)
		safes[i].Content = wrapOctets(t, contentsDER)
	}

	authSafeDER, err = asn1.Marshal(safes)
	require.NoError(t, err)
	pdu.AuthSafe.Content = wrapOctets(t, authSafeDER)

	der, err := asn1.Marshal(pdu)
	require.NoError(t, err)
	der, err = pkcs12store.RecomputeMAC(der, password)
	require.NoError(t, err)
	return der
}

// wrapOctets builds the [0] EXPLICIT OCTET STRING content of a ContentInfo.
func wrapOctets(t testing.TB, der []byte) asn1.RawValue {
	t.Helper()
	octets, err := asn1.Marshal(der)
	require.NoError(t, err)
	v := contextZero
	v.Bytes = octets
	return v
}

func friendlyName(t testing.TB, name string) bagAttribute {
	t.Helper()
	var bmp []byte
	for _, r := range name {
		require.LessOrEqual(t, r, rune(0xFFFF))
		bmp = append(bmp, byte(r>>8), byte(r))
	}
	inner, err := asn1.Marshal(asn1.RawValue{Tag: asn1.TagBMPString, Bytes: bmp})
	require.NoError(t, err)
	set := universalSet
	set.Bytes = inner
	return bagAttribute{ID: oidFriendlyName, Value: set}
}

func certificateBag(t testing.TB, cert *x509.Certificate, localKeyID []byte) SafeBag {
	t.Helper()
	val, err := asn1.Marshal(certBagValue{ID: oidCertTypeX509, Data: cert.Raw})
	require.NoError(t, err)
	wrapped := contextZero
	wrapped.Bytes = val

	id, err := asn1.Marshal(localKeyID)
	require.NoError(t, err)
	set := universalSet
	set.Bytes = id
	return SafeBag{
		ID:         oidCertBag,
		Value:      wrapped,
		Attributes: []bagAttribute{{ID: oidLocalKeyID, Value: set}},
	}
}
