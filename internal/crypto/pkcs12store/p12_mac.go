package pkcs12store

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"hash"
	"unicode/utf16"
)

// This file recomputes PKCS#12 MACs after the AuthSafe bytes change.
//
// Normalizing BER changes byte-level AuthSafe encoding, invalidating the original MAC.
// To keep decode delegated to go-pkcs12 while still accepting legacy BER files, we
// recompute MAC using the RFC 7292 (PKCS#12) KDF + HMAC over SHA-1 or SHA-256.

var (
	oidMacSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidMacSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

type pfxPDU struct {
	Version  int
	AuthSafe contentInfo
	MacData  macData `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"tag:0,explicit,optional"`
}

type macData struct {
	Mac        digestInfo
	MacSalt    []byte
	Iterations int `asn1:"optional,default:1"`
}

type digestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

// RecomputeMAC rewrites the MAC of a DER encoded PFX so that it matches its
// current AuthSafe content under password. Salt, iteration count and digest
// algorithm are kept.
func RecomputeMAC(der []byte, password string) ([]byte, error) {
	var pfx pfxPDU
	if _, err := asn1.Unmarshal(der, &pfx); err != nil {
		return nil, err
	}
	if len(pfx.MacData.Mac.Algorithm.Algorithm) == 0 {
		return nil, errors.New("pkcs12 has no mac")
	}
	newHash, err := macHash(pfx.MacData.Mac.Algorithm.Algorithm)
	if err != nil {
		return nil, err
	}

	var authSafeBytes []byte
	if _, err := asn1.Unmarshal(pfx.AuthSafe.Content.Bytes, &authSafeBytes); err != nil {
		return nil, err
	}

	encodedPassword, err := bmpStringZeroTerminated(password)
	if err != nil {
		return nil, err
	}
	iters := pfx.MacData.Iterations
	if iters < 1 {
		iters = 1
	}
	pfx.MacData.Mac.Digest = computePKCS12MAC(newHash, authSafeBytes, pfx.MacData.MacSalt, encodedPassword, iters)
	return asn1.Marshal(pfx)
}

func macHash(oid asn1.ObjectIdentifier) (func() hash.Hash, error) {
	switch {
	case oid.Equal(oidMacSHA1):
		return sha1.New, nil
	case oid.Equal(oidMacSHA256):
		return sha256.New, nil
	default:
		return nil, errors.New("unsupported mac algorithm")
	}
}

func computePKCS12MAC(newHash func() hash.Hash, message, salt, password []byte, iterations int) []byte {
	size := newHash().Size()
	key := pkcs12KDF(newHash, salt, password, iterations, 3, size)
	mac := hmac.New(newHash, key)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

// pkcs12KDF is the RFC 7292 appendix B.2 key derivation. id 3 selects MAC keys.
func pkcs12KDF(newHash func() hash.Hash, salt, password []byte, iterations int, id byte, size int) []byte {
	u := newHash().Size()
	v := 64

	D := make([]byte, v)
	for i := range D {
		D[i] = id
	}

	fill := func(src []byte) []byte {
		if len(src) == 0 {
			return nil
		}
		out := make([]byte, v*((len(src)+v-1)/v))
		for i := range out {
			out[i] = src[i%len(src)]
		}
		return out
	}
	I := append(fill(salt), fill(password)...)

	result := make([]byte, size)
	for i := 0; i < (size+u-1)/u; i++ {
		h := newHash()
		_, _ = h.Write(D)
		_, _ = h.Write(I)
		Ai := h.Sum(nil)
		for j := 1; j < iterations; j++ {
			h = newHash()
			_, _ = h.Write(Ai)
			Ai = h.Sum(nil)
		}
		copy(result[i*u:], Ai)

		if i*u+u < size {
			B := make([]byte, v)
			for j := range B {
				B[j] = Ai[j%u]
			}
			for j := 0; j < len(I)/v; j++ {
				block := I[j*v : (j+1)*v]
				carry := uint16(1)
				for k := v - 1; k >= 0; k-- {
					sum := uint16(block[k]) + uint16(B[k]) + carry
					block[k] = byte(sum)
					carry = sum >> 8
				}
			}
		}
	}
	return result
}

func bmpStringZeroTerminated(s string) ([]byte, error) {
	out, err := bmpString(s)
	if err != nil {
		return nil, err
	}
	// PKCS#12 BMPString passwords are NUL-terminated.
	return append(out, 0x00, 0x00), nil
}

func bmpString(s string) ([]byte, error) {
	for _, r := range s {
		if r > 0xFFFF {
			return nil, errors.New("string contains unsupported unicode character")
		}
	}
	utf16Data := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(utf16Data)*2+2)
	for _, r := range utf16Data {
		out = append(out, byte(r>>8), byte(r))
	}
	return out, nil
}
