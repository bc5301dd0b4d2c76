// Package codes derives the security codes printed on fiscal receipts from a
// SHA-256/RSA signature of the receipt's core fields.
package codes

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05-07:00"

var (
	reTaxID    = regexp.MustCompile(`^CZ[0-9]{8,10}$`)
	rePremises = regexp.MustCompile(`^[1-9][0-9]{0,5}$`)
	reRegister = regexp.MustCompile(`^[0-9a-zA-Z\.,:;/#\-_ ]{1,20}$`)
	reSequence = regexp.MustCompile(`^[0-9a-zA-Z\.,:;/#\-_ ]{1,25}$`)

	ErrInvalidReceipt = errors.New("invalid receipt")
)

// Signer produces SHA-256 RSASSA-PKCS1-v1.5 signatures over text.
type Signer interface {
	Sign(text string) ([]byte, error)
}

// Receipt holds the fields covered by the signature code.
type Receipt struct {
	TaxID      string
	PremisesID string
	RegisterID string
	SequenceNo string
	Time       time.Time
	Total      Amount
}

// Codes are the signature code (PKP) and its short form (BKP).
type Codes struct {
	PKP string
	BKP string
}

func (r Receipt) Validate() error {
	switch {
	case !reTaxID.MatchString(r.TaxID):
		return fmt.Errorf("%w: tax id %q", ErrInvalidReceipt, r.TaxID)
	case !rePremises.MatchString(r.PremisesID):
		return fmt.Errorf("%w: premises id %q", ErrInvalidReceipt, r.PremisesID)
	case !reRegister.MatchString(r.RegisterID):
		return fmt.Errorf("%w: register id %q", ErrInvalidReceipt, r.RegisterID)
	case !reSequence.MatchString(r.SequenceNo):
		return fmt.Errorf("%w: sequence number %q", ErrInvalidReceipt, r.SequenceNo)
	case r.Time.IsZero():
		return fmt.Errorf("%w: missing time", ErrInvalidReceipt)
	}
	return nil
}

// Plaintext is the pipe separated string that gets signed.
func (r Receipt) Plaintext() string {
	return strings.Join([]string{
		r.TaxID,
		r.PremisesID,
		r.RegisterID,
		r.SequenceNo,
		r.Time.Truncate(time.Second).Format(timestampLayout),
		r.Total.String(),
	}, "|")
}

// PKP encodes a signature as base64.
func PKP(signature []byte) string {
	return base64.StdEncoding.EncodeToString(signature)
}

// BKP is the uppercase hex SHA-1 of the signature in five dash separated
// groups of eight characters.
func BKP(signature []byte) string {
	sum := sha1.Sum(signature)
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	groups := make([]string, 0, 5)
	for i := 0; i < len(h); i += 8 {
		groups = append(groups, h[i:i+8])
	}
	return strings.Join(groups, "-")
}

// Compute validates r, signs its plaintext and derives both codes.
func Compute(s Signer, r Receipt) (Codes, error) {
	if err := r.Validate(); err != nil {
		return Codes{}, err
	}
	sig, err := s.Sign(r.Plaintext())
	if err != nil {
		return Codes{}, err
	}
	return Codes{PKP: PKP(sig), BKP: BKP(sig)}, nil
}
