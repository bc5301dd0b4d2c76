package clientkey

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeystore matches every *InvalidKeystoreError via errors.Is.
	ErrInvalidKeystore = errors.New("invalid keystore")
	// ErrDataSigning matches every *DataSigningError via errors.Is.
	ErrDataSigning = errors.New("data signing failed")

	ErrClosed            = errors.New("client key is closed")
	ErrAliasMismatch     = errors.New("alias does not match the loaded identity")
	ErrInvalidText       = errors.New("text is not valid UTF-8")
	ErrUnsupportedKey    = errors.New("private key is not an RSA key")
	ErrNoCertificate     = errors.New("identity has no certificate")
	ErrSignatureMismatch = errors.New("signature does not verify")
)

// InvalidKeystoreError reports that a bundle could not be turned into a
// signing identity.
type InvalidKeystoreError struct {
	Op  string
	Err error
}

func (e *InvalidKeystoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("clientkey: %s: %v", e.Op, ErrInvalidKeystore)
	}
	return fmt.Sprintf("clientkey: %s: %v: %v", e.Op, ErrInvalidKeystore, e.Err)
}

func (e *InvalidKeystoreError) Unwrap() error { return e.Err }

func (e *InvalidKeystoreError) Is(target error) bool { return target == ErrInvalidKeystore }

// DataSigningError reports a signing operation that could not complete.
type DataSigningError struct {
	Op  string
	Err error
}

func (e *DataSigningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("clientkey: %s: %v", e.Op, ErrDataSigning)
	}
	return fmt.Sprintf("clientkey: %s: %v: %v", e.Op, ErrDataSigning, e.Err)
}

func (e *DataSigningError) Unwrap() error { return e.Err }

func (e *DataSigningError) Is(target error) bool { return target == ErrDataSigning }
