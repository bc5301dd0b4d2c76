package pkcs12store

import (
	"errors"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	ErrPasswordRequired = errors.New("bundle password required")
	ErrWrongPassword    = errors.New("bundle password incorrect")
	ErrInvalidFile      = errors.New("invalid PKCS#12 bundle")
	ErrUnsupported      = errors.New("unsupported bundle content")
	ErrNoIdentity       = errors.New("bundle contains no private key entry")
	ErrAliasNotFound    = errors.New("alias not found in bundle")
)

func userImportError(err error) error {
	switch {
	case errors.Is(err, ErrPasswordRequired):
		return ErrPasswordRequired
	case errors.Is(err, ErrWrongPassword):
		return ErrWrongPassword
	case errors.Is(err, ErrDuplicate):
		return ErrDuplicate
	case errors.Is(err, ErrNoIdentity):
		return ErrNoIdentity
	case errors.Is(err, ErrInvalidFile):
		return ErrInvalidFile
	case errors.Is(err, ErrUnsupported):
		return ErrUnsupported
	default:
		return err
	}
}

// IsImportError reports whether err carries one of the bundle sentinels
// FriendlyError has a message for.
func IsImportError(err error) bool {
	if err == nil {
		return false
	}
	return userImportError(err) != err || isSentinel(err)
}

func isSentinel(err error) bool {
	switch err {
	case ErrPasswordRequired, ErrWrongPassword, ErrDuplicate, ErrNoIdentity, ErrInvalidFile, ErrUnsupported:
		return true
	}
	return false
}

// FriendlyError returns a user-facing message for bundle load and import failures.
func FriendlyError(err error) string {
	switch userImportError(err) {
	case ErrPasswordRequired:
		return "This bundle requires a password. Provide the bundle password and try again."
	case ErrWrongPassword:
		return "The bundle password is incorrect."
	case ErrDuplicate:
		return "This bundle is already stored in the vault."
	case ErrNoIdentity:
		return "The bundle does not contain a private key."
	case ErrInvalidFile:
		return "The file is not a valid .p12/.pfx bundle or is corrupted."
	case ErrUnsupported:
		return "The bundle uses an unsupported format or key type."
	default:
		return "Loading the bundle failed. Please verify the file and password."
	}
}

func isIncorrectPasswordError(err error) bool {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "decryption password incorrect") ||
		strings.Contains(msg, "incorrect padding")
}

func isLikelyInvalidFileError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not der") ||
		strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "trailing data") ||
		strings.Contains(msg, "structure error") ||
		strings.Contains(msg, "error reading p12 data")
}

// classifyPasswordError maps a decode failure seen after a successful load
// (i.e. on key re-derivation) onto the import sentinels.
func classifyPasswordError(err error, password []byte) error {
	if isIncorrectPasswordError(err) {
		if strings.TrimSpace(string(password)) == "" {
			return ErrPasswordRequired
		}
		return ErrWrongPassword
	}
	return err
}
