package pkcs12store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed layout: salt (16) | nonce (12) | AES-256-GCM ciphertext and tag.
const (
	vaultSaltSize   = 16
	vaultNonceSize  = 12
	vaultKeySize    = 32
	vaultIterations = 4096
)

// ErrVaultLocked means the vault password is wrong or the sealed data was
// altered or moved to another entry.
var ErrVaultLocked = errors.New("vault data cannot be opened")

// EncryptData seals data under a key derived from password. aad is
// authenticated but not stored; the vault passes the entry ID so sealed
// files cannot be swapped between entries.
func EncryptData(data, password, aad []byte) ([]byte, error) {
	out := make([]byte, vaultSaltSize+vaultNonceSize, vaultSaltSize+vaultNonceSize+len(data)+16)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	gcm, err := vaultAEAD(password, out[:vaultSaltSize])
	if err != nil {
		return nil, err
	}
	return gcm.Seal(out, out[vaultSaltSize:], data, aad), nil
}

// DecryptData reverses EncryptData. Authentication failures are ErrVaultLocked.
func DecryptData(sealed, password, aad []byte) ([]byte, error) {
	const header = vaultSaltSize + vaultNonceSize
	if len(sealed) < header {
		return nil, fmt.Errorf("%w: data too short", ErrVaultLocked)
	}
	gcm, err := vaultAEAD(password, sealed[:vaultSaltSize])
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed[vaultSaltSize:header], sealed[header:], aad)
	if err != nil {
		return nil, ErrVaultLocked
	}
	return plain, nil
}

func vaultAEAD(password, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(password, salt, vaultIterations, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, vaultNonceSize)
}
