package pkcs12store

import (
	"context"
	"errors"
	"io"
	"time"
)

// VaultEntry describes a bundle stored in a Vault. The bundle itself stays
// encrypted on disk; its password is never stored.
type VaultEntry struct {
	ID             string    `json:"id"`
	FriendlyName   string    `json:"friendlyName"`
	Alias          string    `json:"alias"`
	SerialNumber   string    `json:"serialNumber"`
	Issuer         string    `json:"issuer"`
	Subject        string    `json:"subject"`
	NotAfter       time.Time `json:"notAfter"`
	FingerprintHex string    `json:"fingerprintHex"`
	ImportedAt     time.Time `json:"importedAt"`
}

type Store interface {
	List(ctx context.Context) ([]VaultEntry, error)
	Import(ctx context.Context, name string, r io.Reader, password []byte) (*VaultEntry, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	Exists(fingerprint [32]byte) bool
}

var (
	ErrNotFound  = errors.New("vault entry not found")
	ErrDuplicate = errors.New("bundle already stored")
)
