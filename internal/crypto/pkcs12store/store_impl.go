package pkcs12store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/certs"
)

const (
	metaExt   = ".json"
	bundleExt = ".p12.enc"
)

// FileVault keeps imported bundles under dir, encrypted with a vault password.
type FileVault struct {
	mu      sync.Mutex
	dir     string
	vaultPW []byte
	now     func() time.Time
}

var _ Store = (*FileVault)(nil)

func NewFileVault(dir string, vaultPW []byte) (*FileVault, error) {
	if len(vaultPW) == 0 {
		return nil, errors.New("vault password required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault dir: %w", err)
	}
	return &FileVault{
		dir:     dir,
		vaultPW: append([]byte(nil), vaultPW...),
		now:     time.Now,
	}, nil
}

func (s *FileVault) List(ctx context.Context) ([]VaultEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *FileVault) list() ([]VaultEntry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault dir: %w", err)
	}

	var entries []VaultEntry
	for _, de := range dirEntries {
		if filepath.Ext(de.Name()) != metaExt {
			continue
		}
		metaBytes, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			continue
		}
		var meta VaultEntry
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			continue
		}
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ImportedAt.Before(entries[j].ImportedAt)
	})
	return entries, nil
}

// Import validates the bundle with password, then stores its original bytes
// encrypted with the vault password.
func (s *FileVault) Import(ctx context.Context, name string, r io.Reader, password []byte) (*VaultEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	bundle, err := Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	aliases := bundle.Aliases()
	if len(aliases) == 0 {
		return nil, fmt.Errorf("import failed: %w", ErrNoIdentity)
	}
	chain, err := bundle.CertificateChain(aliases[0])
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	info, err := certs.Describe(aliases[0], chain[0])
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(info.Fingerprint) {
		return nil, fmt.Errorf("%w", ErrDuplicate)
	}

	id := uuid.New().String()
	encrypted, err := EncryptData(data, s.vaultPW, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt bundle: %w", err)
	}
	bundlePath := filepath.Join(s.dir, id+bundleExt)
	if err := os.WriteFile(bundlePath, encrypted, 0600); err != nil {
		return nil, fmt.Errorf("failed to save encrypted bundle: %w", err)
	}

	meta := VaultEntry{
		ID:             id,
		FriendlyName:   name,
		Alias:          info.Alias,
		SerialNumber:   info.SerialNumber.String(),
		Issuer:         info.Issuer,
		Subject:        info.Subject,
		NotAfter:       info.NotAfter,
		FingerprintHex: info.FingerprintHex(),
		ImportedAt:     s.now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		os.Remove(bundlePath)
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, id+metaExt), metaBytes, 0600); err != nil {
		os.Remove(bundlePath)
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}
	return &meta, nil
}

// Open decrypts a stored bundle. The caller still needs the bundle password
// to load it.
func (s *FileVault) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := os.ReadFile(filepath.Join(s.dir, id+bundleExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read encrypted bundle: %w", err)
	}
	data, err := DecryptData(encrypted, s.vaultPW, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *FileVault) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	metaPath := filepath.Join(s.dir, id+metaExt)
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(filepath.Join(s.dir, id+bundleExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove bundle: %w", err)
	}
	return os.Remove(metaPath)
}

func (s *FileVault) Exists(fingerprint [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(fingerprint)
}

func (s *FileVault) exists(fingerprint [32]byte) bool {
	entries, err := s.list()
	if err != nil {
		return false
	}
	fpHex := fmt.Sprintf("%x", fingerprint)
	for _, e := range entries {
		if e.FingerprintHex == fpHex {
			return true
		}
	}
	return false
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}
