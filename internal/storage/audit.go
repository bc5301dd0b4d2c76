package storage

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vocdoni/gofirma/p12sign/internal/canon"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var ErrChainBroken = errors.New("audit log hash chain broken")

// AuditEntry records one signing operation. The signed text itself is never
// stored, only its SHA-256 digest.
type AuditEntry struct {
	Timestamp       string `json:"timestamp"`
	Operation       string `json:"operation"`
	Alias           string `json:"alias"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	CertFingerprint string `json:"certFingerprint,omitempty"`
	InputDigest     string `json:"inputDigest"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	PrevHash        string `json:"prevHash,omitempty"`
}

// AuditLogger appends entries as canonical JSON lines. Every entry carries
// the hash of the previous line so edits to the file can be detected.
type AuditLogger struct {
	mu       sync.Mutex
	filePath string
	lastHash string
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuditLogger(dir string, logger *slog.Logger) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &AuditLogger{
		filePath: filepath.Join(dir, "audit.jsonl"),
		logger:   logger,
		now:      time.Now,
	}
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n := len(entries); n > 0 {
		if l.lastHash, err = entryHash(entries[n-1]); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *AuditLogger) Log(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = l.now().UTC().Format(time.RFC3339)
	entry.PrevHash = l.lastHash
	l.logger.Debug("audit entry", "operation", entry.Operation, "alias", entry.Alias, "status", entry.Status)

	data, err := canon.Encode(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if l.lastHash, err = entryHash(entry); err != nil {
		return err
	}
	return nil
}

func (l *AuditLogger) ReadAll() ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

// Verify checks the hash chain across the whole file.
func (l *AuditLogger) Verify() error {
	entries, err := l.ReadAll()
	if err != nil {
		return err
	}
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w at entry %d", ErrChainBroken, i)
		}
		if prev, err = entryHash(e); err != nil {
			return err
		}
	}
	return nil
}

func (l *AuditLogger) readAll() ([]AuditEntry, error) {
	f, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	entries := []AuditEntry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("audit file line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}
	return entries, nil
}

func entryHash(e AuditEntry) (string, error) {
	sum, err := canon.Digest(e)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}
