package pkcs12store

import (
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

type decodeAttempt struct {
	data []byte
	note string
}

type decodeFunc func(pfxData []byte, password string) ([]*pem.Block, error)

type attemptSource interface {
	Build(data []byte, password string) []decodeAttempt
}

// defaultAttemptSource builds a small, deterministic list of decode attempts:
// raw bytes first, then BER-normalized bytes, then BER-normalized with recomputed MAC.
// Every attempt uses the caller's password; a bundle that only opens with a
// different password must fail, since the same password later unlocks the key.
type defaultAttemptSource struct{}

func newDefaultAttemptSource() attemptSource {
	return defaultAttemptSource{}
}

func (defaultAttemptSource) Build(data []byte, password string) []decodeAttempt {
	var attempts []decodeAttempt
	seen := make(map[[32]byte]struct{})
	add := func(payload []byte, note string) {
		sum := sha256.Sum256(payload)
		if _, ok := seen[sum]; ok {
			return
		}
		seen[sum] = struct{}{}
		attempts = append(attempts, decodeAttempt{data: payload, note: note})
	}

	add(data, "raw")

	normalized, err := normalizeBER(data)
	if err != nil {
		return attempts
	}
	add(normalized, "ber-normalized")

	// BER normalization can invalidate MAC bytes, so retry with recomputed MAC.
	if rewritten, err := RecomputeMAC(normalized, password); err == nil {
		add(rewritten, "ber-normalized+mac")
	}

	return attempts
}

// decodeWithAttempts runs decode over attempts and returns the bytes of the
// first attempt that decodes together with its bags.
func decodeWithAttempts(decode decodeFunc, attempts []decodeAttempt, password string) ([]byte, []*pem.Block, error) {
	var lastErr error
	var hasIncorrectPassword bool
	var firstNonPasswordErr error
	for _, attempt := range attempts {
		blocks, err := decode(attempt.data, password)
		if err == nil {
			return attempt.data, blocks, nil
		}
		if isIncorrectPasswordError(err) {
			hasIncorrectPassword = true
		} else if firstNonPasswordErr == nil {
			firstNonPasswordErr = err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown parse error")
	}

	if hasIncorrectPassword {
		if strings.TrimSpace(password) == "" {
			return nil, nil, fmt.Errorf("%w", ErrPasswordRequired)
		}
		return nil, nil, fmt.Errorf("%w", ErrWrongPassword)
	}

	if firstNonPasswordErr != nil {
		if isLikelyInvalidFileError(firstNonPasswordErr) {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, firstNonPasswordErr)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, firstNonPasswordErr)
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, lastErr)
}
