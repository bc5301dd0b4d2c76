// Package discover locates PKCS#12 bundles in the usual places users keep
// exported client certificates.
package discover

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vocdoni/gofirma/p12sign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/p12sign/internal/crypto/pkcs12store"
)

// Options bounds a scan. Zero values select the defaults.
type Options struct {
	// Roots replaces the platform search roots when non-empty.
	Roots    []string
	MaxDepth int
	Limit    int
	MaxSize  int64
	MaxAge   time.Duration
}

const (
	defaultMaxDepth = 4
	defaultLimit    = 50
	defaultMaxSize  = 5 << 20
	defaultMaxAge   = 10 * 365 * 24 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.MaxSize <= 0 {
		o.MaxSize = defaultMaxSize
	}
	if o.MaxAge <= 0 {
		o.MaxAge = defaultMaxAge
	}
	if len(o.Roots) == 0 {
		home, _ := os.UserHomeDir()
		o.Roots = DefaultRoots(home)
	}
	return o
}

// Candidate is a file that looks like a PKCS#12 bundle.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Find walks the search roots for .p12 and .pfx files. Empty, oversized and
// stale files are skipped. It stops early when ctx is done or the limit is
// reached and returns what it found so far.
func Find(ctx context.Context, opts Options) []Candidate {
	opts = opts.withDefaults()
	cutoff := time.Now().Add(-opts.MaxAge)
	seen := make(map[string]struct{})
	var out []Candidate

	errStop := errors.New("stop")
	for _, root := range opts.Roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		rootDepth := pathDepth(root)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return errStop
			}
			if d.IsDir() {
				depth := pathDepth(path) - rootDepth
				if depth > opts.MaxDepth || skipDir(d.Name(), depth) {
					return filepath.SkipDir
				}
				return nil
			}
			if !IsBundleName(d.Name()) {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() == 0 || info.Size() > opts.MaxSize || info.ModTime().Before(cutoff) {
				return nil
			}
			seen[path] = struct{}{}
			out = append(out, Candidate{Path: path, Size: info.Size(), ModTime: info.ModTime()})
			if len(out) >= opts.Limit {
				return errStop
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
	}
	return out
}

// Probe opens a candidate with password and describes its first identity.
func Probe(path string, password []byte) (certs.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return certs.Info{}, err
	}
	bundle, err := pkcs12store.Load(f, password)
	if err != nil {
		return certs.Info{}, err
	}
	aliases := bundle.Aliases()
	if len(aliases) == 0 {
		return certs.Info{}, pkcs12store.ErrNoIdentity
	}
	chain, err := bundle.CertificateChain(aliases[0])
	if err != nil {
		return certs.Info{}, err
	}
	return certs.Describe(aliases[0], chain[0])
}

// IsBundleName reports whether name has a PKCS#12 file extension.
func IsBundleName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

// DefaultRoots lists the directories searched for bundles, most likely first.
func DefaultRoots(home string) []string {
	roots := []string{
		filepath.Join(home, "Desktop"),
		filepath.Join(home, "Downloads"),
		filepath.Join(home, "Documents"),
		filepath.Join(home, ".pki"),
		filepath.Join(home, ".ssl"),
		filepath.Join(home, ".certs"),
		filepath.Join(home, "certs"),
		filepath.Join(home, "certificates"),
	}
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("USERPROFILE"); v != "" && v != home {
			roots = append(roots, filepath.Join(v, "Documents"))
		}
	case "darwin":
		roots = append(roots, filepath.Join(home, "Library", "Application Support"))
	default:
		if v := os.Getenv("XDG_DOCUMENTS_DIR"); v != "" {
			roots = append(roots, v)
		}
		roots = append(roots, filepath.Join(home, ".config"), "/etc/ssl/private", "/etc/pki/tls/private")
	}
	return roots
}

var skipped = map[string]bool{
	"node_modules": true,
	".git":         true,
	".cache":       true,
	"cache":        true,
	"Cache":        true,
	"logs":         true,
	"tmp":          true,
	".Trash":       true,
	"Trash":        true,
	"fonts":        true,
	"icons":        true,
	"locale":       true,
}

// skipDir prunes directories that never hold certificates. Hidden directories
// below the first level are kept only when their name hints at key material.
func skipDir(name string, depth int) bool {
	if skipped[name] {
		return true
	}
	if depth > 1 && strings.HasPrefix(name, ".") {
		lower := strings.ToLower(name)
		for _, hint := range []string{"cert", "pki", "ssl", "key", "crypto"} {
			if strings.Contains(lower, hint) {
				return false
			}
		}
		return true
	}
	return false
}

func pathDepth(p string) int {
	p = filepath.Clean(p)
	if p == "." || p == string(filepath.Separator) {
		return 0
	}
	return strings.Count(p, string(filepath.Separator))
}
