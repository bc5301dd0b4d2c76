package version

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Compare orders two release versions such as "v1.2.3". Build metadata is
// ignored; a pre-release sorts before its release. ok is false when either
// side does not parse.
func Compare(a, b string) (cmp int, ok bool) {
	va, err := goversion.NewVersion(strings.TrimSpace(a))
	if err != nil {
		return 0, false
	}
	vb, err := goversion.NewVersion(strings.TrimSpace(b))
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}

// IsOutdated reports whether current is strictly older than latest. Versions
// that do not parse, such as "dev", are never outdated.
func IsOutdated(current, latest string) bool {
	cmp, ok := Compare(current, latest)
	return ok && cmp < 0
}
