package sofa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

// ParseVersion coerces an Apple product version ("15", "18.2",
// "16.7.10") into a semver value for comparison. Missing components
// are zero-filled; an RSR suffix such as "(a)" is stripped first.
func ParseVersion(s string) (*semver.Version, error) {
	s = StripRSRSuffix(strings.TrimSpace(s))
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", s, err)
	}
	return v, nil
}

// CompareVersions orders Apple version strings. Unparseable versions
// sort before parseable ones; two unparseable versions fall back to
// string comparison.
func CompareVersions(a, b string) int {
	va, ea := ParseVersion(a)
	vb, eb := ParseVersion(b)
	switch {
	case ea != nil && eb != nil:
		return strings.Compare(a, b)
	case ea != nil:
		return -1
	case eb != nil:
		return 1
	}
	return va.Compare(vb)
}

// MajorVersion returns the leading numeric component of an Apple
// version string, or -1 when none parses.
func MajorVersion(s string) int {
	s = StripRSRSuffix(strings.TrimSpace(s))
	head, _, _ := strings.Cut(s, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return n
}

// StripRSRSuffix removes a Rapid Security Response suffix, e.g.
// "16.5.1 (a)" or "16.5.1(a)" becomes "16.5.1".
func StripRSRSuffix(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// HasRSRSuffix reports whether the version carries a Rapid Security
// Response letter suffix.
func HasRSRSuffix(s string) bool {
	s = strings.TrimSpace(s)
	n := len(s)
	return n >= 3 && s[n-1] == ')' && s[n-3] == '(' &&
		s[n-2] >= 'a' && s[n-2] <= 'z'
}
