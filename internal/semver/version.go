// Package semver implements the version-range algebra used by the
// resolver: parsing semantic versions and npm-style range expressions,
// satisfaction checks, and maximum-satisfying selection.
package semver

import (
	"sort"
	"strconv"
	"strings"

	"github.com/npmcore/npmcore/internal/npmerr"
)

// Version is an immutable parsed MAJOR.MINOR.PATCH triple with optional
// dotted prerelease identifiers. The build metadata suffix is retained for
// String() but never affects comparison, per semver.
type Version struct {
	Major, Minor, Patch int
	Prerelease          []string
	Build               string
	raw                 string
}

// Parse parses a version string, tolerating a leading "v".
func Parse(s string) (Version, error) {
	orig := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return Version{}, npmerr.New(npmerr.EParse, "empty version string")
	}

	build := ""
	if i := strings.IndexByte(s, '+'); i >= 0 {
		build = s[i+1:]
		s = s[:i]
	}

	core := s
	var prerelease []string
	if i := strings.IndexByte(s, '-'); i >= 0 {
		core = s[:i]
		prereleaseStr := s[i+1:]
		if prereleaseStr == "" {
			return Version{}, npmerr.New(npmerr.EParse, "malformed version %q: empty prerelease", orig)
		}
		prerelease = strings.Split(prereleaseStr, ".")
		for _, id := range prerelease {
			if id == "" {
				return Version{}, npmerr.New(npmerr.EParse, "malformed version %q: empty prerelease identifier", orig)
			}
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, npmerr.New(npmerr.EParse, "malformed version %q: expected MAJOR.MINOR.PATCH", orig)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if !isNumericField(p) {
			return Version{}, npmerr.New(npmerr.EParse, "malformed version %q: non-numeric field %q", orig, p)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, npmerr.New(npmerr.EParse, "malformed version %q: %v", orig, err)
		}
		nums[i] = n
	}

	return Version{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Prerelease: prerelease,
		Build:      build,
	}, nil
}

// MustParse panics on parse failure; intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func isNumericField(s string) bool {
	if s == "" {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false // leading zeros are not valid numeric fields
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsPrerelease reports whether v carries prerelease identifiers.
func (v Version) IsPrerelease() bool { return len(v.Prerelease) > 0 }

// String renders the version back, including build metadata if present.
func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Minor))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Patch))
	if len(v.Prerelease) > 0 {
		b.WriteByte('-')
		b.WriteString(strings.Join(v.Prerelease, "."))
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// SameTriple reports whether a and b share MAJOR.MINOR.PATCH.
func (a Version) SameTriple(b Version) bool {
	return a.Major == b.Major && a.Minor == b.Minor && a.Patch == b.Patch
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	if a.Major != b.Major {
		return cmpInt(a.Major, b.Major)
	}
	if a.Minor != b.Minor {
		return cmpInt(a.Minor, b.Minor)
	}
	if a.Patch != b.Patch {
		return cmpInt(a.Patch, b.Patch)
	}
	return comparePrerelease(a.Prerelease, b.Prerelease)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePrerelease implements semver precedence rule 11: a version
// without a prerelease has higher precedence than one with, and
// prerelease identifiers compare left-to-right, numeric < alphanumeric,
// numeric identifiers compared numerically, alphanumeric lexicographically.
func comparePrerelease(a, b []string) int {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	if len(b) == 0 {
		return -1
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := comparePrereleaseID(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func comparePrereleaseID(a, b string) int {
	an, aNum := asNumericID(a)
	bn, bNum := asNumericID(b)
	switch {
	case aNum && bNum:
		return cmpInt(an, bn)
	case aNum && !bNum:
		return -1
	case !aNum && bNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func asNumericID(s string) (int, bool) {
	if !isDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Less reports whether a sorts before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Sort orders versions ascending in place.
func Sort(vs []Version) {
	sort.Slice(vs, func(i, j int) bool { return Less(vs[i], vs[j]) })
}
