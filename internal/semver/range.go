package semver

import (
	"strconv"
	"strings"

	"github.com/npmcore/npmcore/internal/npmerr"
)

// Op is a comparator primitive.
type Op string

const (
	OpEQ Op = "="
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
)

// Comparator is one primitive constraint, e.g. ">=1.2.3".
type Comparator struct {
	Op      Op
	Version Version
}

func (c Comparator) satisfies(v Version) bool {
	cmp := Compare(v, c.Version)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	}
	return false
}

func (c Comparator) String() string {
	return string(c.Op) + c.Version.String()
}

// conjunction is an AND'd list of comparators (one "simple range").
type conjunction []Comparator

func (cj conjunction) satisfies(v Version, includePrerelease bool) bool {
	if !includePrerelease && v.IsPrerelease() {
		if !cj.allowsPrereleaseOf(v) {
			return false
		}
	}
	for _, c := range cj {
		if !c.satisfies(v) {
			return false
		}
	}
	return true
}

// allowsPrereleaseOf implements npm's includePrerelease=false default:
// a prerelease version only satisfies a comparator set that contains at
// least one comparator whose own version shares the same
// MAJOR.MINOR.PATCH triple.
func (cj conjunction) allowsPrereleaseOf(v Version) bool {
	for _, c := range cj {
		if c.Version.SameTriple(v) {
			return true
		}
	}
	return false
}

// Range is a disjunction ("OR") of conjunctions ("AND") of comparators,
// i.e. npm's full range grammar: "1.x || >=2.0.0 <3.0.0".
type Range struct {
	clauses []conjunction
	raw     string
}

func (r Range) String() string { return r.raw }

// ParseRange parses an npm-style range expression.
func ParseRange(s string) (Range, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, npmerr.New(npmerr.EParse, "empty range expression")
	}

	var clauses []conjunction
	for _, orPart := range splitTopLevelOr(s) {
		orPart = strings.TrimSpace(orPart)
		if orPart == "" {
			return Range{}, npmerr.New(npmerr.EParse, "malformed range %q: empty clause", orig)
		}
		cj, err := parseConjunction(orPart)
		if err != nil {
			return Range{}, npmerr.New(npmerr.EParse, "malformed range %q: %v", orig, err)
		}
		clauses = append(clauses, cj)
	}
	return Range{clauses: clauses, raw: orig}, nil
}

func splitTopLevelOr(s string) []string {
	return strings.Split(s, "||")
}

// parseConjunction parses one AND'd clause, which may be:
//   - a hyphen range: "A - B"
//   - whitespace-separated comparators/sugar forms: "^1.2.3 <2.0.0"
func parseConjunction(s string) (conjunction, error) {
	s = strings.TrimSpace(s)
	if hy, ok := splitHyphen(s); ok {
		lowStr, highStr := hy[0], hy[1]
		low, err := parsePartialAsLowerBound(lowStr)
		if err != nil {
			return nil, err
		}
		high, err := parsePartialAsUpperBoundInclusiveHyphen(highStr)
		if err != nil {
			return nil, err
		}
		return append(conjunction{}, append(low, high...)...), nil
	}

	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return nil, npmerr.New(npmerr.EParse, "empty clause")
	}
	var cj conjunction
	for _, tok := range tokens {
		comps, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		cj = append(cj, comps...)
	}
	return cj, nil
}

// splitHyphen finds a top-level " - " hyphen-range separator.
func splitHyphen(s string) ([2]string, bool) {
	idx := strings.Index(s, " - ")
	if idx < 0 {
		return [2]string{}, false
	}
	return [2]string{s[:idx], s[idx+3:]}, true
}

func parseToken(tok string) ([]Comparator, error) {
	switch {
	case tok == "*" || tok == "x" || tok == "X":
		return nil, nil // matches anything stable; no comparator needed
	case strings.HasPrefix(tok, "^"):
		return expandCaret(tok[1:])
	case strings.HasPrefix(tok, "~"):
		return expandTilde(tok[1:])
	case strings.HasPrefix(tok, ">="):
		v, err := parsePartialExact(tok[2:])
		if err != nil {
			return nil, err
		}
		return []Comparator{{OpGE, v}}, nil
	case strings.HasPrefix(tok, "<="):
		v, err := parsePartialExact(tok[2:])
		if err != nil {
			return nil, err
		}
		return []Comparator{{OpLE, v}}, nil
	case strings.HasPrefix(tok, ">"):
		v, err := parsePartialExact(tok[1:])
		if err != nil {
			return nil, err
		}
		return []Comparator{{OpGT, v}}, nil
	case strings.HasPrefix(tok, "<"):
		v, err := parsePartialExact(tok[1:])
		if err != nil {
			return nil, err
		}
		return []Comparator{{OpLT, v}}, nil
	case strings.HasPrefix(tok, "="):
		return expandPartial(tok[1:])
	default:
		return expandPartial(tok)
	}
}

// partial parses an X-Ranges style partial version: "1", "1.2", "1.2.3",
// with "x"/"X"/"*" wildcards in any trailing position.
type partial struct {
	major, minor, patch *int
	prerelease          []string
}

func parsePartial(s string) (partial, error) {
	core := s
	var prerelease []string
	if i := strings.IndexByte(s, '-'); i >= 0 {
		core = s[:i]
		prerelease = strings.Split(s[i+1:], ".")
	}
	if i := strings.IndexByte(core, '+'); i >= 0 {
		core = core[:i]
	}
	fields := strings.Split(core, ".")
	if len(fields) == 0 || len(fields) > 3 {
		return partial{}, npmerr.New(npmerr.EParse, "malformed partial version %q", s)
	}
	var p partial
	ptrs := []**int{&p.major, &p.minor, &p.patch}
	for i, f := range fields {
		if f == "x" || f == "X" || f == "*" {
			break
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return partial{}, npmerr.New(npmerr.EParse, "malformed partial version %q: %v", s, err)
		}
		*ptrs[i] = &n
	}
	p.prerelease = prerelease
	return p, nil
}

func parsePartialExact(s string) (Version, error) {
	p, err := parsePartial(s)
	if err != nil {
		return Version{}, err
	}
	return p.fillZero(), nil
}

func (p partial) fillZero() Version {
	v := Version{Prerelease: p.prerelease}
	if p.major != nil {
		v.Major = *p.major
	}
	if p.minor != nil {
		v.Minor = *p.minor
	}
	if p.patch != nil {
		v.Patch = *p.patch
	}
	return v
}

// expandPartial handles bare wildcard/exact tokens: "*", "1", "1.2",
// "1.2.3", each desugared per spec §3.
func expandPartial(s string) ([]Comparator, error) {
	p, err := parsePartial(s)
	if err != nil {
		return nil, err
	}
	if p.major == nil {
		return nil, nil // "*" / "x"
	}
	if p.minor == nil {
		low := Version{Major: *p.major}
		high := Version{Major: *p.major + 1}
		return []Comparator{{OpGE, low}, {OpLT, high}}, nil
	}
	if p.patch == nil {
		low := Version{Major: *p.major, Minor: *p.minor}
		high := Version{Major: *p.major, Minor: *p.minor + 1}
		return []Comparator{{OpGE, low}, {OpLT, high}}, nil
	}
	exact := Version{Major: *p.major, Minor: *p.minor, Patch: *p.patch, Prerelease: p.prerelease}
	return []Comparator{{OpEQ, exact}}, nil
}

// expandCaret desugars "^x.y.z" per spec §3.
func expandCaret(s string) ([]Comparator, error) {
	p, err := parsePartial(s)
	if err != nil {
		return nil, err
	}
	major := valOr(p.major, 0)
	minor := valOr(p.minor, 0)
	patch := valOr(p.patch, 0)
	low := Version{Major: major, Minor: minor, Patch: patch, Prerelease: p.prerelease}

	var high Version
	switch {
	case p.major != nil && major > 0:
		high = Version{Major: major + 1}
	case p.minor != nil && minor > 0:
		high = Version{Major: major, Minor: minor + 1}
	case p.patch != nil:
		high = Version{Major: major, Minor: minor, Patch: patch + 1}
	case p.minor != nil: // ^0.0 (patch wildcard)
		high = Version{Major: major, Minor: minor + 1}
	default: // ^0 / ^x (major-only wildcard forms)
		high = Version{Major: major + 1}
	}
	return []Comparator{{OpGE, low}, {OpLT, high}}, nil
}

// expandTilde desugars "~x.y.z" per spec §3.
func expandTilde(s string) ([]Comparator, error) {
	p, err := parsePartial(s)
	if err != nil {
		return nil, err
	}
	major := valOr(p.major, 0)
	minor := valOr(p.minor, 0)
	patch := valOr(p.patch, 0)
	low := Version{Major: major, Minor: minor, Patch: patch, Prerelease: p.prerelease}

	var high Version
	if p.minor != nil {
		high = Version{Major: major, Minor: minor + 1}
	} else {
		high = Version{Major: major + 1}
	}
	return []Comparator{{OpGE, low}, {OpLT, high}}, nil
}

func valOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// parsePartialAsLowerBound parses the left side of a hyphen range: "A - B"
// lower-bounds inclusively at A's partial-filled-to-zero version.
func parsePartialAsLowerBound(s string) ([]Comparator, error) {
	v, err := parsePartialExact(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return []Comparator{{OpGE, v}}, nil
}

// parsePartialAsUpperBoundInclusiveHyphen parses the right side of a
// hyphen range. A partial upper bound ("1.2" in "A - 1.2") is exclusive of
// the next minor/major; a full version is inclusive.
func parsePartialAsUpperBoundInclusiveHyphen(s string) ([]Comparator, error) {
	p, err := parsePartial(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if p.major == nil {
		return nil, nil
	}
	if p.minor == nil {
		return []Comparator{{OpLT, Version{Major: *p.major + 1}}}, nil
	}
	if p.patch == nil {
		return []Comparator{{OpLT, Version{Major: *p.major, Minor: *p.minor + 1}}}, nil
	}
	return []Comparator{{OpLE, p.fillZero()}}, nil
}

// Satisfies reports whether v satisfies r under npm's default
// includePrerelease=false semantics.
func (r Range) Satisfies(v Version) bool {
	for _, cj := range r.clauses {
		if cj.satisfies(v, false) {
			return true
		}
	}
	return false
}

// Satisfies is the free-function spelling used by call sites that only
// have strings on hand; it parses both operands.
func Satisfies(v, rangeStr string) (bool, error) {
	pv, err := Parse(v)
	if err != nil {
		return false, err
	}
	pr, err := ParseRange(rangeStr)
	if err != nil {
		return false, err
	}
	return pr.Satisfies(pv), nil
}

// MaxSatisfying returns the highest version in vs that satisfies r,
// preferring stable releases over prereleases even when the range itself
// is permissive (e.g. "*"), matching npm's behavior.
func MaxSatisfying(vs []Version, r Range) (Version, bool) {
	var best Version
	var bestStable Version
	foundAny, foundStable := false, false
	for _, v := range vs {
		if !r.Satisfies(v) {
			continue
		}
		if !foundAny || Less(best, v) {
			best = v
			foundAny = true
		}
		if !v.IsPrerelease() {
			if !foundStable || Less(bestStable, v) {
				bestStable = v
				foundStable = true
			}
		}
	}
	if foundStable {
		return bestStable, true
	}
	return best, foundAny
}

// MinSatisfying returns the lowest version in vs that satisfies r.
func MinSatisfying(vs []Version, r Range) (Version, bool) {
	var best Version
	found := false
	for _, v := range vs {
		if !r.Satisfies(v) {
			continue
		}
		if !found || Less(v, best) {
			best = v
			found = true
		}
	}
	return best, found
}

// IsExactVersion reports whether s parses as a single concrete version
// rather than a range expression (used by the resolver to fast-path a
// pinned dependency without scanning the published version list).
func IsExactVersion(s string) (Version, bool) {
	v, err := Parse(s)
	if err != nil {
		return Version{}, false
	}
	return v, true
}
