package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTolerantOfLeadingV(t *testing.T) {
	v, err := Parse("v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{"", "1.2", "1.2.x", "abc", "1.2.3-"} {
		_, err := Parse(s)
		assert.Errorf(t, err, "expected parse error for %q", s)
	}
}

func TestCompareOrdering(t *testing.T) {
	cases := []struct{ a, b string }{
		{"1.0.0", "2.0.0"},
		{"1.0.0", "1.1.0"},
		{"1.0.0", "1.0.1"},
		{"1.0.0-alpha", "1.0.0"},
		{"1.0.0-alpha", "1.0.0-alpha.1"},
		{"1.0.0-alpha.1", "1.0.0-alpha.beta"},
		{"1.0.0-alpha.beta", "1.0.0-beta"},
		{"1.0.0-beta", "1.0.0-beta.2"},
		{"1.0.0-beta.2", "1.0.0-beta.11"},
		{"1.0.0-beta.11", "1.0.0-rc.1"},
	}
	for _, c := range cases {
		a, b := MustParse(c.a), MustParse(c.b)
		assert.Truef(t, Less(a, b), "%s should be < %s", c.a, c.b)
		assert.Equal(t, 1, Compare(b, a))
		assert.Equal(t, 0, Compare(a, a))
	}
}

func TestCaretExpansion(t *testing.T) {
	cases := []struct {
		rng          string
		satisfied    []string
		notSatisfied []string
	}{
		{"^1.2.3", []string{"1.2.3", "1.9.0", "1.2.4"}, []string{"2.0.0", "1.2.2"}},
		{"^0.2.3", []string{"0.2.3", "0.2.9"}, []string{"0.3.0", "0.2.2"}},
		{"^0.0.3", []string{"0.0.3"}, []string{"0.0.4", "0.1.0"}},
	}
	for _, c := range cases {
		r, err := ParseRange(c.rng)
		require.NoError(t, err)
		for _, s := range c.satisfied {
			assert.Truef(t, r.Satisfies(MustParse(s)), "%s should satisfy %s", s, c.rng)
		}
		for _, s := range c.notSatisfied {
			assert.Falsef(t, r.Satisfies(MustParse(s)), "%s should not satisfy %s", s, c.rng)
		}
	}
}

func TestTildeExpansion(t *testing.T) {
	r, err := ParseRange("~1.2.3")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(MustParse("1.2.3")))
	assert.True(t, r.Satisfies(MustParse("1.2.9")))
	assert.False(t, r.Satisfies(MustParse("1.3.0")))
	assert.False(t, r.Satisfies(MustParse("1.2.2")))
}

func TestWildcards(t *testing.T) {
	r, err := ParseRange("1.x")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(MustParse("1.0.0")))
	assert.True(t, r.Satisfies(MustParse("1.9.9")))
	assert.False(t, r.Satisfies(MustParse("2.0.0")))

	rAny, err := ParseRange("*")
	require.NoError(t, err)
	assert.True(t, rAny.Satisfies(MustParse("4.5.6")))
	assert.False(t, rAny.Satisfies(MustParse("4.5.6-alpha")), "prereleases excluded from * by default")
}

func TestHyphenRange(t *testing.T) {
	r, err := ParseRange("1.2.3 - 2.3.4")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(MustParse("1.2.3")))
	assert.True(t, r.Satisfies(MustParse("2.3.4")))
	assert.False(t, r.Satisfies(MustParse("2.3.5")))

	rPartial, err := ParseRange("1.2 - 2.3")
	require.NoError(t, err)
	assert.True(t, rPartial.Satisfies(MustParse("2.3.9")))
	assert.False(t, rPartial.Satisfies(MustParse("2.4.0")))
}

func TestOrDisjunction(t *testing.T) {
	r, err := ParseRange("1.x || >=3.0.0 <4.0.0")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(MustParse("1.5.0")))
	assert.True(t, r.Satisfies(MustParse("3.2.0")))
	assert.False(t, r.Satisfies(MustParse("2.0.0")))
}

func TestPrereleaseOptInSameTriple(t *testing.T) {
	r, err := ParseRange(">=1.2.3-alpha <1.2.3")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(MustParse("1.2.3-beta")))
	assert.False(t, r.Satisfies(MustParse("1.2.4-beta")), "prerelease of a different triple is never opted in")
}

func TestMaxSatisfyingPrefersStable(t *testing.T) {
	vs := []Version{MustParse("1.0.0-alpha"), MustParse("1.0.0-beta"), MustParse("1.0.0")}
	r, err := ParseRange("*")
	require.NoError(t, err)
	best, ok := MaxSatisfying(vs, r)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", best.String())
}

func TestMaxSatisfyingMonotone(t *testing.T) {
	r, err := ParseRange("^4.17.0")
	require.NoError(t, err)
	vs := []Version{MustParse("4.17.19"), MustParse("4.17.20")}
	best, ok := MaxSatisfying(vs, r)
	require.True(t, ok)
	assert.Equal(t, "4.17.20", best.String())

	vs = append(vs, MustParse("4.17.21"))
	best2, ok := MaxSatisfying(vs, r)
	require.True(t, ok)
	assert.Equal(t, "4.17.21", best2.String())
}

func TestMaxSatisfyingNoMatch(t *testing.T) {
	r, err := ParseRange("^9.0.0")
	require.NoError(t, err)
	_, ok := MaxSatisfying([]Version{MustParse("1.0.0")}, r)
	assert.False(t, ok)
}

func TestSatisfiesFreeFunction(t *testing.T) {
	ok, err := Satisfies("4.17.21", "^4.17.0")
	require.NoError(t, err)
	assert.True(t, ok)
}
