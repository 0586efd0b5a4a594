package analyze

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/identity"
)

func buildMap(t *testing.T, entries map[identity.Identity][]string) *covmap.Map {
	t.Helper()
	m := covmap.New()
	for id, tests := range entries {
		for _, name := range tests {
			m.Add(id, name)
		}
	}
	return m
}

func TestMatcher_ExactTier(t *testing.T) {
	id := identity.Identity{Path: "src/a.cpp", Signature: "cvc5::foo(int)", StartLine: 10}
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{
		id: {"regress0/t1", "regress0/t2"},
	}))

	match := m.Match(id)
	assert.True(t, match.Covered)
	assert.Equal(t, TierExact, match.Tier)
	assert.Equal(t, []string{"regress0/t1", "regress0/t2"}, match.Tests)
}

func TestMatcher_PathlessTierOnLineDrift(t *testing.T) {
	recorded := identity.Identity{Path: "src/a.cpp", Signature: "cvc5::foo(int)", StartLine: 10}
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{
		recorded: {"regress0/t1"},
	}))

	// Same file and signature, shifted start line.
	drifted := identity.Identity{Path: "src/a.cpp", Signature: "cvc5::foo(int)", StartLine: 14}
	match := m.Match(drifted)
	assert.True(t, match.Covered)
	assert.Equal(t, TierPathless, match.Tier)
	assert.Equal(t, []string{"regress0/t1"}, match.Tests)
}

func TestMatcher_PathlessMergesLineVariants(t *testing.T) {
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{
		{Path: "src/a.cpp", Signature: "foo()", StartLine: 10}: {"t1"},
		{Path: "src/a.cpp", Signature: "foo()", StartLine: 30}: {"t2"},
	}))

	match := m.Match(identity.Identity{Path: "src/a.cpp", Signature: "foo()", StartLine: 20})
	require.True(t, match.Covered)
	assert.Equal(t, []string{"t1", "t2"}, match.Tests)
}

func TestMatcher_FuzzyCandidatesAreNotCoverage(t *testing.T) {
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{
		{Path: "src/a.cpp", Signature: "cvc5::foo(int)", StartLine: 10}:                    {"t1"},
		{Path: "src/a.cpp", Signature: "cvc5::foo(int, cvc5::Node const&)", StartLine: 30}: {"t2"},
		{Path: "src/b.cpp", Signature: "cvc5::foo(double)", StartLine: 5}:                  {"t3"},
	}))

	// Same file and name, parameters match nothing recorded.
	match := m.Match(identity.Identity{Path: "src/a.cpp", Signature: "cvc5::foo(long)", StartLine: 99})
	assert.False(t, match.Covered)
	assert.Equal(t, TierNone, match.Tier)
	assert.Empty(t, match.Tests)
	assert.ElementsMatch(t, []string{
		"src/a.cpp:cvc5::foo(int):10",
		"src/a.cpp:cvc5::foo(int, cvc5::Node const&):30",
	}, match.FuzzyCandidates)
}

func TestMatcher_FuzzyCandidateCap(t *testing.T) {
	entries := make(map[identity.Identity][]string)
	for i := 0; i < 10; i++ {
		id := identity.Identity{
			Path:      "src/a.cpp",
			Signature: fmt.Sprintf("foo(T%d)", i),
			StartLine: 10 + i,
		}
		entries[id] = []string{"t"}
	}
	m := NewMatcher(buildMap(t, entries))

	match := m.Match(identity.Identity{Path: "src/a.cpp", Signature: "foo(unseen)", StartLine: 1})
	assert.False(t, match.Covered)
	assert.Len(t, match.FuzzyCandidates, maxFuzzyCandidates)
}

func TestMatcher_Uncovered(t *testing.T) {
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{
		{Path: "src/a.cpp", Signature: "foo()", StartLine: 10}: {"t1"},
	}))

	match := m.Match(identity.Identity{Path: "src/z.cpp", Signature: "bar()", StartLine: 1})
	assert.False(t, match.Covered)
	assert.Empty(t, match.Tests)
	assert.Empty(t, match.FuzzyCandidates)
}

func TestMatcher_ExactTierAcrossSpellings(t *testing.T) {
	// Identical start line with a different signature spelling is still
	// the exact tier, not pathless.
	recorded := identity.Identity{Path: "src/a.cpp", Signature: "foo(cvc5::Node const&)", StartLine: 10}
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{recorded: {"t1"}}))

	match := m.Match(identity.Identity{Path: "src/a.cpp", Signature: "foo(const cvc5::Node &)", StartLine: 10})
	assert.True(t, match.Covered)
	assert.Equal(t, TierExact, match.Tier)
	assert.Equal(t, []string{"t1"}, match.Tests)
}

func TestMatcher_NormalizedSignatureConvergence(t *testing.T) {
	// The map was recorded from demangled symbols; the AST side renders
	// "const T&" spellings. Both normalize to the same form.
	recorded := identity.Identity{Path: "src/a.cpp", Signature: "foo(cvc5::Node const&)", StartLine: 10}
	m := NewMatcher(buildMap(t, map[identity.Identity][]string{recorded: {"t1"}}))

	match := m.Match(identity.Identity{Path: "src/a.cpp", Signature: "foo(const cvc5::Node &)", StartLine: 12})
	assert.True(t, match.Covered)
	assert.Equal(t, TierPathless, match.Tier)
}
