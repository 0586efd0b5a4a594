package analyze

import (
	"sort"
	"strings"

	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/demangle"
	"github.com/zjy-dev/covgate/internal/identity"
	"github.com/zjy-dev/covgate/internal/logger"
)

// Tier names the lookup that produced a positive match.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierPathless
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierPathless:
		return "pathless"
	default:
		return "none"
	}
}

// maxFuzzyCandidates bounds the advisory overload list per function.
const maxFuzzyCandidates = 5

// Match is the coverage verdict for one function. Covered is true only
// for the exact and pathless tiers; fuzzy candidates are overloads of
// the same name offered for human auditing and never count as coverage.
type Match struct {
	Covered         bool
	Tier            Tier
	Tests           []string
	FuzzyCandidates []string
}

// Matcher resolves function identities against a coverage map. All
// lookup tables are built once, so concurrent Match calls are safe.
type Matcher struct {
	exact    map[string][]string // normalized full key -> sorted tests
	pathless map[string][]string // normalized path:signature -> sorted tests
	byName   map[string][]string // path + qualified name -> full map keys
}

// NewMatcher precomputes normalized lookups over the coverage map. The
// exact table is keyed on normalized signatures too, so a map recorded
// with a different signature spelling still matches at the exact tier
// when the start line agrees.
func NewMatcher(cov *covmap.Map) *Matcher {
	m := &Matcher{
		exact:    make(map[string][]string),
		pathless: make(map[string][]string),
		byName:   make(map[string][]string),
	}

	for _, key := range cov.Keys() {
		id, err := identity.ParseKey(key)
		if err != nil {
			logger.Debugf("skipping malformed coverage key %q: %v", key, err)
			continue
		}
		norm := demangle.Normalize(id.Signature)

		ek := normalizedKey(id, norm)
		m.exact[ek] = mergeSorted(m.exact[ek], cov.Tests(key))

		pk := id.Path + ":" + norm
		m.pathless[pk] = mergeSorted(m.pathless[pk], cov.Tests(key))

		nk := nameKey(id.Path, norm)
		m.byName[nk] = append(m.byName[nk], key)
	}
	for _, keys := range m.byName {
		sort.Strings(keys)
	}
	return m
}

// Match resolves one function identity.
func (m *Matcher) Match(id identity.Identity) Match {
	norm := demangle.Normalize(id.Signature)

	// exact: the full key including the start line
	if tests, ok := m.exact[normalizedKey(id, norm)]; ok {
		return Match{Covered: true, Tier: TierExact, Tests: tests}
	}

	// pathless: same file and signature, any start line; catches
	// functions that shifted position since the map was recorded
	if tests, ok := m.pathless[id.Path+":"+norm]; ok {
		return Match{Covered: true, Tier: TierPathless, Tests: tests}
	}

	// fuzzy: same file and qualified name with a different parameter
	// list, advisory only
	var candidates []string
	for _, key := range m.byName[nameKey(id.Path, norm)] {
		cid, err := identity.ParseKey(key)
		if err != nil || demangle.Normalize(cid.Signature) == norm {
			continue
		}
		candidates = append(candidates, key)
		if len(candidates) == maxFuzzyCandidates {
			break
		}
	}
	return Match{Covered: false, Tier: TierNone, FuzzyCandidates: candidates}
}

// normalizedKey renders the full map key with the signature replaced by
// its normalized form.
func normalizedKey(id identity.Identity, normalizedSig string) string {
	return identity.Identity{Path: id.Path, Signature: normalizedSig, StartLine: id.StartLine}.Key()
}

// nameKey indexes by file plus qualified name so overloads of the same
// function land in one bucket.
func nameKey(path, normalizedSig string) string {
	name := normalizedSig
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	return path + "\x00" + name
}

// mergeSorted unions two sorted unique string slices.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
