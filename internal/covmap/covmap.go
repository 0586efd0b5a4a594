// Package covmap holds the persisted function-to-tests coverage map.
// The artifact is a JSON object keyed by "path:signature:start_line" with
// sorted, deduplicated test-name arrays, optionally gzip-compressed.
package covmap

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zjy-dev/covgate/internal/identity"
)

// MergedFileName is the conventional name of the merged artifact.
const MergedFileName = "coverage_mapping.json"

// ShardFileName returns the conventional name for a shard covering the
// 1-based inclusive test range [start, end].
func ShardFileName(start, end int) string {
	return fmt.Sprintf("coverage_mapping_%d_%d.json", start, end)
}

// Map associates function identities with the set of tests observed to
// execute them. It is safe for concurrent use; during commit analysis it
// is treated as read-only and shared without copying.
type Map struct {
	mu sync.RWMutex

	// functionToTests maps an identity key to a sorted, unique test list.
	functionToTests map[string][]string
}

// New creates an empty coverage map.
func New() *Map {
	return &Map{functionToTests: make(map[string][]string)}
}

// Add records that test executed the function named by id. The test list
// stays sorted and deduplicated.
func (m *Map) Add(id identity.Identity, test string) {
	m.addKey(id.Key(), test)
}

func (m *Map) addKey(key, test string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tests := m.functionToTests[key]
	i := sort.SearchStrings(tests, test)
	if i < len(tests) && tests[i] == test {
		return
	}
	tests = append(tests, "")
	copy(tests[i+1:], tests[i:])
	tests[i] = test
	m.functionToTests[key] = tests
}

// Tests returns the tests recorded for an exact identity key, or nil.
func (m *Map) Tests(key string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tests, ok := m.functionToTests[key]
	if !ok {
		return nil
	}
	out := make([]string, len(tests))
	copy(out, tests)
	return out
}

// Len returns the number of distinct function identities.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.functionToTests)
}

// Keys returns all identity keys in sorted order.
func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.functionToTests))
	for k := range m.functionToTests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge unions other into m. The union is per-identity set union, so
// merging is commutative and idempotent: re-merging the same shard is a
// no-op, and shard order never changes the result.
func (m *Map) Merge(other *Map) {
	// self-merge is a no-op; taking both locks below would deadlock
	if other == nil || other == m {
		return
	}

	other.mu.RLock()
	defer other.mu.RUnlock()

	for key, tests := range other.functionToTests {
		for _, test := range tests {
			m.addKey(key, test)
		}
	}
}

// Save writes the map as compact JSON. A path ending in ".gz" is
// gzip-compressed transparently.
func (m *Map) Save(path string) error {
	m.mu.RLock()
	data, err := json.Marshal(m.functionToTests)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal coverage map: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create coverage map file: %w", err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	_, err = w.Write(data)
	if err == nil && gz != nil {
		// gzip buffers until Close; a failed flush means a truncated
		// artifact, which must not look like a successful save
		err = gz.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write coverage map: %w", err)
	}
	return nil
}

// Load reads a coverage map artifact, validating every key against the
// path:signature:line structure. Malformed keys are dropped and counted;
// the caller decides whether a nonzero skip count is tolerable.
func Load(path string) (*Map, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open coverage map: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open gzip coverage map: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var raw map[string][]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("failed to parse coverage map %s: %w", path, err)
	}

	m := New()
	skipped := 0
	for key, tests := range raw {
		if _, err := identity.ParseKey(key); err != nil {
			skipped++
			continue
		}
		for _, test := range tests {
			m.addKey(key, test)
		}
	}
	return m, skipped, nil
}
