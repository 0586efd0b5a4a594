// Package testlist discovers the target project's test enumeration.
// The shard protocol depends on ctest listing tests in a stable order, so
// discovery never reorders what ctest prints.
package testlist

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zjy-dev/covgate/internal/exec"
)

// Test is one entry of the ctest enumeration. Num is ctest's own 1-based
// test number, used to run exactly this test with `ctest -I n,n`.
type Test struct {
	Num  int
	Name string
}

var testLineRe = regexp.MustCompile(`Test\s+#(\d+):\s*(.+)`)

// Discover lists tests via `ctest --show-only` in buildDir, preserving
// ctest's order.
func Discover(executor exec.Executor, ctestBinary, buildDir string) ([]Test, error) {
	if ctestBinary == "" {
		ctestBinary = "ctest"
	}

	result, err := executor.RunInDir(buildDir, ctestBinary, "--show-only")
	if err != nil {
		return nil, fmt.Errorf("failed to run ctest --show-only: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("ctest --show-only exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	var tests []Test
	scanner := bufio.NewScanner(strings.NewReader(result.Stdout))
	for scanner.Scan() {
		m := testLineRe.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		tests = append(tests, Test{Num: num, Name: m[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ctest output: %w", err)
	}
	return tests, nil
}

// Filter keeps tests whose name contains pattern. An empty pattern keeps
// everything.
func Filter(tests []Test, pattern string) []Test {
	if pattern == "" {
		return tests
	}
	var out []Test
	for _, t := range tests {
		if strings.Contains(t.Name, pattern) {
			out = append(out, t)
		}
	}
	return out
}

// Slice selects the 1-based inclusive range [start, end], matching ctest
// numbering conventions. Zero start/end means no bound on that side.
// Indices reach past the list clamp rather than error, so shard scripts
// can over-partition freely.
func Slice(tests []Test, start, end int) []Test {
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(tests) {
		end = len(tests)
	}
	if start > len(tests) || start > end {
		return nil
	}
	return tests[start-1 : end]
}
