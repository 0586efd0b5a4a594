// Package recorder captures per-test isolated coverage from an
// instrumented build. Each test runs alone between a counter reset and a
// report extraction, so every function observed with a nonzero execution
// count is attributable to exactly that test.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjy-dev/covgate/internal/demangle"
	"github.com/zjy-dev/covgate/internal/exec"
	"github.com/zjy-dev/covgate/internal/identity"
	"github.com/zjy-dev/covgate/internal/logger"
	"github.com/zjy-dev/covgate/internal/testlist"
)

// CounterResetError means the instrumentation counters could not be
// zeroed before a run. Continuing would contaminate attribution across
// tests, so the whole shard must abort.
type CounterResetError struct {
	Err error
}

func (e *CounterResetError) Error() string {
	return fmt.Sprintf("failed to reset coverage counters: %v", e.Err)
}

func (e *CounterResetError) Unwrap() error { return e.Err }

// defaultExcludes are path fragments that mark non-project coverage
// entries (system headers, bundled dependencies, generated build files).
var defaultExcludes = []string{
	"/usr/include/", "/usr/lib/", "/opt/",
	"/deps/", "/build/", "CMakeFiles/",
}

// Recorder produces one per-function hit-count observation per test.
type Recorder interface {
	Record(ctx context.Context, test testlist.Test) (map[identity.Identity]int, error)
}

// Options configures a FastcovRecorder.
type Options struct {
	BuildDir      string
	FastcovBinary string // defaults to "fastcov"
	CtestBinary   string // defaults to "ctest"
	GcovBinary    string // defaults to "gcov"
	SourcePrefix  string // project source marker, defaults to "src/"
	Excludes      []string
	TestTimeout   time.Duration
}

// FastcovRecorder implements Recorder over the gcov toolchain: ctest runs
// a single test, fastcov resets counters and exports the JSON report.
type FastcovRecorder struct {
	executor  exec.Executor
	demangler demangle.Demangler
	opts      Options
}

// NewFastcovRecorder creates a recorder for an instrumented build tree.
func NewFastcovRecorder(executor exec.Executor, demangler demangle.Demangler, opts Options) *FastcovRecorder {
	if opts.FastcovBinary == "" {
		opts.FastcovBinary = "fastcov"
	}
	if opts.CtestBinary == "" {
		opts.CtestBinary = "ctest"
	}
	if opts.GcovBinary == "" {
		opts.GcovBinary = "gcov"
	}
	if opts.SourcePrefix == "" {
		opts.SourcePrefix = "src/"
	}
	if len(opts.Excludes) == 0 {
		opts.Excludes = defaultExcludes
	}
	return &FastcovRecorder{executor: executor, demangler: demangler, opts: opts}
}

// Record executes the reset -> run -> extract protocol for one test and
// returns the hit count per function identity. A failing or timed-out
// test is not an error: whatever coverage it produced before dying is
// still attributable to it.
func (r *FastcovRecorder) Record(ctx context.Context, test testlist.Test) (map[identity.Identity]int, error) {
	if err := r.reset(); err != nil {
		return nil, &CounterResetError{Err: err}
	}

	if err := r.run(ctx, test); err != nil {
		return nil, err
	}

	return r.extract(test)
}

// reset zeroes all instrumentation counters. fastcov --zerocounters
// handles the registered search directory; stray .gcda files are removed
// as well since a stale one silently re-attributes old executions.
func (r *FastcovRecorder) reset() error {
	result, err := r.executor.Run(r.opts.FastcovBinary,
		"--zerocounters", "--search-directory", r.opts.BuildDir)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s --zerocounters exited %d: %s",
			r.opts.FastcovBinary, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return filepath.WalkDir(r.opts.BuildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".gcda") {
			return os.Remove(path)
		}
		return nil
	})
}

// run executes exactly one ctest entry under the configured timeout.
func (r *FastcovRecorder) run(ctx context.Context, test testlist.Test) error {
	rangeArg := fmt.Sprintf("%d,%d", test.Num, test.Num)
	result, err := r.executor.RunWithTimeout(ctx, r.opts.BuildDir, r.opts.TestTimeout,
		r.opts.CtestBinary, "-I", rangeArg, "--output-on-failure")
	if err != nil {
		return fmt.Errorf("failed to run test %q: %w", test.Name, err)
	}
	if result.TimedOut {
		logger.Warnf("test %q timed out, keeping partial coverage", test.Name)
	} else if result.ExitCode != 0 {
		logger.Warnf("test %q exited %d, keeping partial coverage", test.Name, result.ExitCode)
	}
	return nil
}

// extract exports the coverage captured since the last reset and folds it
// into function identities.
func (r *FastcovRecorder) extract(test testlist.Test) (map[identity.Identity]int, error) {
	outPath := filepath.Join(r.opts.BuildDir,
		fmt.Sprintf("fastcov_%s.json", strings.ReplaceAll(test.Name, "/", "_")))
	defer os.Remove(outPath)

	args := []string{
		"--gcov", r.opts.GcovBinary,
		"--search-directory", r.opts.BuildDir,
		"--output", outPath,
	}
	for _, pattern := range []string{"/usr/include/*", "*/deps/*"} {
		args = append(args, "--exclude", pattern)
	}

	result, err := r.executor.Run(r.opts.FastcovBinary, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run fastcov: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("fastcov exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fastcov report: %w", err)
	}

	return r.identitiesFromReport(data)
}

// fastcovReport mirrors the slice of fastcov's JSON output this tool
// consumes. fastcov nests per-file data under an empty test-name key.
type fastcovReport struct {
	Sources map[string]map[string]fastcovFileCoverage `json:"sources"`
}

type fastcovFileCoverage struct {
	Functions map[string]fastcovFunction `json:"functions"`
}

type fastcovFunction struct {
	StartLine      int `json:"start_line"`
	ExecutionCount int `json:"execution_count"`
}

// identitiesFromReport parses a fastcov JSON document and returns the hit
// count per executed project function, with symbols demangled and paths
// simplified to the repository-relative form.
func (r *FastcovRecorder) identitiesFromReport(data []byte) (map[identity.Identity]int, error) {
	var report fastcovReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse fastcov report: %w", err)
	}

	hits := make(map[identity.Identity]int)
	for filePath, byTest := range report.Sources {
		if !r.isProjectSource(filePath) {
			continue
		}
		fileCov, ok := byTest[""]
		if !ok {
			continue
		}
		for symbol, fn := range fileCov.Functions {
			if fn.ExecutionCount <= 0 {
				continue
			}
			signature, err := r.demangler.Demangle(symbol)
			if err != nil {
				logger.Debugf("skipping symbol %q: %v", symbol, err)
				continue
			}
			id := identity.Identity{
				Path:      r.simplifyPath(filePath),
				Signature: demangle.Normalize(signature),
				StartLine: fn.StartLine,
			}
			hits[id] += fn.ExecutionCount
		}
	}
	return hits, nil
}

// isProjectSource reports whether a coverage entry belongs to the target
// project's own source tree.
func (r *FastcovRecorder) isProjectSource(path string) bool {
	if !strings.Contains(path, r.opts.SourcePrefix) {
		return false
	}
	for _, pattern := range r.opts.Excludes {
		if strings.Contains(path, pattern) {
			return false
		}
	}
	return true
}

// simplifyPath cuts an absolute instrumentation path down to the
// repository-relative form starting at the source prefix.
func (r *FastcovRecorder) simplifyPath(path string) string {
	marker := "/" + r.opts.SourcePrefix
	if i := strings.Index(path, marker); i >= 0 {
		return path[i+1:]
	}
	return path
}
