package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/covgate/internal/exec"
	"github.com/zjy-dev/covgate/internal/identity"
	"github.com/zjy-dev/covgate/internal/testlist"
)

const fastcovJSON = `{
  "sources": {
    "/repo/src/expr/node.cpp": {
      "": {
        "functions": {
          "_ZN4cvc53fooEi": {"start_line": 10, "execution_count": 5},
          "_ZN4cvc53barEv": {"start_line": 42, "execution_count": 0}
        }
      }
    },
    "/usr/include/c++/14/vector": {
      "": {
        "functions": {
          "_ZNSt6vectorIiE4sizeEv": {"start_line": 1, "execution_count": 99}
        }
      }
    },
    "/repo/deps/poly/poly.cpp": {
      "": {
        "functions": {
          "poly_init": {"start_line": 3, "execution_count": 7}
        }
      }
    }
  }
}`

// scriptedExecutor plays the reset/run/extract sequence. The fastcov
// export step writes reportJSON to the --output path like the real tool.
type scriptedExecutor struct {
	reportJSON    string
	resetExitCode int
	testExitCode  int
	testTimedOut  bool
	commands      [][]string
}

func (s *scriptedExecutor) record(command string, args []string) {
	s.commands = append(s.commands, append([]string{command}, args...))
}

func (s *scriptedExecutor) Run(command string, args ...string) (*exec.ExecutionResult, error) {
	s.record(command, args)
	if contains(args, "--zerocounters") {
		return &exec.ExecutionResult{ExitCode: s.resetExitCode}, nil
	}
	if out := flagValue(args, "--output"); out != "" {
		if err := os.WriteFile(out, []byte(s.reportJSON), 0644); err != nil {
			return nil, err
		}
		return &exec.ExecutionResult{}, nil
	}
	return &exec.ExecutionResult{}, nil
}

func (s *scriptedExecutor) RunInDir(dir, command string, args ...string) (*exec.ExecutionResult, error) {
	return s.Run(command, args...)
}

func (s *scriptedExecutor) RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, command string, args ...string) (*exec.ExecutionResult, error) {
	s.record(command, args)
	return &exec.ExecutionResult{ExitCode: s.testExitCode, TimedOut: s.testTimedOut}, nil
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// tableDemangler demangles from a fixed table, passing through C symbols.
type tableDemangler struct{ table map[string]string }

func (d *tableDemangler) Demangle(mangled string) (string, error) {
	if out, ok := d.table[mangled]; ok {
		return out, nil
	}
	if len(mangled) > 2 && mangled[:2] == "_Z" {
		return "", fmt.Errorf("unknown symbol %q", mangled)
	}
	return mangled, nil
}

func newTestRecorder(t *testing.T, execu exec.Executor) *FastcovRecorder {
	t.Helper()
	return NewFastcovRecorder(execu, &tableDemangler{table: map[string]string{
		"_ZN4cvc53fooEi": "cvc5::foo(int)",
		"_ZN4cvc53barEv": "cvc5::bar()",
	}}, Options{BuildDir: t.TempDir()})
}

func TestFastcovRecorder_Record(t *testing.T) {
	executor := &scriptedExecutor{reportJSON: fastcovJSON}
	r := newTestRecorder(t, executor)

	hits, err := r.Record(context.Background(), testlist.Test{Num: 3, Name: "regress0/foo.smt2"})
	require.NoError(t, err)

	// Only the project function with a nonzero count survives: the zero
	// count, the system header, and the vendored dep are all dropped.
	require.Len(t, hits, 1)
	want := identity.Identity{Path: "src/expr/node.cpp", Signature: "cvc5::foo(int)", StartLine: 10}
	assert.Equal(t, 5, hits[want])

	// The single-test ctest invocation must target exactly test #3.
	var sawCtest bool
	for _, cmd := range executor.commands {
		if cmd[0] == "ctest" {
			sawCtest = true
			assert.Equal(t, []string{"ctest", "-I", "3,3", "--output-on-failure"}, cmd)
		}
	}
	assert.True(t, sawCtest)
}

func TestFastcovRecorder_ResetFailureAbortsShard(t *testing.T) {
	executor := &scriptedExecutor{reportJSON: fastcovJSON, resetExitCode: 1}
	r := newTestRecorder(t, executor)

	_, err := r.Record(context.Background(), testlist.Test{Num: 1, Name: "t"})
	var resetErr *CounterResetError
	require.ErrorAs(t, err, &resetErr)
}

func TestFastcovRecorder_FailingTestKeepsPartialCoverage(t *testing.T) {
	executor := &scriptedExecutor{reportJSON: fastcovJSON, testExitCode: 1}
	r := newTestRecorder(t, executor)

	hits, err := r.Record(context.Background(), testlist.Test{Num: 1, Name: "t"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestFastcovRecorder_TimedOutTestKeepsPartialCoverage(t *testing.T) {
	executor := &scriptedExecutor{reportJSON: fastcovJSON, testTimedOut: true}
	r := newTestRecorder(t, executor)

	hits, err := r.Record(context.Background(), testlist.Test{Num: 1, Name: "t"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestFastcovRecorder_MalformedReport(t *testing.T) {
	executor := &scriptedExecutor{reportJSON: "{broken"}
	r := newTestRecorder(t, executor)

	_, err := r.Record(context.Background(), testlist.Test{Num: 1, Name: "t"})
	assert.Error(t, err)
}

func TestFastcovRecorder_SimplifyPath(t *testing.T) {
	r := newTestRecorder(t, &scriptedExecutor{})
	assert.Equal(t, "src/expr/node.cpp", r.simplifyPath("/home/ci/repo/src/expr/node.cpp"))
	assert.Equal(t, "relative/other.cpp", r.simplifyPath("relative/other.cpp"))
}

func TestBuilder_Build(t *testing.T) {
	tests := []testlist.Test{
		{Num: 1, Name: "testA"},
		{Num: 2, Name: "testBroken"},
		{Num: 3, Name: "testB"},
	}

	fn := identity.Identity{Path: "src/a.cpp", Signature: "foo(int)", StartLine: 10}
	rec := &stubRecorder{
		hits: map[string]map[identity.Identity]int{
			"testA": {fn: 2},
			"testB": {fn: 7},
		},
		fail: map[string]error{"testBroken": errors.New("fastcov blew up")},
	}

	shard, stats, err := NewBuilder(rec).Build(context.Background(), tests)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Functions)
	assert.Equal(t, []string{"testA", "testB"}, shard.Tests(fn.Key()))
}

func TestBuilder_ResetErrorAborts(t *testing.T) {
	rec := &stubRecorder{
		fail: map[string]error{"testA": &CounterResetError{Err: errors.New("no gcda")}},
	}

	_, _, err := NewBuilder(rec).Build(context.Background(),
		[]testlist.Test{{Num: 1, Name: "testA"}, {Num: 2, Name: "testB"}})
	var resetErr *CounterResetError
	require.ErrorAs(t, err, &resetErr)
}

type stubRecorder struct {
	hits map[string]map[identity.Identity]int
	fail map[string]error
}

func (s *stubRecorder) Record(ctx context.Context, test testlist.Test) (map[identity.Identity]int, error) {
	if err, ok := s.fail[test.Name]; ok {
		return nil, err
	}
	return s.hits[test.Name], nil
}
