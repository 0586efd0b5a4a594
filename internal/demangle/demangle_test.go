package demangle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/covgate/internal/exec"
)

// mockExecutor fakes c++filt with a canned symbol table and counts calls.
type mockExecutor struct {
	table map[string]string
	calls int
}

func (m *mockExecutor) Run(command string, args ...string) (*exec.ExecutionResult, error) {
	m.calls++
	if len(args) != 1 {
		return nil, fmt.Errorf("unexpected args: %v", args)
	}
	out, ok := m.table[args[0]]
	if !ok {
		// c++filt echoes back symbols it cannot demangle.
		out = args[0]
	}
	return &exec.ExecutionResult{Stdout: out + "\n"}, nil
}

func (m *mockExecutor) RunInDir(dir, command string, args ...string) (*exec.ExecutionResult, error) {
	return m.Run(command, args...)
}

func (m *mockExecutor) RunWithTimeout(ctx context.Context, dir string, timeout time.Duration, command string, args ...string) (*exec.ExecutionResult, error) {
	return m.Run(command, args...)
}

func TestCxxFilt_Demangle(t *testing.T) {
	executor := &mockExecutor{table: map[string]string{
		"_ZN4cvc58internal4Node8toStringEv": "cvc5::internal::Node::toString()",
	}}
	d := NewCxxFilt(executor, "")

	t.Run("demangles a valid symbol", func(t *testing.T) {
		got, err := d.Demangle("_ZN4cvc58internal4Node8toStringEv")
		require.NoError(t, err)
		assert.Equal(t, "cvc5::internal::Node::toString()", got)
	})

	t.Run("caches repeated symbols", func(t *testing.T) {
		before := executor.calls
		_, err := d.Demangle("_ZN4cvc58internal4Node8toStringEv")
		require.NoError(t, err)
		assert.Equal(t, before, executor.calls, "second lookup should hit the cache")
	})

	t.Run("passes through plain C symbols without spawning", func(t *testing.T) {
		before := executor.calls
		got, err := d.Demangle("main")
		require.NoError(t, err)
		assert.Equal(t, "main", got)
		assert.Equal(t, before, executor.calls)
	})

	t.Run("rejects invalid mangled names", func(t *testing.T) {
		_, err := d.Demangle("_Zbogus_not_a_real_mangling")
		var derr *DemangleError
		require.ErrorAs(t, err, &derr)
	})

	t.Run("rejects empty symbols", func(t *testing.T) {
		_, err := d.Demangle("")
		assert.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "leading const moves behind the type",
			in:   "ns::foo(const std::string&, int)",
			want: "ns::foo(std::string const&, int)",
		},
		{
			name: "whitespace collapsed, no space before ref",
			in:   "ns::foo( int ,  char * )",
			want: "ns::foo(int, char*)",
		},
		{
			name: "vector default allocator expanded",
			in:   "ns::bar(std::vector<int>)",
			want: "ns::bar(std::vector<int, std::allocator<int> >)",
		},
		{
			name: "template commas are not parameter separators",
			in:   "ns::baz(std::map<int, long>, bool)",
			want: "ns::baz(std::map<int, long>, bool)",
		},
		{
			name: "const method suffix preserved",
			in:   "ns::C::get(int) const",
			want: "ns::C::get(int) const",
		},
		{
			name: "no parameter list",
			in:   "plain_symbol",
			want: "plain_symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	in := "ns::foo(const std::vector<int>&, char *) const"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}
