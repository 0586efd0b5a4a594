package compiledb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDB(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compile_commands.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const sampleDB = `[
  {
    "directory": "/build",
    "command": "/usr/bin/c++ -DCVC5_ASSERTIONS -I/repo/src -I/build/src -std=c++17 -fPIC -o src/expr/node.cpp.o -c /repo/src/expr/node.cpp",
    "file": "/repo/src/expr/node.cpp"
  },
  {
    "directory": "/build",
    "arguments": ["/usr/bin/c++", "-I/repo/src", "-std=c++17", "-c", "util.cpp", "-o", "util.cpp.o"],
    "file": "util.cpp"
  }
]`

func TestArgsFor_CommandString(t *testing.T) {
	db, err := Load(writeDB(t, sampleDB), FallbackOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, db.Len())

	args, found := db.ArgsFor("/repo/src/expr/node.cpp")
	require.True(t, found)
	assert.Equal(t, []string{"-DCVC5_ASSERTIONS", "-I/repo/src", "-I/build/src", "-std=c++17", "-fPIC"}, args)
}

func TestArgsFor_ArgumentsArray(t *testing.T) {
	db, err := Load(writeDB(t, sampleDB), FallbackOptions{})
	require.NoError(t, err)

	// Relative entry files resolve against the entry directory.
	args, found := db.ArgsFor("/build/util.cpp")
	require.True(t, found)
	assert.Equal(t, []string{"-I/repo/src", "-std=c++17"}, args)
}

func TestArgsFor_SuffixMatch(t *testing.T) {
	db, err := Load(writeDB(t, sampleDB), FallbackOptions{})
	require.NoError(t, err)

	args, found := db.ArgsFor("src/expr/node.cpp")
	require.True(t, found)
	assert.Contains(t, args, "-DCVC5_ASSERTIONS")
}

func TestArgsFor_FallbackForUnknownFile(t *testing.T) {
	db, err := Load(writeDB(t, sampleDB), FallbackOptions{
		IncludeDirs: []string{"./include", "./build/include"},
		SystemDirs:  []string{"./build/deps/include"},
		Defines:     []string{"CVC5_ASSERTIONS"},
	})
	require.NoError(t, err)

	args, found := db.ArgsFor("src/expr/brand_new.cpp")
	assert.False(t, found)
	assert.Equal(t, "-x", args[0])
	assert.Equal(t, "c++", args[1])
	assert.Equal(t, "-std=c++17", args[2])
	assert.Contains(t, args, "-I./include")
	assert.Contains(t, args, "-isystem")
	assert.Contains(t, args, "-DCVC5_ASSERTIONS")
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeDB(t, "{not a list"), FallbackOptions{})
	assert.Error(t, err)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"plain", "c++ -c a.cpp", []string{"c++", "-c", "a.cpp"}},
		{"double quotes", `c++ -DVERSION="1.2 beta" a.cpp`, []string{"c++", "-DVERSION=1.2 beta", "a.cpp"}},
		{"single quotes", `c++ -DNAME='cvc5 lib' a.cpp`, []string{"c++", "-DNAME=cvc5 lib", "a.cpp"}},
		{"escaped space", `c++ -Ipath\ with\ space a.cpp`, []string{"c++", "-Ipath with space", "a.cpp"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCommand(tt.command))
		})
	}
}
