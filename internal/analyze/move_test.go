package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zjy-dev/covgate/internal/astindex"
)

const parentSource = `// header comment
int moved() {
  return 42; // the answer
}
int touched() {
  return 1;
}
`

const targetSource = `int touched() {
  return 2;
}

/* relocated below */
int moved() { return 42; }
`

func parentSide() parentIndex {
	idx := make(parentIndex)
	idx.add(parentSource, []astindex.FunctionRecord{
		{Path: "src/a.cpp", Signature: "moved()", SpanStart: 2, SpanEnd: 4},
		{Path: "src/a.cpp", Signature: "touched()", SpanStart: 5, SpanEnd: 7},
	})
	return idx
}

func TestIsPureMove_RelocatedBody(t *testing.T) {
	moved := astindex.FunctionRecord{Path: "src/a.cpp", Signature: "moved()", SpanStart: 6, SpanEnd: 6}
	assert.True(t, isPureMove(moved, targetSource, parentSide()))
}

func TestIsPureMove_ModifiedBody(t *testing.T) {
	touched := astindex.FunctionRecord{Path: "src/a.cpp", Signature: "touched()", SpanStart: 1, SpanEnd: 3}
	assert.False(t, isPureMove(touched, targetSource, parentSide()))
}

func TestIsPureMove_NewFunction(t *testing.T) {
	fresh := astindex.FunctionRecord{Path: "src/a.cpp", Signature: "fresh()", SpanStart: 1, SpanEnd: 3}
	assert.False(t, isPureMove(fresh, targetSource, parentSide()))
}

func TestIsPureMove_CrossFile(t *testing.T) {
	// The parent index spans all diffed files, so the parent-side copy
	// living in another file still marks the relocation as a move.
	idx := make(parentIndex)
	idx.add("int moved() {\n  return 42;\n}\n", []astindex.FunctionRecord{
		{Path: "src/b.cpp", Signature: "moved()", SpanStart: 1, SpanEnd: 3},
	})
	moved := astindex.FunctionRecord{Path: "src/a.cpp", Signature: "moved()", SpanStart: 6, SpanEnd: 6}
	assert.True(t, isPureMove(moved, targetSource, idx))
}

func TestIsPureMove_SamePathWinsOverCrossFile(t *testing.T) {
	// Both diffed files define helper(). The same-file copy has a
	// different body, so the target counts as modified even though the
	// copy in the other file happens to match.
	idx := make(parentIndex)
	idx.add("int helper() { return 42; }\n", []astindex.FunctionRecord{
		{Path: "src/b.cpp", Signature: "helper()", SpanStart: 1, SpanEnd: 1},
	})
	idx.add("int helper() { return 0; }\n", []astindex.FunctionRecord{
		{Path: "src/a.cpp", Signature: "helper()", SpanStart: 1, SpanEnd: 1},
	})

	target := astindex.FunctionRecord{Path: "src/a.cpp", Signature: "helper()", SpanStart: 3, SpanEnd: 3}
	assert.False(t, isPureMove(target, "\n\nint helper() { return 42; }\n", idx))
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"line comment", "int x; // note\nint y;", "int x; int y;"},
		{"block comment", "int x; /* a\nb */ int y;", "int x; int y;"},
		{"whitespace collapse", "int   x;\n\n\tint y;", "int x; int y;"},
		{"empty", "   \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeBody(tt.code))
		})
	}
}

func TestBodySlice(t *testing.T) {
	src := "a\nb\nc\nd"
	assert.Equal(t, "b\nc", bodySlice(src, 2, 3))
	assert.Equal(t, "a\nb\nc\nd", bodySlice(src, 0, 99))
	assert.Equal(t, "", bodySlice(src, 5, 4))
}
