package analyze

import (
	"regexp"
	"strings"

	"github.com/zjy-dev/covgate/internal/astindex"
)

// parentFunction is one definition from the parent commit's side of the
// diff, paired with the source text its span indexes into.
type parentFunction struct {
	record astindex.FunctionRecord
	source string
}

// parentIndex maps stable keys (lineless signatures) to parent-side
// definitions across every file the diff touches, so a function moved
// between files can still be recognized.
type parentIndex map[string][]parentFunction

func (idx parentIndex) add(source string, records []astindex.FunctionRecord) {
	for _, r := range records {
		idx[r.Signature] = append(idx[r.Signature], parentFunction{record: r, source: source})
	}
}

// lookup prefers the parent definition living in the same file as the
// target; entries from other files are the cross-file move fallback.
func (idx parentIndex) lookup(signature, path string) (parentFunction, bool) {
	entries := idx[signature]
	for _, e := range entries {
		if e.record.Path == path {
			return e, true
		}
	}
	if len(entries) > 0 {
		return entries[0], true
	}
	return parentFunction{}, false
}

// isPureMove reports whether a selected function is an unmodified body
// that merely changed position. A function with no parent counterpart is
// new, which counts as modified.
func isPureMove(target astindex.FunctionRecord, targetSource string, parents parentIndex) bool {
	parent, ok := parents.lookup(target.Signature, target.Path)
	if !ok {
		return false
	}
	before := normalizeBody(bodySlice(parent.source, parent.record.SpanStart, parent.record.SpanEnd))
	after := normalizeBody(bodySlice(targetSource, target.SpanStart, target.SpanEnd))
	return before != "" && before == after
}

// bodySlice returns the 1-based inclusive line range of src, clamped to
// the text's bounds.
func bodySlice(src string, start, end int) string {
	lines := strings.Split(src, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

var (
	lineCommentRe  = regexp.MustCompile(`//.*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// normalizeBody strips comments and collapses all whitespace, so that
// reformatting or comment edits within an otherwise untouched body still
// compare equal.
func normalizeBody(code string) string {
	code = blockCommentRe.ReplaceAllString(code, "")
	code = lineCommentRe.ReplaceAllString(code, "")
	code = whitespaceRe.ReplaceAllString(code, " ")
	return strings.TrimSpace(code)
}
