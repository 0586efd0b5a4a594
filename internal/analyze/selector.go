// Package analyze turns a commit's diff into a coverage verdict: which
// functions changed, which of those are genuine modifications rather
// than relocations, and which tests exercise them.
package analyze

import (
	"sort"

	"github.com/zjy-dev/covgate/internal/astindex"
)

// SelectChanged picks the functions of one file that a commit actually
// touched. For every changed line the innermost enclosing definition
// wins: nested lambdas and local classes produce overlapping spans, and
// the smallest span is the one the edit really landed in. Lines outside
// any definition (includes, globals, blank regions) select nothing.
func SelectChanged(changedLines map[int]struct{}, records []astindex.FunctionRecord) []astindex.FunctionRecord {
	if len(changedLines) == 0 || len(records) == 0 {
		return nil
	}

	lines := make([]int, 0, len(changedLines))
	for ln := range changedLines {
		lines = append(lines, ln)
	}
	sort.Ints(lines)

	selected := make(map[string]astindex.FunctionRecord)
	for _, ln := range lines {
		var chosen *astindex.FunctionRecord
		for i := range records {
			r := &records[i]
			if !r.Contains(ln) {
				continue
			}
			if chosen == nil || innermost(r, chosen) {
				chosen = r
			}
		}
		if chosen != nil {
			selected[chosen.Signature] = *chosen
		}
	}

	out := make([]astindex.FunctionRecord, 0, len(selected))
	for _, r := range selected {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpanStart != out[j].SpanStart {
			return out[i].SpanStart < out[j].SpanStart
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// innermost orders candidates by span size, then start line.
func innermost(a, b *astindex.FunctionRecord) bool {
	if a.SpanSize() != b.SpanSize() {
		return a.SpanSize() < b.SpanSize()
	}
	return a.SpanStart < b.SpanStart
}
