// Package gitdiff extracts per-file changed line numbers from a commit's
// zero-context diff. Only the new side of the diff is tracked: a changed
// line number here is a line in the file as it exists at the target
// commit, which is the coordinate system function spans are indexed in.
package gitdiff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zjy-dev/covgate/internal/exec"
)

// ErrNoParent marks a root commit. There is no parent to diff against, so
// the caller decides the policy (the analyzer skips such commits).
var ErrNoParent = errors.New("commit has no parent")

// ChangedLineSet maps a repository-relative file path to the set of
// new-side line numbers touched by a commit.
type ChangedLineSet map[string]map[int]struct{}

// Contains reports whether the given file/line pair was changed.
func (c ChangedLineSet) Contains(path string, line int) bool {
	_, ok := c[path][line]
	return ok
}

// sourceExtensions are the file suffixes worth indexing for functions.
var sourceExtensions = []string{".cpp", ".cc", ".c", ".h", ".hpp"}

// IsSourceFile reports whether a path is a C/C++ translation unit or
// header. Build scripts, docs and test vectors in a diff are ignored.
func IsSourceFile(path string) bool {
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// CommitInfo carries the commit metadata shown in per-commit reports.
type CommitInfo struct {
	SHA     string
	Author  string
	Subject string
}

// Extractor reads diffs and blobs out of a git repository without
// checking anything out.
type Extractor struct {
	executor exec.Executor
	repoDir  string
}

// NewExtractor creates an extractor over the repository at repoDir.
func NewExtractor(executor exec.Executor, repoDir string) *Extractor {
	return &Extractor{executor: executor, repoDir: repoDir}
}

// ParentSHA resolves the commit's first parent. A merge commit is diffed
// against its first parent only; a root commit yields ErrNoParent.
func (e *Extractor) ParentSHA(sha string) (string, error) {
	result, err := e.executor.RunInDir(e.repoDir, "git", "rev-list", "--parents", "-n", "1", sha)
	if err != nil {
		return "", fmt.Errorf("failed to resolve parents of %s: %w", sha, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git rev-list exited %d for %s: %s",
			result.ExitCode, sha, strings.TrimSpace(result.Stderr))
	}
	fields := strings.Fields(result.Stdout)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: %s", ErrNoParent, sha)
	}
	return fields[1], nil
}

// Extract parses the commit's zero-context diff into a ChangedLineSet.
func (e *Extractor) Extract(sha string) (ChangedLineSet, error) {
	if _, err := e.ParentSHA(sha); err != nil {
		return nil, err
	}
	result, err := e.executor.RunInDir(e.repoDir, "git", "show", "-U0", "--no-color", sha)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", sha, err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("git show exited %d for %s: %s",
			result.ExitCode, sha, strings.TrimSpace(result.Stderr))
	}
	return ParseUnifiedDiff(result.Stdout), nil
}

// FileAt returns the contents of path at the given revision. The second
// return is false when the file does not exist there (added or deleted
// files have only one side).
func (e *Extractor) FileAt(rev, path string) (string, bool, error) {
	result, err := e.executor.RunInDir(e.repoDir, "git", "show", rev+":"+path)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s at %s: %w", path, rev, err)
	}
	if result.ExitCode != 0 {
		return "", false, nil
	}
	return result.Stdout, true, nil
}

// Info reads the commit metadata used in report headers.
func (e *Extractor) Info(sha string) (CommitInfo, error) {
	result, err := e.executor.RunInDir(e.repoDir, "git", "show", "-s", "--format=%H%x00%an%x00%s", sha)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("failed to read commit %s: %w", sha, err)
	}
	if result.ExitCode != 0 {
		return CommitInfo{}, fmt.Errorf("git show exited %d for %s: %s",
			result.ExitCode, sha, strings.TrimSpace(result.Stderr))
	}
	parts := strings.SplitN(strings.TrimRight(result.Stdout, "\n"), "\x00", 3)
	if len(parts) != 3 {
		return CommitInfo{}, fmt.Errorf("unexpected git show output for %s", sha)
	}
	return CommitInfo{SHA: parts[0], Author: parts[1], Subject: parts[2]}, nil
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// ParseUnifiedDiff walks a -U0 unified diff and records the new-side line
// number of every added line. The cursor starts at the hunk's new-side
// origin; an added line records the cursor then advances it, a context
// line advances without recording, and a removed line leaves the cursor
// alone because it has no new-side position.
func ParseUnifiedDiff(text string) ChangedLineSet {
	changed := make(ChangedLineSet)

	var currentFile string
	inHunk := false
	cursor := 0

	for _, raw := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(raw, "diff --git "):
			currentFile = ""
			inHunk = false
		case strings.HasPrefix(raw, "+++ b/"):
			currentFile = raw[len("+++ b/"):]
			if _, ok := changed[currentFile]; !ok {
				changed[currentFile] = make(map[int]struct{})
			}
		case strings.HasPrefix(raw, "@@ "):
			m := hunkHeaderRe.FindStringSubmatch(raw)
			if currentFile != "" && m != nil {
				cursor, _ = strconv.Atoi(m[1])
				inHunk = true
			} else {
				inHunk = false
			}
		default:
			if !inHunk || currentFile == "" {
				continue
			}
			switch {
			case strings.HasPrefix(raw, "+"):
				changed[currentFile][cursor] = struct{}{}
				cursor++
			case strings.HasPrefix(raw, "-"):
				// old-side only
			default:
				cursor++
			}
		}
	}

	for path, lines := range changed {
		if len(lines) == 0 {
			delete(changed, path)
		}
	}
	return changed
}
