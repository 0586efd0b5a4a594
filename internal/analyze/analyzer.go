package analyze

import (
	"context"
	"fmt"
	"sort"

	"github.com/zjy-dev/covgate/internal/astindex"
	"github.com/zjy-dev/covgate/internal/gitdiff"
	"github.com/zjy-dev/covgate/internal/identity"
	"github.com/zjy-dev/covgate/internal/logger"
)

// Status classifies a changed function in the final report.
type Status int

const (
	StatusUncovered Status = iota
	StatusCovered
	StatusPureMove
)

func (s Status) String() string {
	switch s {
	case StatusCovered:
		return "covered"
	case StatusPureMove:
		return "pure-move"
	default:
		return "uncovered"
	}
}

// ChangedFunction is one function a commit modified, with its verdict.
type ChangedFunction struct {
	Identity        identity.Identity
	QualifiedName   string
	Status          Status
	Tier            Tier
	Tests           []string
	FuzzyCandidates []string
}

// Totals counts the modified functions of one commit. Pure moves are
// reported separately and excluded from the denominator.
type Totals struct {
	Changed   int
	Covered   int
	Uncovered int
	PureMoves int
}

// CommitReport is the per-commit analysis result.
type CommitReport struct {
	Commit    gitdiff.CommitInfo
	Functions []ChangedFunction
	Totals    Totals
}

// Analyzer orchestrates diff extraction, function indexing, change
// selection, move classification and coverage matching for one commit.
type Analyzer struct {
	diffs   *gitdiff.Extractor
	indexer *astindex.Indexer
	matcher *Matcher
}

// NewAnalyzer wires the pipeline stages together. The matcher's
// coverage map is read-only, so one Analyzer may serve concurrent
// AnalyzeCommit calls.
func NewAnalyzer(diffs *gitdiff.Extractor, indexer *astindex.Indexer, matcher *Matcher) *Analyzer {
	return &Analyzer{diffs: diffs, indexer: indexer, matcher: matcher}
}

// fileContext holds both sides of one changed file.
type fileContext struct {
	changedLines  map[int]struct{}
	targetSource  string
	targetRecords []astindex.FunctionRecord
}

// AnalyzeCommit produces the coverage report for a single commit.
// A root commit surfaces gitdiff.ErrNoParent so the caller can apply
// its skip policy.
func (a *Analyzer) AnalyzeCommit(ctx context.Context, sha string) (*CommitReport, error) {
	info, err := a.diffs.Info(sha)
	if err != nil {
		return nil, err
	}

	parent, err := a.diffs.ParentSHA(sha)
	if err != nil {
		return nil, err
	}

	changed, err := a.diffs.Extract(sha)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(changed))
	for path := range changed {
		if gitdiff.IsSourceFile(path) {
			files = append(files, path)
		}
	}
	sort.Strings(files)

	// First pass: index both sides of every touched file. The parent
	// index spans all files so a function relocated across files is
	// still recognized as a move.
	parents := make(parentIndex)
	contexts := make([]fileContext, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Infof("analyzing %s (%d changed lines)", path, len(changed[path]))

		targetSource, ok, err := a.diffs.FileAt(sha, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // deleted in this commit
		}

		targetRecords, err := a.indexer.IndexSource(ctx, path, targetSource)
		if err != nil {
			logger.Warnf("skipping %s: %v", path, err)
			continue
		}

		if parentSource, ok, err := a.diffs.FileAt(parent, path); err != nil {
			return nil, err
		} else if ok {
			parentRecords, err := a.indexer.IndexSource(ctx, path, parentSource)
			if err != nil {
				logger.Warnf("no parent index for %s: %v", path, err)
			} else {
				parents.add(parentSource, parentRecords)
			}
		}

		contexts = append(contexts, fileContext{
			changedLines:  changed[path],
			targetSource:  targetSource,
			targetRecords: targetRecords,
		})
	}

	report := &CommitReport{Commit: info}
	for _, fc := range contexts {
		for _, rec := range SelectChanged(fc.changedLines, fc.targetRecords) {
			cf := ChangedFunction{
				Identity:      rec.Identity(),
				QualifiedName: rec.QualifiedName,
			}

			if isPureMove(rec, fc.targetSource, parents) {
				cf.Status = StatusPureMove
				report.Totals.PureMoves++
				report.Functions = append(report.Functions, cf)
				logger.Debugf("pure move: %s", cf.Identity.Key())
				continue
			}

			match := a.matcher.Match(cf.Identity)
			cf.Tier = match.Tier
			cf.Tests = match.Tests
			cf.FuzzyCandidates = match.FuzzyCandidates
			if match.Covered {
				cf.Status = StatusCovered
				report.Totals.Covered++
			} else {
				cf.Status = StatusUncovered
				report.Totals.Uncovered++
			}
			report.Totals.Changed++
			report.Functions = append(report.Functions, cf)
		}
	}

	logger.Infof("commit %.12s: %d changed functions, %d covered, %d uncovered, %d pure moves",
		info.SHA, report.Totals.Changed, report.Totals.Covered,
		report.Totals.Uncovered, report.Totals.PureMoves)
	return report, nil
}

// Summary aggregates per-commit totals across a batch.
type Summary struct {
	Commits         int
	TotalFunctions  int
	WithCoverage    int
	WithoutCoverage int
}

// Aggregate folds reports into cross-commit totals.
func Aggregate(reports []*CommitReport) Summary {
	var s Summary
	for _, r := range reports {
		if r == nil {
			continue
		}
		s.Commits++
		s.TotalFunctions += r.Totals.Changed
		s.WithCoverage += r.Totals.Covered
		s.WithoutCoverage += r.Totals.Uncovered
	}
	return s
}

// OverallCoverage returns the covered percentage, 0 for an empty batch.
func (s Summary) OverallCoverage() float64 {
	if s.TotalFunctions == 0 {
		return 0
	}
	return float64(s.WithCoverage) / float64(s.TotalFunctions) * 100
}

// Pass reports whether the batch meets the coverage threshold.
func (s Summary) Pass(threshold float64) bool {
	return s.OverallCoverage() >= threshold
}

// GateError is returned by callers that enforce the threshold.
type GateError struct {
	Summary   Summary
	Threshold float64
}

func (e *GateError) Error() string {
	return fmt.Sprintf("coverage %.1f%% below threshold %.1f%%",
		e.Summary.OverallCoverage(), e.Threshold)
}
