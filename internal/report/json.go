package report

import (
	"encoding/json"
	"io"
	"math"

	"github.com/zjy-dev/covgate/internal/analyze"
)

// JSONReport is the top-level batch artifact structure.
type JSONReport struct {
	Version string       `json:"version"`
	Commits []CommitJSON `json:"commits"`
	Summary SummaryJSON  `json:"summary"`
}

// CommitJSON is one commit's result in the artifact.
type CommitJSON struct {
	SHA       string         `json:"sha"`
	Author    string         `json:"author"`
	Subject   string         `json:"subject"`
	Functions []FunctionJSON `json:"functions"`
	Changed   int            `json:"changed"`
	Covered   int            `json:"covered"`
	Uncovered int            `json:"uncovered"`
	PureMoves int            `json:"pure_moves"`
}

// FunctionJSON is one changed function's verdict.
type FunctionJSON struct {
	Key             string   `json:"key"`
	QualifiedName   string   `json:"qualified_name"`
	Status          string   `json:"status"`
	Tier            string   `json:"tier,omitempty"`
	Tests           []string `json:"tests,omitempty"`
	FuzzyCandidates []string `json:"fuzzy_candidates,omitempty"`
}

// SummaryJSON mirrors analyze.Summary with the derived percentage.
type SummaryJSON struct {
	Commits         int     `json:"commits"`
	TotalFunctions  int     `json:"total_functions"`
	WithCoverage    int     `json:"with_coverage"`
	WithoutCoverage int     `json:"without_coverage"`
	OverallCoverage float64 `json:"overall_coverage"`
}

// artifactVersion is bumped when the JSON shape changes incompatibly.
const artifactVersion = "1.0.0"

// WriteJSON writes the batch artifact for the given reports.
func WriteJSON(w io.Writer, reports []*analyze.CommitReport) error {
	out := JSONReport{
		Version: artifactVersion,
		Commits: make([]CommitJSON, 0, len(reports)),
	}

	for _, r := range reports {
		if r == nil {
			continue
		}
		cj := CommitJSON{
			SHA:       r.Commit.SHA,
			Author:    r.Commit.Author,
			Subject:   r.Commit.Subject,
			Functions: make([]FunctionJSON, 0, len(r.Functions)),
			Changed:   r.Totals.Changed,
			Covered:   r.Totals.Covered,
			Uncovered: r.Totals.Uncovered,
			PureMoves: r.Totals.PureMoves,
		}
		for _, fn := range r.Functions {
			fj := FunctionJSON{
				Key:             fn.Identity.Key(),
				QualifiedName:   fn.QualifiedName,
				Status:          fn.Status.String(),
				Tests:           fn.Tests,
				FuzzyCandidates: fn.FuzzyCandidates,
			}
			if fn.Status == analyze.StatusCovered {
				fj.Tier = fn.Tier.String()
			}
			cj.Functions = append(cj.Functions, fj)
		}
		out.Commits = append(out.Commits, cj)
	}

	s := analyze.Aggregate(reports)
	out.Summary = SummaryJSON{
		Commits:         s.Commits,
		TotalFunctions:  s.TotalFunctions,
		WithCoverage:    s.WithCoverage,
		WithoutCoverage: s.WithoutCoverage,
		OverallCoverage: math.Round(s.OverallCoverage()*10) / 10,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
