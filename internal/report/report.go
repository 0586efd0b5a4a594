// Package report renders analysis results for humans and machines: a
// per-commit table, fixed-format statistics lines that CI scripts grep
// for, and a JSON artifact with a published schema.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/zjy-dev/covgate/internal/analyze"
)

// WriteCommit renders one commit's result as a table followed by the
// machine-readable statistics line.
func WriteCommit(w io.Writer, r *analyze.CommitReport) error {
	if _, err := fmt.Fprintf(w, "commit %s\nauthor  %s\n%s\n\n",
		r.Commit.SHA, r.Commit.Author, r.Commit.Subject); err != nil {
		return err
	}

	if len(r.Functions) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Function", "Status", "Tier", "Tests"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnAlignment([]int{
			tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
			tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT,
		})
		for _, fn := range r.Functions {
			tier := ""
			if fn.Status == analyze.StatusCovered {
				tier = fn.Tier.String()
			}
			table.Append([]string{
				fn.Identity.PathlessKey(),
				fn.Status.String(),
				tier,
				strconv.Itoa(len(fn.Tests)),
			})
		}
		table.Render()
		fmt.Fprintln(w)

		for _, fn := range r.Functions {
			for _, cand := range fn.FuzzyCandidates {
				fmt.Fprintf(w, "  candidate (not counted): %s ~ %s\n",
					fn.Identity.PathlessKey(), cand)
			}
		}
	}

	_, err := fmt.Fprintf(w, "Changed functions: %d; with coverage: %d; without: %d;\n",
		r.Totals.Changed, r.Totals.Covered, r.Totals.Uncovered)
	return err
}

// WriteSummary renders the cross-commit statistics line.
func WriteSummary(w io.Writer, s analyze.Summary) error {
	_, err := fmt.Fprintf(w,
		"commits=%d; total_functions=%d; with_coverage=%d; without_coverage=%d; overall_coverage=%.1f%%\n",
		s.Commits, s.TotalFunctions, s.WithCoverage, s.WithoutCoverage, s.OverallCoverage())
	return err
}
