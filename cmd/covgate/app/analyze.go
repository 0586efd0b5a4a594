package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/covgate/internal/analyze"
	"github.com/zjy-dev/covgate/internal/astindex"
	"github.com/zjy-dev/covgate/internal/compiledb"
	"github.com/zjy-dev/covgate/internal/config"
	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/demangle"
	"github.com/zjy-dev/covgate/internal/exec"
	"github.com/zjy-dev/covgate/internal/gitdiff"
	"github.com/zjy-dev/covgate/internal/logger"
	"github.com/zjy-dev/covgate/internal/report"
)

// analyzeParallelism bounds concurrent commit analyses; each one shells
// out to clang, which dominates the cost.
const analyzeParallelism = 4

// NewAnalyzeCommand creates the "analyze" subcommand.
func NewAnalyzeCommand() *cobra.Command {
	var (
		coverageMap string
		compileDB   string
		repoDir     string
		threshold   float64
		jsonOut     string
		noGate      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze SHA...",
		Short: "Check commits against the coverage mapping.",
		Long: `Analyze one or more commits against a merged coverage mapping.

For each commit the zero-context diff is intersected with the functions
clang finds in the touched files. Functions that merely moved are set
aside; for the rest the mapping answers which tests exercise them.
Root commits (no parent) are skipped with a warning. The command exits
nonzero when overall coverage falls below the threshold; --no-gate
turns that into a report-only run.

Known blind spot: functions the compiler fully inlined never appear in
the instrumentation data and report as uncovered.

Examples:
  covgate analyze --coverage-map coverage_mapping.json HEAD
  covgate analyze --threshold 85 abc1234 def5678
  covgate analyze --no-gate HEAD
  covgate analyze --json results.json $(git rev-list main..topic)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("coverage-map") {
				coverageMap = cfg.CoverageMap
			}
			if !cmd.Flags().Changed("compile-db") {
				compileDB = cfg.CompileDB
			}
			if !cmd.Flags().Changed("repo-dir") {
				repoDir = cfg.RepoDir
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Threshold
			}
			return runAnalyze(cmd.Context(), cfg, args, coverageMap, compileDB, repoDir, threshold, jsonOut, noGate)
		},
	}

	cmd.Flags().StringVar(&coverageMap, "coverage-map", covmap.MergedFileName, "Merged coverage mapping file")
	cmd.Flags().StringVar(&compileDB, "compile-db", "build/compile_commands.json", "compile_commands.json of the analyzed repo")
	cmd.Flags().StringVar(&repoDir, "repo-dir", ".", "Git repository to analyze")
	cmd.Flags().Float64Var(&threshold, "threshold", 80, "Coverage gate threshold in percent")
	cmd.Flags().StringVar(&jsonOut, "json", "", "Also write a JSON artifact to this path")
	cmd.Flags().BoolVar(&noGate, "no-gate", false, "Report coverage without failing on a missed threshold")

	return cmd
}

func runAnalyze(ctx context.Context, cfg config.Config, shas []string,
	coverageMap, compileDB, repoDir string, threshold float64, jsonOut string, noGate bool) error {

	cov, skipped, err := covmap.Load(coverageMap)
	if err != nil {
		return fmt.Errorf("failed to load coverage map: %w", err)
	}
	if skipped > 0 {
		logger.Warnf("coverage map: skipped %d malformed keys", skipped)
	}
	logger.Infof("coverage map: %d functions", cov.Len())

	db, err := compiledb.Load(compileDB, compiledb.FallbackOptions{
		Standard:    cfg.Fallback.Standard,
		IncludeDirs: cfg.Fallback.IncludeDirs,
		SystemDirs:  cfg.Fallback.SystemDirs,
		Defines:     cfg.Fallback.Defines,
	})
	if err != nil {
		return err
	}

	executor := exec.NewCommandExecutor()
	analyzer := analyze.NewAnalyzer(
		gitdiff.NewExtractor(executor, repoDir),
		astindex.NewIndexer(executor, db, demangle.NewCxxFilt(executor, cfg.Tools.CxxFilt), cfg.Tools.Clang),
		analyze.NewMatcher(cov),
	)

	// The coverage map and matcher tables are read-only from here on,
	// so commits can be analyzed in parallel.
	reports := make([]*analyze.CommitReport, len(shas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeParallelism)
	for i, sha := range shas {
		i, sha := i, sha
		g.Go(func() error {
			r, err := analyzer.AnalyzeCommit(gctx, sha)
			if errors.Is(err, gitdiff.ErrNoParent) {
				logger.Warnf("skipping root commit %s", sha)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", sha, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range reports {
		if r == nil {
			continue
		}
		if err := report.WriteCommit(os.Stdout, r); err != nil {
			return err
		}
		fmt.Println()
	}

	summary := analyze.Aggregate(reports)
	if err := report.WriteSummary(os.Stdout, summary); err != nil {
		return err
	}

	if jsonOut != "" {
		f, err := os.Create(jsonOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", jsonOut, err)
		}
		defer f.Close()
		if err := report.WriteJSON(f, reports); err != nil {
			return err
		}
		logger.Infof("wrote JSON artifact %s", jsonOut)
	}

	return gateResult(summary, threshold, noGate)
}

// gateResult enforces the coverage threshold unless the caller opted
// out with --no-gate.
func gateResult(summary analyze.Summary, threshold float64, noGate bool) error {
	if noGate || summary.Pass(threshold) {
		return nil
	}
	return &analyze.GateError{Summary: summary, Threshold: threshold}
}
