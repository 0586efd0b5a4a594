package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/covgate/internal/config"
	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/demangle"
	"github.com/zjy-dev/covgate/internal/exec"
	"github.com/zjy-dev/covgate/internal/logger"
	"github.com/zjy-dev/covgate/internal/recorder"
	"github.com/zjy-dev/covgate/internal/testlist"
)

// NewMapCommand creates the "map" subcommand.
func NewMapCommand() *cobra.Command {
	var (
		buildDir string
		start    int
		end      int
		filter   string
		outDir   string
		gzipOut  bool
	)

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Record per-test function coverage into a shard.",
		Long: `Record which functions each test executes on an instrumented build.

Every test in the selected range runs alone: counters are zeroed, the
single ctest entry runs, and the coverage snapshot is exported and
attributed to that test. The result is written as
coverage_mapping_<START>_<END>.json, ready for "covgate merge".

Examples:
  # Map tests 1-500 from the instrumented build in ./build
  covgate map --build-dir build --start 1 --end 500

  # Only regression tests, compressed shard
  covgate map --build-dir build --start 1 --end 0 --filter regress --gzip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("build-dir") {
				buildDir = cfg.BuildDir
			}
			return runMap(cmd.Context(), cfg, buildDir, start, end, filter, outDir, gzipOut)
		},
	}

	cmd.Flags().StringVar(&buildDir, "build-dir", "build", "Instrumented CMake build directory")
	cmd.Flags().IntVar(&start, "start", 1, "First ctest number of the shard (1-based, inclusive)")
	cmd.Flags().IntVar(&end, "end", 0, "Last ctest number of the shard (0 = through the end)")
	cmd.Flags().StringVar(&filter, "filter", "", "Only tests whose name contains this substring")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory the shard file is written to")
	cmd.Flags().BoolVar(&gzipOut, "gzip", false, "Compress the shard with gzip")

	return cmd
}

func runMap(ctx context.Context, cfg config.Config, buildDir string, start, end int, filter, outDir string, gzipOut bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor := exec.NewCommandExecutor()

	tests, err := testlist.Discover(executor, cfg.Tools.Ctest, buildDir)
	if err != nil {
		return fmt.Errorf("failed to discover tests: %w", err)
	}
	logger.Infof("discovered %d tests", len(tests))

	if filter != "" {
		tests = testlist.Filter(tests, filter)
		logger.Infof("%d tests match filter %q", len(tests), filter)
	}
	if end == 0 && len(tests) > 0 {
		end = tests[len(tests)-1].Num
	}
	shardTests := testlist.Slice(tests, start, end)
	if len(shardTests) == 0 {
		return fmt.Errorf("no tests in range %d-%d", start, end)
	}
	logger.Infof("recording coverage for %d tests (%d-%d)", len(shardTests), start, end)

	rec := recorder.NewFastcovRecorder(
		executor,
		demangle.NewCxxFilt(executor, cfg.Tools.CxxFilt),
		recorder.Options{
			BuildDir:      buildDir,
			FastcovBinary: cfg.Tools.Fastcov,
			CtestBinary:   cfg.Tools.Ctest,
			GcovBinary:    cfg.Tools.Gcov,
			SourcePrefix:  cfg.SourcePrefix,
			Excludes:      cfg.Excludes,
			TestTimeout:   cfg.TestTimeout(),
		},
	)

	shard, stats, err := recorder.NewBuilder(rec).Build(ctx, shardTests)
	if err != nil {
		return err
	}

	name := covmap.ShardFileName(start, end)
	if gzipOut {
		name += ".gz"
	}
	outPath := filepath.Join(outDir, name)
	if err := shard.Save(outPath); err != nil {
		return err
	}

	logger.Infof("shard %s: %d tests processed, %d failed, %d functions",
		outPath, stats.Processed, stats.Failed, stats.Functions)
	return nil
}
