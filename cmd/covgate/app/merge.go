package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/logger"
)

// NewMergeCommand creates the "merge" subcommand.
func NewMergeCommand() *cobra.Command {
	var (
		out     string
		gzipOut bool
	)

	cmd := &cobra.Command{
		Use:   "merge SHARD...",
		Short: "Merge coverage shards into one mapping artifact.",
		Long: `Merge per-range coverage shards into a single coverage mapping.

Merging is a set union per function key, so shard order does not matter
and re-merging an already merged file is harmless.

Examples:
  covgate merge coverage_mapping_1_500.json coverage_mapping_501_1000.json
  covgate merge --gzip --out coverage_mapping.json shards/*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(args, out, gzipOut)
		},
	}

	cmd.Flags().StringVar(&out, "out", covmap.MergedFileName, "Output file for the merged mapping")
	cmd.Flags().BoolVar(&gzipOut, "gzip", false, "Compress the merged mapping with gzip")

	return cmd
}

func runMerge(shardPaths []string, out string, gzipOut bool) error {
	// Map.Merge locks internally, so shards can be loaded and folded in
	// concurrently.
	merged := covmap.New()

	var g errgroup.Group
	for _, path := range shardPaths {
		path := path
		g.Go(func() error {
			shard, skipped, err := covmap.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load shard %s: %w", path, err)
			}
			if skipped > 0 {
				logger.Warnf("shard %s: skipped %d malformed keys", path, skipped)
			}
			logger.Infof("shard %s: %d functions", path, shard.Len())

			merged.Merge(shard)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if gzipOut {
		out += ".gz"
	}
	if err := merged.Save(out); err != nil {
		return err
	}
	logger.Infof("merged %d shards into %s (%d functions)", len(shardPaths), out, merged.Len())
	return nil
}
