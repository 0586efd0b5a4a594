package recorder

import (
	"context"
	"errors"

	"github.com/zjy-dev/covgate/internal/covmap"
	"github.com/zjy-dev/covgate/internal/logger"
	"github.com/zjy-dev/covgate/internal/testlist"
)

// BuildStats summarizes one shard build.
type BuildStats struct {
	Processed int // tests that produced a report
	Failed    int // tests whose coverage extraction failed
	Functions int // distinct function identities in the shard
}

// Builder drives a Recorder across a slice of the test list and
// accumulates the results into one coverage map shard.
type Builder struct {
	recorder Recorder
}

// NewBuilder creates a shard builder over the given recorder.
func NewBuilder(recorder Recorder) *Builder {
	return &Builder{recorder: recorder}
}

// Build records coverage for every test in order and returns the shard.
// Individual test failures are skipped; a counter-reset failure aborts
// the shard because its results could no longer be trusted.
func (b *Builder) Build(ctx context.Context, tests []testlist.Test) (*covmap.Map, BuildStats, error) {
	shard := covmap.New()
	stats := BuildStats{}

	for i, test := range tests {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		logger.Infof("test %d/%d (ctest #%d): %s", i+1, len(tests), test.Num, test.Name)

		hits, err := b.recorder.Record(ctx, test)
		if err != nil {
			var resetErr *CounterResetError
			if errors.As(err, &resetErr) {
				return nil, stats, err
			}
			logger.Warnf("skipping test %q: %v", test.Name, err)
			stats.Failed++
			continue
		}

		for id := range hits {
			shard.Add(id, test.Name)
		}
		stats.Processed++
		logger.Debugf("test %q covered %d functions", test.Name, len(hits))
	}

	stats.Functions = shard.Len()
	return shard, stats, nil
}
