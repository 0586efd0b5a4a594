package app

import (
	"github.com/spf13/cobra"

	"github.com/zjy-dev/covgate/internal/config"
	"github.com/zjy-dev/covgate/internal/logger"
)

// NewCovgateCommand creates the root command for the covgate tool.
func NewCovgateCommand() *cobra.Command {
	var (
		configFile string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "covgate",
		Short: "Function-level test coverage mapping for C/C++ commits.",
		Long: `Covgate maps individual tests to the C/C++ functions they execute and
checks commits against that map.

The "map" command runs each test in isolation on an instrumented build
and records which functions it covers. "merge" combines the per-range
shards into one artifact. "analyze" diffs commits, finds the functions
they modified and reports which of them the existing test suite
exercises.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a covgate YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		setupLogging(cfg, logLevel)
		return nil
	}

	cmd.AddCommand(NewMapCommand())
	cmd.AddCommand(NewMergeCommand())
	cmd.AddCommand(NewAnalyzeCommand())

	return cmd
}

// loadConfig resolves the effective configuration: defaults, overlaid by
// configs/covgate.yaml when present, or by an explicitly named file.
func loadConfig(configFile string) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		if err := config.LoadFile(configFile, &cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	// The default search is best effort: commands run fine on defaults
	// plus flags alone.
	if err := config.Load("covgate", &cfg); err != nil {
		logger.Debugf("no config file loaded: %v", err)
		return config.Default(), nil
	}
	return cfg, nil
}

func setupLogging(cfg config.Config, override string) {
	level := cfg.Log.Level
	if override != "" {
		level = override
	}
	logger.Init(level)
	if cfg.Log.File != "" {
		logger.SetFile(logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
	}
}
