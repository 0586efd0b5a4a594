// Package config loads covgate's YAML configuration. Command-line flags
// override anything set here; the file exists so CI pipelines can pin
// toolchain paths and thresholds without repeating flags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ToolsConfig names the external binaries the pipeline shells out to.
type ToolsConfig struct {
	Fastcov string `mapstructure:"fastcov"`
	Ctest   string `mapstructure:"ctest"`
	Gcov    string `mapstructure:"gcov"`
	Clang   string `mapstructure:"clang"`
	CxxFilt string `mapstructure:"cxxfilt"`
}

// FallbackConfig shapes the degraded clang arguments used when a file
// has no compilation database entry.
type FallbackConfig struct {
	Standard    string   `mapstructure:"standard"`
	IncludeDirs []string `mapstructure:"include_dirs"`
	SystemDirs  []string `mapstructure:"system_dirs"`
	Defines     []string `mapstructure:"defines"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the root configuration for all covgate commands.
type Config struct {
	BuildDir     string   `mapstructure:"build_dir"`
	RepoDir      string   `mapstructure:"repo_dir"`
	SourcePrefix string   `mapstructure:"source_prefix"`
	Excludes     []string `mapstructure:"excludes"`

	CoverageMap string  `mapstructure:"coverage_map"`
	CompileDB   string  `mapstructure:"compile_db"`
	Threshold   float64 `mapstructure:"threshold"`

	TestTimeoutSeconds int `mapstructure:"test_timeout_seconds"`

	Tools    ToolsConfig    `mapstructure:"tools"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Log      LogConfig      `mapstructure:"log"`
}

// TestTimeout returns the per-test timeout as a duration.
func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		BuildDir:           "build",
		RepoDir:            ".",
		SourcePrefix:       "src/",
		CoverageMap:        "coverage_mapping.json",
		CompileDB:          "build/compile_commands.json",
		Threshold:          80,
		TestTimeoutSeconds: 300,
		Tools: ToolsConfig{
			Fastcov: "fastcov",
			Ctest:   "ctest",
			Gcov:    "gcov",
			Clang:   "clang++",
			CxxFilt: "c++filt",
		},
		Fallback: FallbackConfig{Standard: "c++17"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads configs/<name>.yaml into result, searching upward so tests
// running inside packages still find the directory.
func Load(configName string, result interface{}) error {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}

// LoadFile reads an explicitly named configuration file into result.
func LoadFile(path string, result interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}
