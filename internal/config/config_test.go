package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
build_dir: /ci/build
repo_dir: /ci/repo
source_prefix: src/
threshold: 85.5
test_timeout_seconds: 120
excludes:
  - /deps/
  - CMakeFiles/
tools:
  fastcov: /opt/fastcov/fastcov
  clang: clang++-17
fallback:
  standard: c++20
  include_dirs: [./include, ./build/include]
  defines: [CVC5_ASSERTIONS]
log:
  level: debug
  file: /var/log/covgate.log
  max_size_mb: 20
`), 0644))

	cfg := Default()
	require.NoError(t, LoadFile(path, &cfg))

	assert.Equal(t, "/ci/build", cfg.BuildDir)
	assert.Equal(t, "/ci/repo", cfg.RepoDir)
	assert.Equal(t, 85.5, cfg.Threshold)
	assert.Equal(t, 2*time.Minute, cfg.TestTimeout())
	assert.Equal(t, []string{"/deps/", "CMakeFiles/"}, cfg.Excludes)
	assert.Equal(t, "/opt/fastcov/fastcov", cfg.Tools.Fastcov)
	assert.Equal(t, "clang++-17", cfg.Tools.Clang)
	assert.Equal(t, "c++20", cfg.Fallback.Standard)
	assert.Equal(t, []string{"./include", "./build/include"}, cfg.Fallback.IncludeDirs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Log.MaxSizeMB)

	// Untouched keys keep their defaults.
	assert.Equal(t, "ctest", cfg.Tools.Ctest)
	assert.Equal(t, "coverage_mapping.json", cfg.CoverageMap)
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := Default()
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float64(80), cfg.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.TestTimeout())
	assert.Equal(t, "c++filt", cfg.Tools.CxxFilt)
	assert.Equal(t, "c++17", cfg.Fallback.Standard)
}
