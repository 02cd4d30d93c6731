package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http", cfg.Suffix)
	assert.Equal(t, 3, cfg.RefParentTraversalDepth)
	assert.Equal(t, 50000, cfg.MaxComprehensionLength)
	assert.Equal(t, "console", cfg.Output)
	assert.False(t, cfg.GetNoColor())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suffix: smoke
ref_parent_traversal_depth: 1
no_color: true
fixtures:
  base_url: http://localhost:9000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", cfg.Suffix)
	assert.Equal(t, 1, cfg.RefParentTraversalDepth)
	assert.Equal(t, 50000, cfg.MaxComprehensionLength)
	assert.True(t, cfg.GetNoColor())
	assert.Equal(t, "http://localhost:9000", cfg.Fixtures["base_url"])
}

func TestFindAndLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Suffix)
}

func TestLoadRejectsBadLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_comprehension_length: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	nc := true
	base := Default()
	base.Fixtures = map[string]any{"a": 1, "b": 1}

	merged := base.Merge(&Config{
		Suffix:   "smoke",
		NoColor:  &nc,
		Fixtures: map[string]any{"b": 2},
	})

	assert.Equal(t, "smoke", merged.Suffix)
	assert.True(t, merged.GetNoColor())
	assert.Equal(t, 1, merged.Fixtures["a"])
	assert.Equal(t, 2, merged.Fixtures["b"])

	// base untouched
	assert.Equal(t, "http", base.Suffix)
	assert.Equal(t, 1, base.Fixtures["b"])
}
