package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sharding:
  threshold: 500
ontology:
  cache:
    timeout:
      ms:
        normal: 60000
        batch: 600000
engine:
  url: IN_MEMORY
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ShardingThreshold)
	assert.Equal(t, 60*time.Second, cfg.CacheTimeoutNormal)
	assert.Equal(t, 600*time.Second, cfg.CacheTimeoutBatch)
	assert.Equal(t, EngineInMemory, cfg.EngineURL)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typegraph.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sharding]
threshold = 250

[ontology.cache.timeout.ms]
normal = 30000
batch = 300000

[engine]
url = "IN_MEMORY"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.ShardingThreshold)
	assert.Equal(t, 30*time.Second, cfg.CacheTimeoutNormal)
	assert.Equal(t, 300*time.Second, cfg.CacheTimeoutBatch)
	assert.Equal(t, EngineInMemory, cfg.EngineURL)
}

func TestLoadMissingMandatoryKeysErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sharding:
  threshold: 500
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("TYPEGRAPH_SHARDING_THRESHOLD", "100")
	t.Setenv("TYPEGRAPH_ONTOLOGY_CACHE_TIMEOUT_MS_NORMAL", "1000")
	t.Setenv("TYPEGRAPH_ONTOLOGY_CACHE_TIMEOUT_MS_BATCH", "2000")
	t.Setenv("TYPEGRAPH_ENGINE_URL", "IN_MEMORY")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.ShardingThreshold)
}
