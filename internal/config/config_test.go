package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("MODEL_SERVER_URL", "")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "uploads", c.UploadFolder)
	assert.Equal(t, 24*time.Hour, c.CacheTTL)
	road := c.Models[RoleRoad]
	assert.Equal(t, "road_unet_resnet", road.Name)
	assert.Equal(t, "http://localhost:8501", road.URL)
	assert.Equal(t, 256, road.InputSize)
	assert.InDelta(t, 0.5, road.Threshold, 1e-9)
	assert.Equal(t, "tree_unet_resnet_finetune", c.Models[RoleTree].Name)
	assert.Equal(t, 60*time.Second, road.Timeout())
}

func TestLoadModelsFileOverrides(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "models.yaml")
	yml := `models:
  - role: tree
    name: trees_v2
    url: http://trees:8501/
    input_size: 512
    threshold: 0.4
`
	require.NoError(t, os.WriteFile(p, []byte(yml), 0o644))
	t.Setenv("MODELS_FILE", p)
	c, err := Load()
	require.NoError(t, err)
	tree := c.Models[RoleTree]
	assert.Equal(t, "trees_v2", tree.Name)
	assert.Equal(t, "http://trees:8501", tree.URL)
	assert.Equal(t, 512, tree.InputSize)
	assert.InDelta(t, 0.4, tree.Threshold, 1e-9)
	assert.Equal(t, "road_unet_resnet", c.Models[RoleRoad].Name)
}

func TestLoadModelsFileUnknownRole(t *testing.T) {
	p := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(p, []byte("models:\n  - role: water\n    name: x\n"), 0o644))
	t.Setenv("MODELS_FILE", p)
	_, err := Load()
	assert.ErrorContains(t, err, "unknown role")
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("MODEL_THRESHOLD", "1.5")
	_, err := Load()
	assert.ErrorContains(t, err, "threshold")
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("RETENTION_DAYS", "0")
	t.Setenv("RETENTION_HOUR", "0")
	t.Setenv("CACHE_TTL_S", "0")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, c.RetentionDays)
	assert.Equal(t, 0, c.RetentionHour)
	assert.Equal(t, time.Duration(0), c.CacheTTL)
}

func TestLoadNegativeFallsBackToDefault(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("RETENTION_HOUR", "-1")
	t.Setenv("CACHE_TTL_S", "-5")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, c.RetentionHour)
	assert.Equal(t, 24*time.Hour, c.CacheTTL)
}

func TestLoadRejectsRetentionHourOutOfRange(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("RETENTION_HOUR", "24")
	_, err := Load()
	assert.ErrorContains(t, err, "RETENTION_HOUR")
}
