package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan-api/internal/config"
)

func TestOpenWithoutExternalDeps(t *testing.T) {
	cfg := &config.Config{PGEnable: false, RedisEnable: false, CacheTTL: time.Minute}
	env, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.DB)
	assert.Nil(t, env.Store)
	assert.Nil(t, env.Redis)
	require.NotNil(t, env.Cache)

	env.Cache.Set(context.Background(), "k", []byte("v"))
	v, ok := env.Cache.Get(context.Background(), "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestModelsRegistersEveryRole(t *testing.T) {
	cfg := &config.Config{Models: map[string]config.ModelConfig{
		config.RoleRoad: {Role: config.RoleRoad, Name: "r", URL: "http://127.0.0.1:1", InputSize: 8, Threshold: 0.5},
		config.RoleTree: {Role: config.RoleTree, Name: "t", URL: "http://127.0.0.1:1", InputSize: 8, Threshold: 0.5},
	}}
	m := Models(cfg)
	assert.Equal(t, []string{config.RoleRoad, config.RoleTree}, m.Roles())
}
