package cache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miketere/businesscard-sub001/internal/pkg/env"
)

func withEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = vars
	t.Cleanup(func() {
		env.Env = prev
		Close()
	})
}

func TestSetupCache_WithoutHost(t *testing.T) {
	withEnv(t, map[string]string{})
	t.Setenv("CACHE_HOST", "")

	require.NoError(t, SetupCache())
	assert.False(t, Enabled())
	assert.Nil(t, GetClient())
	assert.Nil(t, LimiterStorage())
}

func TestSetupCache_Redis(t *testing.T) {
	srv := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(srv.Addr())
	withEnv(t, map[string]string{"CACHE_HOST": host, "CACHE_PORT": port})

	require.NoError(t, SetupCache())
	require.True(t, Enabled())
	require.NoError(t, GetClient().Set(context.Background(), "k", "v", time.Minute).Err())
	assert.True(t, srv.Exists("k"))

	storage := LimiterStorage()
	require.NotNil(t, storage)
	require.NoError(t, storage.Set("hits", []byte("1"), time.Minute))
	got, err := storage.Get("hits")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	assert.True(t, srv.DB(limiterDB).Exists("hits"))
}

func TestSetupCache_Unreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(srv.Addr())
	srv.Close()
	withEnv(t, map[string]string{"CACHE_HOST": host, "CACHE_PORT": port})

	assert.Error(t, SetupCache())
	assert.False(t, Enabled())
}
