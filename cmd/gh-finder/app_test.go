package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vilaca/gh-finder/internal/config"
	"github.com/vilaca/gh-finder/internal/history"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestOpenStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "memory", mutate: func(c *config.Config) { c.History.Backend = config.BackendMemory }},
		{name: "file", mutate: func(c *config.Config) {
			c.History.Backend = config.BackendFile
			c.History.FilePath = t.TempDir() + "/history.json"
		}},
		{name: "redis", mutate: func(c *config.Config) {
			c.History.Backend = config.BackendRedis
			c.Redis.Addr = mr.Addr()
		}},
		{name: "redis unreachable", mutate: func(c *config.Config) {
			c.History.Backend = config.BackendRedis
			c.Redis.Addr = "127.0.0.1:1"
		}, wantErr: true},
		{name: "unknown", mutate: func(c *config.Config) { c.History.Backend = "mongo" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			store, closeStore, err := openStore(context.Background(), cfg, nil)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeStore()

			recent, err := history.LoadRecent(context.Background(), history.RecentConfig{Store: store})
			require.NoError(t, err)
			require.NoError(t, recent.Add(context.Background(), "octocat"))
			raw, found, err := store.Get(context.Background(), "recentUsers")
			require.NoError(t, err)
			assert.True(t, found)
			assert.JSONEq(t, `["octocat"]`, raw)
		})
	}
}
