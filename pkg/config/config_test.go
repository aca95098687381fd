package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	t.Setenv("SUBSTRATE_URL", "")

	opts, err := ParseOptions(map[string]interface{}{"url": "ws://node:9944"})
	require.NoError(t, err)
	require.Equal(t, "ws://node:9944", opts.URL)
	require.Equal(t, DefaultTimeout, opts.TimeoutDuration())
	require.Equal(t, "decode", opts.Extrinsics)
	require.True(t, opts.MetricsEnabled())
	require.False(t, opts.Eager)

	opts, err = ParseOptions(map[string]interface{}{
		"url":        "http://node:9933",
		"timeout":    1500,
		"eager":      true,
		"metrics":    false,
		"extrinsics": "raw",
	})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, opts.TimeoutDuration())
	require.True(t, opts.Eager)
	require.False(t, opts.MetricsEnabled())
	require.Equal(t, "raw", opts.Extrinsics)

	opts, err = ParseOptions(map[string]interface{}{"url": "ws://x", "timeout": "2s"})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, opts.TimeoutDuration())
}

func TestParseOptionsErrors(t *testing.T) {
	t.Setenv("SUBSTRATE_URL", "")

	tests := []struct {
		name string
		in   map[string]interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"unknown key", map[string]interface{}{"url": "ws://x", "retries": 3}},
		{"bad policy", map[string]interface{}{"url": "ws://x", "extrinsics": "lazy"}},
		{"bad timeout", map[string]interface{}{"url": "ws://x", "timeout": "soon"}},
		{"negative timeout", map[string]interface{}{"url": "ws://x", "timeout": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions(tt.in)
			require.Error(t, err)
		})
	}
}

func TestParseOptionsEnvFallback(t *testing.T) {
	t.Setenv("SUBSTRATE_URL", "wss://rpc.example.org")
	opts, err := ParseOptions(nil)
	require.NoError(t, err)
	require.Equal(t, "wss://rpc.example.org", opts.URL)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@localhost/db")
	t.Setenv("SUBSTRATE_URL", "ws://127.0.0.1:9944")
	t.Setenv("SUBSTRATE_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("START_BLOCK", "1000")
	t.Setenv("CONFIRMATIONS", "")

	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:9944", c.Node.URL)
	require.Equal(t, 3*time.Second, c.Node.Timeout)
	require.Equal(t, "decode", c.Node.Extrinsics)
	require.Equal(t, 2, c.Redis.DB)
	require.Equal(t, "substrate:blocks", c.Redis.Stream.Key)
	require.Equal(t, int64(100000), c.Redis.Stream.MaxLen)
	require.Equal(t, uint64(1000), c.Sync.StartBlock)
	require.Equal(t, uint64(0), c.Sync.Confirmations)
	require.Equal(t, 256, c.Sync.MaxReorgDepth)
}

func TestFromEnvErrors(t *testing.T) {
	t.Setenv("PG_DSN", "")
	_, err := FromEnv()
	require.ErrorContains(t, err, "PG_DSN")

	t.Setenv("PG_DSN", "postgres://localhost/db")
	t.Setenv("SUBSTRATE_URL", "")
	_, err = FromEnv()
	require.ErrorContains(t, err, "SUBSTRATE_URL")

	t.Setenv("SUBSTRATE_URL", "ws://x")
	t.Setenv("START_BLOCK", "abc")
	_, err = FromEnv()
	require.ErrorContains(t, err, "START_BLOCK")
}

func TestParseFile(t *testing.T) {
	t.Setenv("NODE_HOST", "rpc.example.org")
	cfg, err := Parse([]byte(`
endpoints:
  - name: local
    url: ws://127.0.0.1:9944
  - name: remote
    url: wss://${NODE_HOST}
    timeout: 30s
defaults:
  extrinsics: raw
  workers: 8
`))
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 2)
	require.Equal(t, DefaultTimeout, cfg.Defaults.Timeout)
	require.Equal(t, "raw", cfg.Defaults.Extrinsics)
	require.Equal(t, 8, cfg.Defaults.Workers)
	require.Equal(t, 100, cfg.Defaults.Requests)

	local, ok := cfg.Lookup("local")
	require.True(t, ok)
	require.Equal(t, DefaultTimeout, local.Timeout)
	remote, ok := cfg.Lookup("remote")
	require.True(t, ok)
	require.Equal(t, "wss://rpc.example.org", remote.URL)
	require.Equal(t, 30*time.Second, remote.Timeout)
	_, ok = cfg.Lookup("missing")
	require.False(t, ok)
}

func TestParseFileErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no endpoints", "defaults: {}", "at least one endpoint"},
		{"bad scheme", "endpoints: [{name: a, url: 'ftp://x'}]", "invalid url scheme"},
		{"no host", "endpoints: [{name: a, url: 'ws://'}]", "missing scheme or host"},
		{"duplicate", "endpoints: [{name: a, url: 'ws://x'}, {name: a, url: 'ws://y'}]", "duplicate"},
		{"unnamed", "endpoints: [{url: 'ws://x'}]", "name is required"},
		{"bad policy", "endpoints: [{name: a, url: 'ws://x'}]\ndefaults: {extrinsics: lazy}", "extrinsics"},
		{"bad yaml", "endpoints: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorContains(t, err, tt.want)
		})
	}
}
