package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.LeaseGrace)
	assert.Equal(t, "*", cfg.CORSOrigins)
	assert.Empty(t, cfg.RedisURI)
}

func TestLoadServer_Env(t *testing.T) {
	t.Setenv("LOTO_ADDR", ":9000")
	t.Setenv("LOTO_REDIS_URI", "redis://cache:6379/1")
	t.Setenv("LOTO_LEASE_GRACE", "45s")
	t.Setenv("LOTO_PUBLIC_URL", "https://loto.example/join")
	t.Setenv("LOTO_JWT_SECRET", "0123456789abcdef0123")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURI)
	assert.Equal(t, 45*time.Second, cfg.LeaseGrace)
	assert.Equal(t, "https://loto.example/join", cfg.PublicURL)
}

func TestLoadServer_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"short secret", "LOTO_JWT_SECRET", "short"},
		{"bad public url", "LOTO_PUBLIC_URL", "not a url"},
		{"zero grace", "LOTO_LEASE_GRACE", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadServer()
			assert.Error(t, err)
		})
	}
}

func TestBindClientFlags_EnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("LOTO_NAME", "Lan")
	t.Setenv("LOTO_AUTO_DRAW", "5s")
	t.Setenv("LOTO_RELAY_URL", "ws://env/v1/peers")

	var cfg Client
	fs := pflag.NewFlagSet("loto", pflag.ContinueOnError)
	BindClientFlags(fs, &cfg)

	assert.Equal(t, "Lan", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.AutoDraw)
	assert.Equal(t, 15*time.Second, cfg.HealthInterval)

	require.NoError(t, fs.Parse([]string{"--relay-url", "ws://flag/v1/peers"}))
	assert.Equal(t, "ws://flag/v1/peers", cfg.RelayURL)
	assert.NoError(t, cfg.Validate())
}

func TestClientValidate(t *testing.T) {
	cfg := Client{RelayURL: "ws://relay/v1/peers", HealthInterval: time.Second}
	assert.NoError(t, cfg.Validate())

	cfg.AutoDraw = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = Client{RelayURL: "", HealthInterval: time.Second}
	assert.Error(t, cfg.Validate())
}
