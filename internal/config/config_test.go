package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func parse(t *testing.T, args ...string) Config {
	t.Helper()

	var cfg Config
	cmd := &cli.Command{
		Name:  "pairpad",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg = FromCommand(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"pairpad"}, args...)))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parse(t)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllow)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.PersistInterval)
	assert.Equal(t, 256, cfg.SendQueue)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestEnvAndFlags(t *testing.T) {
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("CORS_ALLOW", "http://a.test, http://b.test")

	cfg := parse(t, "--send-queue", "8", "--persist-interval", "1s")

	assert.Equal(t, "redis", cfg.StoreDriver)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllow)
	assert.Equal(t, 8, cfg.SendQueue)
	assert.Equal(t, time.Second, cfg.PersistInterval)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := parse(t)

	bad := cfg
	bad.StoreDriver = "mongo"
	assert.ErrorContains(t, bad.Validate(), "unknown store driver")

	bad = cfg
	bad.StoreDriver = "postgres"
	assert.ErrorContains(t, bad.Validate(), "pg-url")

	bad = cfg
	bad.SendQueue = 0
	bad.PersistInterval = 0
	err := bad.Validate()
	assert.ErrorContains(t, err, "send-queue")
	assert.ErrorContains(t, err, "persist-interval")
}
