package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Engine.MaxParallelism)
	assert.Equal(t, "memory", cfg.State.Type)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9000
  read_timeout: 5s
engine:
  max_parallelism: 8
  clean_models: false
state:
  type: file
  base_dir: /tmp/fedflow-state
database:
  driver: postgres
  host: db.internal
  port: 5433
registry:
  heartbeat_interval: 30s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 8, cfg.Engine.MaxParallelism)
	assert.False(t, cfg.Engine.CleanModels)
	assert.Equal(t, "file", cfg.State.Type)
	assert.Equal(t, "/tmp/fedflow-state", cfg.State.BaseDir)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "stdout", cfg.Log.OutputPaths[0])
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o600))

	t.Setenv("FEDFLOW_SERVER_HTTP_PORT", "9100")
	t.Setenv("FEDFLOW_ENGINE_TASK_TIMEOUT", "90s")
	t.Setenv("FEDFLOW_ENGINE_CLEAN_MODELS", "false")
	t.Setenv("FEDFLOW_STATE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FEDFLOW_REGISTRY_DISPATCH_RPS", "2.5")
	t.Setenv("FEDFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/fedflow.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Engine.TaskTimeout)
	assert.False(t, cfg.Engine.CleanModels)
	assert.Equal(t, "redis.internal:6380", cfg.State.Redis.Addr)
	assert.Equal(t, 2.5, cfg.Registry.DispatchRPS)
	assert.Equal(t, []string{"stdout", "/var/log/fedflow.log"}, cfg.Log.OutputPaths)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "7070")
	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestValidatorHook(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(c *Config) error { called = true; return nil }).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad parallelism", func(c *Config) { c.Engine.MaxParallelism = -1 }, "max_parallelism"},
		{"bad store type", func(c *Config) { c.State.Type = "etcd" }, "state store type"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database driver"},
		{"bad heartbeat", func(c *Config) { c.Registry.HeartbeatInterval = 0 }, "heartbeat_interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errSub)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "db"}
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "fedflow.db"}
	assert.Equal(t, "fedflow.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}

func TestStateStoreConfigConversion(t *testing.T) {
	s := StateConfig{
		Type:    "redis",
		BaseDir: "/data",
		Redis:   RedisConfig{Addr: "r:6379", DB: 2, PoolSize: 5, KeyPrefix: "ff:"},
	}
	sc := s.StoreConfig()
	assert.Equal(t, "redis", string(sc.Type))
	assert.Equal(t, "/data", sc.BaseDir)
	assert.Equal(t, "r:6379", sc.Redis.Addr)
	assert.Equal(t, 2, sc.Redis.DB)
	assert.Equal(t, "ff:", sc.Redis.KeyPrefix)
}
