package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mundrapranay/oblivkv/internal/backend"
	"github.com/mundrapranay/oblivkv/internal/proxy"
)

const testSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "proxy.yaml", `
listen_addr: 127.0.0.1:9000
cache_capacity: 10
batch_size: 20
dummy_fill_count: 5
dummy_pool_size: 40
round_timeout: 250ms
write_timeout: 2s
secret: `+testSecret+`
value_pad_size: 128
backend:
  kind: redis
  address: localhost:6379
  db: 2
ingress:
  max_ops: 50
  rate: 10
  burst: 5
  max_wait: 100ms
log:
  level: debug
  json: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.RoundTimeout)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, backend.Options{Kind: "redis", Address: "localhost:6379", DB: 2}, cfg.Backend)
	assert.Equal(t, 50, cfg.Ingress.MaxOps)
	assert.Equal(t, 10.0, cfg.Ingress.Rate)
	assert.Equal(t, 5, cfg.Ingress.Burst)
	assert.Equal(t, 100*time.Millisecond, cfg.Ingress.MaxWait)
	assert.Equal(t, LogConfig{Level: "debug", JSON: true}, cfg.Log)

	pc, err := cfg.Proxy()
	require.NoError(t, err)
	assert.Equal(t, 10, pc.CacheCapacity)
	assert.Equal(t, 20, pc.BatchSize)
	assert.Equal(t, 5, pc.DummyFillCount)
	assert.Equal(t, 40, pc.DummyPoolSize)
	assert.Equal(t, 128, pc.ValuePadSize)
	assert.Len(t, pc.Secret, 32)
	assert.Equal(t, byte(0x1f), pc.Secret[31])
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeFile(t, "proxy.yaml", "secret: "+testSecret+"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	def := proxy.DefaultConfig()
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, def.BatchSize, cfg.BatchSize)
	assert.Equal(t, def.DummyFillCount, cfg.DummyFillCount)
	assert.Equal(t, def.DummyPoolSize, cfg.DummyPoolSize)
	assert.Equal(t, def.CacheCapacity, cfg.CacheCapacity)
	assert.Equal(t, def.RoundTimeout, cfg.RoundTimeout)
	assert.Equal(t, backend.KindMemory, cfg.Backend.Kind)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "batch_size: [1, 2"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "nosecret.yaml", "batch_size: 50\n"))
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = LoadConfig(writeFile(t, "hex.yaml", "secret: not-hex\n"))
	assert.ErrorContains(t, err, "hex")

	_, err = LoadConfig(writeFile(t, "short.yaml", "secret: abcd\n"))
	assert.ErrorIs(t, err, proxy.ErrInvalidConfig)

	_, err = LoadConfig(writeFile(t, "fill.yaml", "secret: "+testSecret+"\nbatch_size: 10\ndummy_fill_count: 6\n"))
	assert.ErrorIs(t, err, proxy.ErrInvalidConfig)

	_, err = LoadConfig(writeFile(t, "dur.yaml", "secret: "+testSecret+"\nround_timeout: soon\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "ops.yaml", "secret: "+testSecret+"\ningress:\n  max_ops: -1\n"))
	assert.Error(t, err)
}

func TestLoadSecret_FileWins(t *testing.T) {
	other := strings.Repeat("ff", 32)
	cfg := Default()
	cfg.Secret = testSecret
	cfg.SecretFile = writeFile(t, "secret", other+"\n")

	secret, err := cfg.LoadSecret()
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), secret[0])
	assert.Len(t, secret, 32)

	cfg.SecretFile = filepath.Join(t.TempDir(), "absent")
	_, err = cfg.LoadSecret()
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Secret = testSecret
	cfg.RoundTimeout = 1500 * time.Millisecond
	cfg.Backend = backend.Options{Kind: backend.KindLevelDB, Path: "/var/lib/oblivkv"}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(&cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")

	logger, closer, err := NewLogger("oblivkv", LogConfig{Level: "warn", File: path, JSON: true})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("round degraded", "round", 7)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "round degraded", entry["@message"])
	assert.Equal(t, "oblivkv", entry["@module"])
	assert.EqualValues(t, 7, entry["round"])

	// appends rather than truncates
	logger, closer, err = NewLogger("oblivkv", LogConfig{Level: "warn", File: path})
	require.NoError(t, err)
	logger.Error("again")
	require.NoError(t, closer.Close())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)

	_, _, err = NewLogger("oblivkv", LogConfig{Level: "loud"})
	assert.Error(t, err)

	logger, closer, err = NewLogger("oblivkv", LogConfig{})
	require.NoError(t, err)
	assert.True(t, logger.IsInfo())
	assert.False(t, logger.IsDebug())
	assert.NoError(t, closer.Close())
}

func TestReadConfig_DoesNotValidate(t *testing.T) {
	cfg, err := ReadConfig(writeFile(t, "partial.yaml", "listen_addr: 127.0.0.1:7000\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.ErrorIs(t, cfg.Validate(), ErrNoSecret)

	cfg.Secret = testSecret
	assert.NoError(t, cfg.Validate())
}
