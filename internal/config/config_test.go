package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "%Y%m%d-%H%M%S-%i", cfg.Writer.FileNameTemplate)
	assert.Equal(t, ByteSize(0), cfg.Writer.MaxFileSize)

	assert.Equal(t, 4, cfg.HLS.DownloadConcurrency)
	assert.True(t, cfg.HLS.AdaptiveRefresh)
	assert.Equal(t, "skip_after_both", cfg.HLS.GapSkipStrategy)

	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Retry.Jitter)

	assert.True(t, cfg.Prefetch.Enabled)
	assert.Equal(t, 2, cfg.Prefetch.PrefetchCount)

	assert.Equal(t, 100, cfg.Monitor.MaxBatchSize)

	assert.Equal(t, "velocity", cfg.Danmu.SamplerMode)

	assert.Equal(t, "native", cfg.Engine.Kind)
	assert.Equal(t, "./recordings", cfg.Storage.BaseDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  base_dir: "/var/lib/corerec"

hls:
  download_concurrency: 8
  gap_skip_strategy: "wait_indefinitely"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/var/lib/corerec", cfg.Storage.BaseDir)
	assert.Equal(t, 8, cfg.HLS.DownloadConcurrency)
	assert.Equal(t, "wait_indefinitely", cfg.HLS.GapSkipStrategy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CORREC_STORAGE_BASE_DIR", "/tmp/recordings")
	t.Setenv("CORREC_HLS_DOWNLOAD_CONCURRENCY", "16")
	t.Setenv("CORREC_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/recordings", cfg.Storage.BaseDir)
	assert.Equal(t, 16, cfg.HLS.DownloadConcurrency)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  base_dir: "/var/lib/corerec"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("CORREC_STORAGE_BASE_DIR", "/override")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.Storage.BaseDir)
}

func validBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{BaseDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		HLS:     HLSConfig{DownloadConcurrency: 4, GapSkipStrategy: "skip_after_both"},
		Engine:  EngineConfig{Kind: "native"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validBaseConfig().Validate())
}

func TestValidate_MissingBaseDir(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Storage.BaseDir = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage.base_dir")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_InvalidDownloadConcurrency(t *testing.T) {
	cfg := validBaseConfig()
	cfg.HLS.DownloadConcurrency = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "download_concurrency")
}

func TestValidate_InvalidGapSkipStrategy(t *testing.T) {
	cfg := validBaseConfig()
	cfg.HLS.GapSkipStrategy = "bogus"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "gap_skip_strategy")
}

func TestValidate_InvalidEngineKind(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Engine.Kind = "bogus"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.kind")
}

func TestValidate_AllGapSkipStrategies(t *testing.T) {
	for _, s := range []string{"wait_indefinitely", "skip_after_count", "skip_after_duration", "skip_after_both"} {
		t.Run(s, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.HLS.GapSkipStrategy = s
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestValidate_AllEngineKinds(t *testing.T) {
	for _, k := range []string{"ffmpeg", "streamlink", "native"} {
		t.Run(k, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Engine.Kind = k
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
hls:
  download_concurrency: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestDuration_RoundTripsThroughYAML(t *testing.T) {
	d, err := ParseDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d.Duration())
}
