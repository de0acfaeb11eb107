// Package config provides configuration management for corerec using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLiveRefreshInterval   = 2 * time.Second
	defaultMinRefreshInterval    = 1 * time.Second
	defaultMaxRefreshInterval    = 10 * time.Second
	defaultDownloadConcurrency   = 4
	defaultStreamingThreshold    = 8 * 1024 * 1024
	defaultReorderBufferDuration = 30 * time.Second
	defaultReorderBufferMaxSeg   = 60
	defaultLiveStallDuration     = 60 * time.Second
	defaultGapSkipCount          = 10
	defaultGapSkipDuration       = 5 * time.Second
	defaultKeyCacheTTL           = 10 * time.Minute
	defaultPlaylistCacheTTL      = 1 * time.Second
	defaultSegmentCacheTTL       = 5 * time.Minute

	defaultWriterProgressInterval = 250 * time.Millisecond
	defaultWriterProgressBytes    = 512 * 1024

	defaultRetryMaxRetries = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxDelay   = 30 * time.Second

	defaultPrefetchCount     = 2
	defaultPrefetchMaxBuffer = 8

	defaultMonitorBatchSize  = 100
	defaultMonitorRetries    = 5
	defaultMonitorProbeRate  = 2.0 // probes/sec
	defaultMonitorProbeBurst = 5

	defaultDanmuFlushInterval  = 500 * time.Millisecond
	defaultDanmuFlushCount     = 100
	defaultDanmuVelocityMin    = 1 * time.Second
	defaultDanmuVelocityMax    = 30 * time.Second
	defaultDanmuVelocityTarget = 20

	defaultDuplicateWindowSize   = 64
	defaultReplayJumpThresholdMS = 5000
)

// Config holds all configuration for the recording/repair core.
type Config struct {
	Writer   WriterConfig   `mapstructure:"writer"`
	HLS      HLSConfig      `mapstructure:"hls"`
	FLV      FLVConfig      `mapstructure:"flv"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Danmu    DanmuConfig    `mapstructure:"danmu"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WriterConfig holds the WriterCore rotation/naming/progress parameters
// shared by both the FLV and HLS recording paths.
type WriterConfig struct {
	FileNameTemplate    string   `mapstructure:"file_name_template"`
	MaxFileSize         ByteSize `mapstructure:"max_file_size"` // 0 disables size-based rotation
	ProgressMinInterval Duration `mapstructure:"progress_min_interval"`
	ProgressMinBytes    ByteSize `mapstructure:"progress_min_bytes"`
}

// HLSConfig configures the HLSOrchestrator: playlist refresh cadence,
// download concurrency, reorder buffering, and gap-skip policy.
type HLSConfig struct {
	LiveRefreshInterval      Duration `mapstructure:"live_refresh_interval"`
	AdaptiveRefresh          bool     `mapstructure:"adaptive_refresh"`
	MinRefreshInterval       Duration `mapstructure:"min_refresh_interval"`
	MaxRefreshInterval       Duration `mapstructure:"max_refresh_interval"`
	TargetSegmentsPerRefresh float64  `mapstructure:"target_segments_per_refresh"`

	DownloadConcurrency     int      `mapstructure:"download_concurrency"`
	StreamingThresholdBytes ByteSize `mapstructure:"streaming_threshold_bytes"`

	LiveReorderBufferDuration    Duration `mapstructure:"live_reorder_buffer_duration"`
	LiveReorderBufferMaxSegments int      `mapstructure:"live_reorder_buffer_max_segments"`
	LiveMaxOverallStallDuration  Duration `mapstructure:"live_max_overall_stall_duration"`

	GapSkipStrategy string   `mapstructure:"gap_skip_strategy"` // wait_indefinitely, skip_after_count, skip_after_duration, skip_after_both
	GapSkipCount    int      `mapstructure:"gap_skip_count"`
	GapSkipDuration Duration `mapstructure:"gap_skip_duration"`

	KeyCacheTTL      Duration `mapstructure:"key_cache_ttl"`
	PlaylistCacheTTL Duration `mapstructure:"playlist_cache_ttl"`
	SegmentCacheTTL  Duration `mapstructure:"segment_cache_ttl"`

	DecryptionOffload bool `mapstructure:"decryption_offload"`

	VariantSelection string `mapstructure:"variant_selection"` // highest_bitrate, lowest_bitrate, closest_to_bitrate, audio_only, video_only, matching_resolution
	TargetBitrate    int    `mapstructure:"target_bitrate"`
}

// FLVConfig configures the FLVPipeline's duplicate-tag filter and
// sequence-header gate.
type FLVConfig struct {
	DuplicateWindowSize          int    `mapstructure:"duplicate_window_size"`
	ReplayJumpThresholdMS        int64  `mapstructure:"replay_jump_threshold_ms"`
	MatchOnLengthAfterJump       bool   `mapstructure:"match_on_length_after_jump"`
	SequenceHeaderMode           string `mapstructure:"sequence_header_mode"` // crc32, semantic_signature
	DropDuplicateSequenceHeaders bool   `mapstructure:"drop_duplicate_sequence_headers"`
	EnableLowLatency             bool   `mapstructure:"enable_low_latency"`
}

// RetryConfig configures internal/retry.Engine.
type RetryConfig struct {
	MaxRetries int      `mapstructure:"max_retries"`
	BaseDelay  Duration `mapstructure:"base_delay"`
	MaxDelay   Duration `mapstructure:"max_delay"`
	Jitter     bool     `mapstructure:"jitter"`
}

// PrefetchConfig configures internal/prefetch.Planner.
type PrefetchConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	PrefetchCount       int  `mapstructure:"prefetch_count"`
	MaxBufferBeforeSkip int  `mapstructure:"max_buffer_before_skip"`
}

// MonitorConfig configures StreamMonitor's per-platform batch probing.
type MonitorConfig struct {
	MaxBatchSize        int      `mapstructure:"max_batch_size"`
	MaxRetries          int      `mapstructure:"max_retries"`
	ProbeRatePerSec     float64  `mapstructure:"probe_rate_per_sec"`
	ProbeBurst          int      `mapstructure:"probe_burst"`
	PollCron            string   `mapstructure:"poll_cron"`
	TemporalDisableBase Duration `mapstructure:"temporal_disable_base"`
	TemporalDisableMax  Duration `mapstructure:"temporal_disable_max"`
}

// DanmuConfig configures DanmuCollector's buffering/flush/sampling policy.
type DanmuConfig struct {
	FlushInterval     Duration `mapstructure:"flush_interval"`
	FlushCount        int      `mapstructure:"flush_count"`
	SamplerMode       string   `mapstructure:"sampler_mode"` // fixed_interval, velocity
	FixedIntervalSecs int      `mapstructure:"fixed_interval_secs"`
	VelocityMin       Duration `mapstructure:"velocity_min"`
	VelocityMax       Duration `mapstructure:"velocity_max"`
	VelocityTarget    int      `mapstructure:"velocity_target"`
}

// EngineConfig configures the external downloader adapters (ffmpeg,
// streamlink, native).
type EngineConfig struct {
	Kind           string `mapstructure:"kind"` // ffmpeg, streamlink, native
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
	StreamlinkPath string `mapstructure:"streamlink_path"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"` // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CORREC_ and use underscores for nesting.
// Example: CORREC_HLS_DOWNLOAD_CONCURRENCY=8.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/corerec")
		v.AddConfigPath("$HOME/.corerec")
	}

	v.SetEnvPrefix("CORREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("writer.file_name_template", "%Y%m%d-%H%M%S-%i")
	v.SetDefault("writer.max_file_size", 0)
	v.SetDefault("writer.progress_min_interval", defaultWriterProgressInterval)
	v.SetDefault("writer.progress_min_bytes", defaultWriterProgressBytes)

	v.SetDefault("hls.live_refresh_interval", defaultLiveRefreshInterval)
	v.SetDefault("hls.adaptive_refresh", true)
	v.SetDefault("hls.min_refresh_interval", defaultMinRefreshInterval)
	v.SetDefault("hls.max_refresh_interval", defaultMaxRefreshInterval)
	v.SetDefault("hls.target_segments_per_refresh", 1.0)
	v.SetDefault("hls.download_concurrency", defaultDownloadConcurrency)
	v.SetDefault("hls.streaming_threshold_bytes", defaultStreamingThreshold)
	v.SetDefault("hls.live_reorder_buffer_duration", defaultReorderBufferDuration)
	v.SetDefault("hls.live_reorder_buffer_max_segments", defaultReorderBufferMaxSeg)
	v.SetDefault("hls.live_max_overall_stall_duration", defaultLiveStallDuration)
	v.SetDefault("hls.gap_skip_strategy", "skip_after_both")
	v.SetDefault("hls.gap_skip_count", defaultGapSkipCount)
	v.SetDefault("hls.gap_skip_duration", defaultGapSkipDuration)
	v.SetDefault("hls.key_cache_ttl", defaultKeyCacheTTL)
	v.SetDefault("hls.playlist_cache_ttl", defaultPlaylistCacheTTL)
	v.SetDefault("hls.segment_cache_ttl", defaultSegmentCacheTTL)
	v.SetDefault("hls.decryption_offload", false)
	v.SetDefault("hls.variant_selection", "highest_bitrate")

	v.SetDefault("flv.duplicate_window_size", defaultDuplicateWindowSize)
	v.SetDefault("flv.replay_jump_threshold_ms", defaultReplayJumpThresholdMS)
	v.SetDefault("flv.match_on_length_after_jump", true)
	v.SetDefault("flv.sequence_header_mode", "crc32")
	v.SetDefault("flv.drop_duplicate_sequence_headers", false)
	v.SetDefault("flv.enable_low_latency", false)

	v.SetDefault("retry.max_retries", defaultRetryMaxRetries)
	v.SetDefault("retry.base_delay", defaultRetryBaseDelay)
	v.SetDefault("retry.max_delay", defaultRetryMaxDelay)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.prefetch_count", defaultPrefetchCount)
	v.SetDefault("prefetch.max_buffer_before_skip", defaultPrefetchMaxBuffer)

	v.SetDefault("monitor.max_batch_size", defaultMonitorBatchSize)
	v.SetDefault("monitor.max_retries", defaultMonitorRetries)
	v.SetDefault("monitor.probe_rate_per_sec", defaultMonitorProbeRate)
	v.SetDefault("monitor.probe_burst", defaultMonitorProbeBurst)
	v.SetDefault("monitor.poll_cron", "*/30 * * * * *")
	v.SetDefault("monitor.temporal_disable_base", 60*time.Second)
	v.SetDefault("monitor.temporal_disable_max", time.Hour)

	v.SetDefault("danmu.flush_interval", defaultDanmuFlushInterval)
	v.SetDefault("danmu.flush_count", defaultDanmuFlushCount)
	v.SetDefault("danmu.sampler_mode", "velocity")
	v.SetDefault("danmu.fixed_interval_secs", 5)
	v.SetDefault("danmu.velocity_min", defaultDanmuVelocityMin)
	v.SetDefault("danmu.velocity_max", defaultDanmuVelocityMax)
	v.SetDefault("danmu.velocity_target", defaultDanmuVelocityTarget)

	v.SetDefault("engine.kind", "native")

	v.SetDefault("storage.base_dir", "./recordings")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.HLS.DownloadConcurrency < 1 {
		return fmt.Errorf("hls.download_concurrency must be at least 1")
	}

	validGapSkip := map[string]bool{
		"wait_indefinitely": true, "skip_after_count": true,
		"skip_after_duration": true, "skip_after_both": true,
	}
	if !validGapSkip[c.HLS.GapSkipStrategy] {
		return fmt.Errorf("hls.gap_skip_strategy must be one of: wait_indefinitely, skip_after_count, skip_after_duration, skip_after_both")
	}

	validEngines := map[string]bool{"ffmpeg": true, "streamlink": true, "native": true}
	if !validEngines[c.Engine.Kind] {
		return fmt.Errorf("engine.kind must be one of: ffmpeg, streamlink, native")
	}

	return nil
}
