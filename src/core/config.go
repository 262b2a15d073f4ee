package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port               string        `yaml:"port"`
	LogLevel           string        `yaml:"log_level"`
	DataDir            string        `yaml:"data_dir"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	MaxBodySizeBytes   int64         `yaml:"max_body_size_bytes"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	NodeAuthSecret     string        `yaml:"node_auth_secret"`
	RequireNodeAuth    bool          `yaml:"require_node_auth"`

	// Queue processing
	TickInterval  time.Duration `yaml:"tick_interval"`
	TickBatchSize int           `yaml:"tick_batch_size"`

	// Anomaly detection
	VelocityWindow       time.Duration `yaml:"velocity_window"`
	MaxRatePerSecond     int           `yaml:"max_rate_per_second"`
	MaxTrackedSenders    int           `yaml:"max_tracked_senders"`
	ReplayWindow         time.Duration `yaml:"replay_window"`
	PatternHistory       int           `yaml:"pattern_history"`
	SpikeThreshold       int64         `yaml:"spike_threshold"`
	SpikeBucket          time.Duration `yaml:"spike_bucket"`
	SpikeBaselineBuckets int           `yaml:"spike_baseline_buckets"`
	MinBaselineBuckets   int           `yaml:"min_baseline_buckets"`
	MinSpikeCount        int64         `yaml:"min_spike_count"`
	HighThreatThreshold  uint8         `yaml:"high_threat_threshold"`

	// Witnessing, encryption and proofs
	WitnessPoolSize     int           `yaml:"witness_pool_size"`
	EncryptionDomain    string        `yaml:"encryption_domain"`
	EncryptionFreshness time.Duration `yaml:"encryption_freshness"`
	ProofScheme         string        `yaml:"proof_scheme"`
	ProofMinScore       int           `yaml:"proof_min_score"`

	// Compaction and storage
	MerkleCacheSize      int  `yaml:"merkle_cache_size"`
	OnchainStoreCapBytes int  `yaml:"onchain_store_cap_bytes"`
	ArchiveCapacity      int  `yaml:"archive_capacity"`
	BatchStoreCapBytes   int  `yaml:"batch_store_cap_bytes"`
	CompressBatches      bool `yaml:"compress_batches"`
	EventBufferSize      int  `yaml:"event_buffer_size"`
	JournalEnabled       bool `yaml:"journal_enabled"`
}

// Default values
const (
	DefaultPort                 = "8080"
	DefaultRateLimitPerMinute   = 600
	DefaultMaxBodySizeBytes     = 4 << 20 // 4MB, batches can be large
	DefaultDataDir              = "./data"
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultTickInterval         = 100 * time.Millisecond
	DefaultTickBatchSize        = 1
	DefaultVelocityWindow       = 1000 * time.Millisecond
	DefaultMaxRatePerSecond     = 1000
	DefaultMaxTrackedSenders    = 100_000
	DefaultReplayWindow         = 5 * time.Minute
	DefaultPatternHistory       = 5
	DefaultSpikeThreshold       = 5000
	DefaultSpikeBucket          = time.Second
	DefaultSpikeBaselineBuckets = 60
	DefaultMinBaselineBuckets   = 10
	DefaultMinSpikeCount        = 100
	DefaultHighThreatThreshold  = 70
	DefaultWitnessPoolSize      = 10
	DefaultEncryptionDomain     = "proofnode/godcypher/v1"
	DefaultEncryptionFreshness  = 60 * time.Second
	DefaultProofScheme          = ProofSchemeZK13
	DefaultProofMinScore        = 50
	DefaultMerkleCacheSize      = 100
	DefaultOnchainStoreCapBytes = 900 * 1024
	DefaultArchiveCapacity      = 1_000_000
	DefaultBatchStoreCapBytes   = 8 << 20
	DefaultEventBufferSize      = 256
)

// DefaultConfig returns a configuration populated with defaults only
func DefaultConfig() *Config {
	return &Config{
		Port:                 DefaultPort,
		LogLevel:             "info",
		DataDir:              DefaultDataDir,
		RateLimitPerMinute:   DefaultRateLimitPerMinute,
		MaxBodySizeBytes:     DefaultMaxBodySizeBytes,
		ShutdownTimeout:      DefaultShutdownTimeout,
		TickInterval:         DefaultTickInterval,
		TickBatchSize:        DefaultTickBatchSize,
		VelocityWindow:       DefaultVelocityWindow,
		MaxRatePerSecond:     DefaultMaxRatePerSecond,
		MaxTrackedSenders:    DefaultMaxTrackedSenders,
		ReplayWindow:         DefaultReplayWindow,
		PatternHistory:       DefaultPatternHistory,
		SpikeThreshold:       DefaultSpikeThreshold,
		SpikeBucket:          DefaultSpikeBucket,
		SpikeBaselineBuckets: DefaultSpikeBaselineBuckets,
		MinBaselineBuckets:   DefaultMinBaselineBuckets,
		MinSpikeCount:        DefaultMinSpikeCount,
		HighThreatThreshold:  DefaultHighThreatThreshold,
		WitnessPoolSize:      DefaultWitnessPoolSize,
		EncryptionDomain:     DefaultEncryptionDomain,
		EncryptionFreshness:  DefaultEncryptionFreshness,
		ProofScheme:          DefaultProofScheme,
		ProofMinScore:        DefaultProofMinScore,
		MerkleCacheSize:      DefaultMerkleCacheSize,
		OnchainStoreCapBytes: DefaultOnchainStoreCapBytes,
		ArchiveCapacity:      DefaultArchiveCapacity,
		BatchStoreCapBytes:   DefaultBatchStoreCapBytes,
		CompressBatches:      true,
		EventBufferSize:      DefaultEventBufferSize,
	}
}

// LoadConfig reads configuration from an optional YAML file named by
// CONFIG_FILE, then applies environment variable overrides
func LoadConfig() *Config {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadConfigFromFile(path)
		if err != nil {
			logger.Warn("Failed to load config file, using defaults", "file", path, "error", err)
		} else {
			cfg = fileCfg
		}
	}

	applyEnvOverrides(cfg)
	return cfg
}

// LoadConfigFromFile reads a YAML (or JSON) config file on top of the defaults
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if secret := os.Getenv("NODE_AUTH_SECRET"); secret != "" {
		cfg.NodeAuthSecret = secret
	}

	if scheme := os.Getenv("PROOF_SCHEME"); scheme != "" {
		cfg.ProofScheme = strings.ToLower(scheme)
	}

	envPositiveInt("RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	envPositiveInt("TICK_BATCH_SIZE", &cfg.TickBatchSize)
	envPositiveInt("MAX_RATE_PER_SECOND", &cfg.MaxRatePerSecond)
	envPositiveInt("WITNESS_POOL_SIZE", &cfg.WitnessPoolSize)
	envPositiveInt("ONCHAIN_STORE_CAP_BYTES", &cfg.OnchainStoreCapBytes)
	envPositiveInt("ARCHIVE_CAPACITY", &cfg.ArchiveCapacity)

	if maxBodyEnv := os.Getenv("MAX_BODY_SIZE_BYTES"); maxBodyEnv != "" {
		if maxBody, err := strconv.ParseInt(maxBodyEnv, 10, 64); err == nil && maxBody > 0 {
			cfg.MaxBodySizeBytes = maxBody
		}
	}

	if spikeEnv := os.Getenv("SPIKE_THRESHOLD"); spikeEnv != "" {
		if spike, err := strconv.ParseInt(spikeEnv, 10, 64); err == nil && spike > 0 {
			cfg.SpikeThreshold = spike
		}
	}

	envDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	envDuration("TICK_INTERVAL", &cfg.TickInterval)
	envDuration("VELOCITY_WINDOW", &cfg.VelocityWindow)
	envDuration("REPLAY_WINDOW", &cfg.ReplayWindow)

	envBool("REQUIRE_NODE_AUTH", &cfg.RequireNodeAuth)
	envBool("COMPRESS_BATCHES", &cfg.CompressBatches)
	envBool("JOURNAL_ENABLED", &cfg.JournalEnabled)
}

func envPositiveInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations the node cannot run with
func (c *Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("tick_interval must be positive")
	case c.TickBatchSize < 1:
		return fmt.Errorf("tick_batch_size must be at least 1")
	case c.VelocityWindow <= 0:
		return fmt.Errorf("velocity_window must be positive")
	case c.MaxRatePerSecond < 1:
		return fmt.Errorf("max_rate_per_second must be at least 1")
	case c.ReplayWindow <= 0:
		return fmt.Errorf("replay_window must be positive")
	case c.SpikeBucket <= 0 || c.SpikeBaselineBuckets < 2:
		return fmt.Errorf("spike bucket configuration is invalid")
	case c.WitnessPoolSize < 1:
		return fmt.Errorf("witness_pool_size must be at least 1")
	case c.MerkleCacheSize < 1:
		return fmt.Errorf("merkle_cache_size must be at least 1")
	case c.OnchainStoreCapBytes < CompactProofSize:
		return fmt.Errorf("onchain_store_cap_bytes must hold at least one proof")
	case c.ArchiveCapacity < 1:
		return fmt.Errorf("archive_capacity must be at least 1")
	case c.ProofScheme != ProofSchemeZK13 && c.ProofScheme != ProofSchemeSchnorr:
		return fmt.Errorf("unknown proof_scheme %q", c.ProofScheme)
	}
	return nil
}
