package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use. If no
// config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the single frozen configuration struct built once at start-up.
// Hot-reload of this struct is out of scope; the only supported reload
// path is internal/config's fsnotify-based datawatch, which watches
// separate mutable data files (opt-out tokens, hashtag targets), never
// this struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Env        string           `mapstructure:"env"        toml:"env"` // "development" | "production"
	Identity   IdentityConfig   `mapstructure:"identity"   toml:"identity"`
	Instances  map[string]InstanceConfig `mapstructure:"instances" toml:"instances"`
	Ranking    RankingConfig    `mapstructure:"ranking"    toml:"ranking"`
	ColdStart  ColdStartConfig  `mapstructure:"cold_start" toml:"cold_start"`
	Injection  InjectionConfig  `mapstructure:"injection"  toml:"injection"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"    toml:"crawler"`
	Interaction InteractionConfig `mapstructure:"interaction" toml:"interaction"`
	Cache      CacheConfig      `mapstructure:"cache"      toml:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" toml:"rate_limit"`
	Jobs       JobsConfig       `mapstructure:"jobs"       toml:"jobs"`
	Store      StoreConfig      `mapstructure:"store"      toml:"store"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	ProxyPort       int    `mapstructure:"proxy_port"        toml:"proxy_port"`
	LogLevel        string `mapstructure:"log_level"         toml:"log_level"`
	DataDir         string `mapstructure:"data_dir"          toml:"data_dir"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"       toml:"tls_enabled"`
	CertFile        string `mapstructure:"cert_file"         toml:"cert_file"`
	KeyFile         string `mapstructure:"key_file"          toml:"key_file"`
	ReadTimeout     int    `mapstructure:"read_timeout"      toml:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"     toml:"write_timeout"`
	IdleTimeout     int    `mapstructure:"idle_timeout"      toml:"idle_timeout"`
	RequestTimeout  int    `mapstructure:"request_timeout"   toml:"request_timeout"` // per-proxied-call deadline, seconds
	MaxBodySize     int64  `mapstructure:"max_body_size"     toml:"max_body_size"`
	MaxResponseSize int64  `mapstructure:"max_response_size" toml:"max_response_size"`
}

// IdentityConfig controls alias derivation and the development bypass.
type IdentityConfig struct {
	SaltRef            string `mapstructure:"salt_ref"              toml:"salt_ref"`
	DevIdentityBypass  bool   `mapstructure:"dev_identity_bypass"   toml:"dev_identity_bypass"`
}

// InstanceConfig describes one upstream federated-microblog instance this
// service proxies to and/or crawls.
type InstanceConfig struct {
	Host         string `mapstructure:"host"          toml:"host"`
	TokenRef     string `mapstructure:"token_ref"     toml:"token_ref"` // crawler credential, optional
	Enabled      bool   `mapstructure:"enabled"       toml:"enabled"`
	CrawlEnabled bool   `mapstructure:"crawl_enabled" toml:"crawl_enabled"`
	Timeout      int    `mapstructure:"timeout"       toml:"timeout"` // seconds
}

func (i InstanceConfig) TimeoutDuration() time.Duration {
	if i.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(i.Timeout) * time.Second
}

// RankingConfig controls the ranking engine.
type RankingConfig struct {
	CandidateCap         int     `mapstructure:"candidate_cap"          toml:"candidate_cap"`
	CandidateWindowDays  int     `mapstructure:"candidate_window_days"  toml:"candidate_window_days"`
	BulkChunkSize        int     `mapstructure:"bulk_chunk_size"        toml:"bulk_chunk_size"`
	AffinitySmoothingAlpha float64 `mapstructure:"affinity_smoothing_alpha" toml:"affinity_smoothing_alpha"`
	ViewCountsPositive   bool    `mapstructure:"view_counts_positive"   toml:"view_counts_positive"`
	PerAuthorCap         int     `mapstructure:"per_author_cap"         toml:"per_author_cap"`
	PerInstanceCap       int     `mapstructure:"per_instance_cap"       toml:"per_instance_cap"`
	StalenessSeconds     int     `mapstructure:"staleness_seconds"      toml:"staleness_seconds"`
	Models               map[string]ModelConfig `mapstructure:"models" toml:"models"`
	DefaultModel         string  `mapstructure:"default_model"          toml:"default_model"`
}

// ModelConfig is a named weighting/normalization profile for the scoring
// step. The core does not hardcode one normalization function; it is
// selected per model.
type ModelConfig struct {
	Normalizer        string  `mapstructure:"normalizer" toml:"normalizer"` // "minmax" | "rank" | "logclip"
	WeightAffinity    float64 `mapstructure:"weight_affinity"   toml:"weight_affinity"`
	WeightEngagement  float64 `mapstructure:"weight_engagement" toml:"weight_engagement"`
	WeightRecency     float64 `mapstructure:"weight_recency"    toml:"weight_recency"`
	WeightContent     float64 `mapstructure:"weight_content"    toml:"weight_content"`
	RecencyHalfLifeHours float64 `mapstructure:"recency_half_life_hours" toml:"recency_half_life_hours"`
}

// ColdStartConfig controls the cold-start engine.
type ColdStartConfig struct {
	RelaxedEngagementFloor int `mapstructure:"relaxed_engagement_floor" toml:"relaxed_engagement_floor"`
	SeedListPath           string `mapstructure:"seed_list_path"       toml:"seed_list_path"` // empty = use embedded default
}

// InjectionConfig controls the timeline injector.
type InjectionConfig struct {
	DefaultStrategy   string `mapstructure:"default_strategy"    toml:"default_strategy"`
	DefaultMaxInjections int `mapstructure:"default_max_injections" toml:"default_max_injections"`
	DefaultGap        int    `mapstructure:"default_gap"         toml:"default_gap"`
}

// CrawlerConfig controls the crawler.
type CrawlerConfig struct {
	Enabled               bool     `mapstructure:"enabled"                  toml:"enabled"`
	Hashtags              []string `mapstructure:"hashtags"                 toml:"hashtags"`
	OptOutTokens          []string `mapstructure:"opt_out_tokens"           toml:"opt_out_tokens"`
	MinRequestIntervalMs  int      `mapstructure:"min_request_interval_ms"  toml:"min_request_interval_ms"`
	FailureThreshold      int      `mapstructure:"failure_threshold"        toml:"failure_threshold"`
	CooldownSeconds       int      `mapstructure:"cooldown_seconds"         toml:"cooldown_seconds"`
	FreshnessWindowDays   int      `mapstructure:"freshness_window_days"    toml:"freshness_window_days"`
	OptOutCacheTTLHours   int      `mapstructure:"opt_out_cache_ttl_hours"  toml:"opt_out_cache_ttl_hours"`
	MaxConcurrentInstances int     `mapstructure:"max_concurrent_instances" toml:"max_concurrent_instances"`
	DataFile              string   `mapstructure:"data_file"                toml:"data_file"` // watched by fsnotify for hashtag/opt-out updates
}

// InteractionConfig controls the interaction pipeline.
type InteractionConfig struct {
	MaxContextDepth int  `mapstructure:"max_context_depth" toml:"max_context_depth"`
	MaxFieldLength  int  `mapstructure:"max_field_length"  toml:"max_field_length"`
	AllowAnonymous  bool `mapstructure:"allow_anonymous"   toml:"allow_anonymous"` // POST /api/v1/interactions accepts the anonymous alias when true
}

// CacheConfig controls the two-tier cache.
type CacheConfig struct {
	Backend           string `mapstructure:"backend"             toml:"backend"` // "sqlite" | "redis"
	RedisAddr         string `mapstructure:"redis_addr"          toml:"redis_addr"`
	MaxMemoryEntries  int    `mapstructure:"max_memory_entries"  toml:"max_memory_entries"`
	TTLHomeSeconds        int `mapstructure:"ttl_home_seconds"        toml:"ttl_home_seconds"`
	TTLProfileSeconds     int `mapstructure:"ttl_profile_seconds"     toml:"ttl_profile_seconds"`
	TTLInstanceSeconds    int `mapstructure:"ttl_instance_seconds"    toml:"ttl_instance_seconds"`
	TTLStatusSeconds      int `mapstructure:"ttl_status_seconds"      toml:"ttl_status_seconds"`
	TTLDefaultSeconds     int `mapstructure:"ttl_default_seconds"     toml:"ttl_default_seconds"`
}

// RateLimitConfig controls the sliding-window rate limiter.
type RateLimitConfig struct {
	Enabled              bool   `mapstructure:"enabled"               toml:"enabled"`
	WindowSeconds        int    `mapstructure:"window_seconds"        toml:"window_seconds"`
	AuthenticatedCeiling int    `mapstructure:"authenticated_ceiling" toml:"authenticated_ceiling"`
	AnonymousCeiling     int    `mapstructure:"anonymous_ceiling"     toml:"anonymous_ceiling"`
	Backend              string `mapstructure:"backend"               toml:"backend"` // "memory" | "redis"
	RedisAddr            string `mapstructure:"redis_addr"            toml:"redis_addr"`
}

// JobsConfig controls the background job runner.
type JobsConfig struct {
	RankingRefreshWorkers int `mapstructure:"ranking_refresh_workers" toml:"ranking_refresh_workers"`
	CrawlWorkers          int `mapstructure:"crawl_workers"           toml:"crawl_workers"`
	LifecycleSweepHour    int `mapstructure:"lifecycle_sweep_hour"    toml:"lifecycle_sweep_hour"` // 0-23 UTC
	MaxRetries            int `mapstructure:"max_retries"             toml:"max_retries"`
	RetryBaseDelayMs      int `mapstructure:"retry_base_delay_ms"     toml:"retry_base_delay_ms"`
	RetryMaxDelayMs       int `mapstructure:"retry_max_delay_ms"      toml:"retry_max_delay_ms"`
	AffinityRecomputeIntervalSeconds int `mapstructure:"affinity_recompute_interval_seconds" toml:"affinity_recompute_interval_seconds"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"        toml:"backend"` // "sqlite" | "postgres"
	SQLitePath    string `mapstructure:"sqlite_path"     toml:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"    toml:"postgres_dsn"`
	RetentionDays int    `mapstructure:"retention_days"  toml:"retention_days"`
}

// ResilienceConfig controls upstream retry/circuit-breaker behavior.
type ResilienceConfig struct {
	RetryMaxAttempts   int  `mapstructure:"retry_max_attempts"       toml:"retry_max_attempts"`
	RetryBaseDelayMs   int  `mapstructure:"retry_base_delay_ms"      toml:"retry_base_delay_ms"`
	RetryMaxDelayMs    int  `mapstructure:"retry_max_delay_ms"       toml:"retry_max_delay_ms"`
	CBEnabled          bool `mapstructure:"circuit_breaker_enabled"  toml:"circuit_breaker_enabled"`
	CBFailureThreshold int  `mapstructure:"cb_failure_threshold"     toml:"cb_failure_threshold"`
	CBResetTimeoutSec  int  `mapstructure:"cb_reset_timeout_seconds" toml:"cb_reset_timeout_seconds"`
	CBHalfOpenMax      int  `mapstructure:"cb_half_open_max_calls"   toml:"cb_half_open_max_calls"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"` // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (CORGI_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.corgi/corgi.toml
//  4. ./corgi.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("CORGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".corgi"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("corgi")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.corgi/corgi.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".corgi")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ImportConfig reads a TOML config file, validates it, and makes it the
// active config. This is an operator-triggered, one-shot replacement, not
// the continuous hot-reload the spec excludes.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("env", d.Env)

	v.SetDefault("server.proxy_port", d.Server.ProxyPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.max_response_size", d.Server.MaxResponseSize)

	v.SetDefault("identity.salt_ref", d.Identity.SaltRef)
	v.SetDefault("identity.dev_identity_bypass", d.Identity.DevIdentityBypass)

	v.SetDefault("ranking.candidate_cap", d.Ranking.CandidateCap)
	v.SetDefault("ranking.candidate_window_days", d.Ranking.CandidateWindowDays)
	v.SetDefault("ranking.bulk_chunk_size", d.Ranking.BulkChunkSize)
	v.SetDefault("ranking.affinity_smoothing_alpha", d.Ranking.AffinitySmoothingAlpha)
	v.SetDefault("ranking.view_counts_positive", d.Ranking.ViewCountsPositive)
	v.SetDefault("ranking.per_author_cap", d.Ranking.PerAuthorCap)
	v.SetDefault("ranking.per_instance_cap", d.Ranking.PerInstanceCap)
	v.SetDefault("ranking.staleness_seconds", d.Ranking.StalenessSeconds)
	v.SetDefault("ranking.default_model", d.Ranking.DefaultModel)

	v.SetDefault("cold_start.relaxed_engagement_floor", d.ColdStart.RelaxedEngagementFloor)
	v.SetDefault("cold_start.seed_list_path", d.ColdStart.SeedListPath)

	v.SetDefault("injection.default_strategy", d.Injection.DefaultStrategy)
	v.SetDefault("injection.default_max_injections", d.Injection.DefaultMaxInjections)
	v.SetDefault("injection.default_gap", d.Injection.DefaultGap)

	v.SetDefault("crawler.enabled", d.Crawler.Enabled)
	v.SetDefault("crawler.hashtags", d.Crawler.Hashtags)
	v.SetDefault("crawler.opt_out_tokens", d.Crawler.OptOutTokens)
	v.SetDefault("crawler.min_request_interval_ms", d.Crawler.MinRequestIntervalMs)
	v.SetDefault("crawler.failure_threshold", d.Crawler.FailureThreshold)
	v.SetDefault("crawler.cooldown_seconds", d.Crawler.CooldownSeconds)
	v.SetDefault("crawler.freshness_window_days", d.Crawler.FreshnessWindowDays)
	v.SetDefault("crawler.opt_out_cache_ttl_hours", d.Crawler.OptOutCacheTTLHours)
	v.SetDefault("crawler.max_concurrent_instances", d.Crawler.MaxConcurrentInstances)
	v.SetDefault("crawler.data_file", d.Crawler.DataFile)

	v.SetDefault("interaction.max_context_depth", d.Interaction.MaxContextDepth)
	v.SetDefault("interaction.max_field_length", d.Interaction.MaxFieldLength)
	v.SetDefault("interaction.allow_anonymous", d.Interaction.AllowAnonymous)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.max_memory_entries", d.Cache.MaxMemoryEntries)
	v.SetDefault("cache.ttl_home_seconds", d.Cache.TTLHomeSeconds)
	v.SetDefault("cache.ttl_profile_seconds", d.Cache.TTLProfileSeconds)
	v.SetDefault("cache.ttl_instance_seconds", d.Cache.TTLInstanceSeconds)
	v.SetDefault("cache.ttl_status_seconds", d.Cache.TTLStatusSeconds)
	v.SetDefault("cache.ttl_default_seconds", d.Cache.TTLDefaultSeconds)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.window_seconds", d.RateLimit.WindowSeconds)
	v.SetDefault("rate_limit.authenticated_ceiling", d.RateLimit.AuthenticatedCeiling)
	v.SetDefault("rate_limit.anonymous_ceiling", d.RateLimit.AnonymousCeiling)
	v.SetDefault("rate_limit.backend", d.RateLimit.Backend)
	v.SetDefault("rate_limit.redis_addr", d.RateLimit.RedisAddr)

	v.SetDefault("jobs.ranking_refresh_workers", d.Jobs.RankingRefreshWorkers)
	v.SetDefault("jobs.crawl_workers", d.Jobs.CrawlWorkers)
	v.SetDefault("jobs.lifecycle_sweep_hour", d.Jobs.LifecycleSweepHour)
	v.SetDefault("jobs.max_retries", d.Jobs.MaxRetries)
	v.SetDefault("jobs.retry_base_delay_ms", d.Jobs.RetryBaseDelayMs)
	v.SetDefault("jobs.retry_max_delay_ms", d.Jobs.RetryMaxDelayMs)
	v.SetDefault("jobs.affinity_recompute_interval_seconds", d.Jobs.AffinityRecomputeIntervalSeconds)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("store.retention_days", d.Store.RetentionDays)

	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)
	v.SetDefault("resilience.circuit_breaker_enabled", d.Resilience.CBEnabled)
	v.SetDefault("resilience.cb_failure_threshold", d.Resilience.CBFailureThreshold)
	v.SetDefault("resilience.cb_reset_timeout_seconds", d.Resilience.CBResetTimeoutSec)
	v.SetDefault("resilience.cb_half_open_max_calls", d.Resilience.CBHalfOpenMax)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
