package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values. It
// returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if !isValidEnum(cfg.Env, []string{"development", "production"}) {
		errs = append(errs, fmt.Sprintf("env must be one of [development production], got %q", cfg.Env))
	}

	// Server validation
	if cfg.Server.ProxyPort < 1 || cfg.Server.ProxyPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.proxy_port must be between 1 and 65535, got %d", cfg.Server.ProxyPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.request_timeout must be positive, got %d", cfg.Server.RequestTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}
	if cfg.Server.MaxResponseSize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_response_size must be non-negative, got %d", cfg.Server.MaxResponseSize))
	}

	// Identity validation — fail closed.
	if cfg.Identity.SaltRef == "" {
		errs = append(errs, "identity.salt_ref must be set (no default identity salt is permitted)")
	}
	if cfg.Identity.DevIdentityBypass && cfg.Env == "production" {
		errs = append(errs, "identity.dev_identity_bypass must not be enabled when env is production")
	}

	// Instance validation
	for name, inst := range cfg.Instances {
		if inst.Host == "" {
			errs = append(errs, fmt.Sprintf("instances.%s.host must not be empty", name))
		}
		if inst.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("instances.%s.timeout must be non-negative", name))
		}
	}

	// Ranking validation
	if cfg.Ranking.CandidateCap < 1 {
		errs = append(errs, fmt.Sprintf("ranking.candidate_cap must be at least 1, got %d", cfg.Ranking.CandidateCap))
	}
	if cfg.Ranking.BulkChunkSize < 1 {
		errs = append(errs, fmt.Sprintf("ranking.bulk_chunk_size must be at least 1, got %d", cfg.Ranking.BulkChunkSize))
	}
	if cfg.Ranking.AffinitySmoothingAlpha < 0 {
		errs = append(errs, "ranking.affinity_smoothing_alpha must be non-negative")
	}
	if cfg.Ranking.DefaultModel != "" {
		if _, ok := cfg.Ranking.Models[cfg.Ranking.DefaultModel]; !ok {
			errs = append(errs, fmt.Sprintf("ranking.default_model %q is not a configured model", cfg.Ranking.DefaultModel))
		}
	}
	for name, m := range cfg.Ranking.Models {
		if !isValidEnum(m.Normalizer, []string{"minmax", "rank", "logclip"}) {
			errs = append(errs, fmt.Sprintf("ranking.models.%s.normalizer must be one of [minmax rank logclip], got %q", name, m.Normalizer))
		}
	}

	// Injection validation
	if !isValidEnum(cfg.Injection.DefaultStrategy, []string{"uniform", "top", "tag_match"}) {
		errs = append(errs, fmt.Sprintf("injection.default_strategy must be one of [uniform top tag_match], got %q", cfg.Injection.DefaultStrategy))
	}
	if cfg.Injection.DefaultMaxInjections < 0 {
		errs = append(errs, "injection.default_max_injections must be non-negative")
	}
	if cfg.Injection.DefaultGap < 0 {
		errs = append(errs, "injection.default_gap must be non-negative")
	}

	// Crawler validation
	if cfg.Crawler.MinRequestIntervalMs < 0 {
		errs = append(errs, "crawler.min_request_interval_ms must be non-negative")
	}
	if cfg.Crawler.FailureThreshold < 1 {
		errs = append(errs, "crawler.failure_threshold must be at least 1")
	}
	if cfg.Crawler.CooldownSeconds < 0 {
		errs = append(errs, "crawler.cooldown_seconds must be non-negative")
	}
	if cfg.Crawler.MaxConcurrentInstances < 1 {
		errs = append(errs, "crawler.max_concurrent_instances must be at least 1")
	}

	// Interaction validation
	if cfg.Interaction.MaxContextDepth < 1 {
		errs = append(errs, "interaction.max_context_depth must be at least 1")
	}
	if cfg.Interaction.MaxFieldLength < 1 {
		errs = append(errs, "interaction.max_field_length must be at least 1")
	}

	// Cache validation
	if !isValidEnum(cfg.Cache.Backend, []string{"sqlite", "redis"}) {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of [sqlite redis], got %q", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr must be set when cache.backend is redis")
	}

	// Rate limit validation
	if cfg.RateLimit.WindowSeconds < 1 {
		errs = append(errs, "rate_limit.window_seconds must be at least 1")
	}
	if cfg.RateLimit.AnonymousCeiling > cfg.RateLimit.AuthenticatedCeiling {
		errs = append(errs, "rate_limit.anonymous_ceiling must not exceed rate_limit.authenticated_ceiling")
	}
	if !isValidEnum(cfg.RateLimit.Backend, []string{"memory", "redis"}) {
		errs = append(errs, fmt.Sprintf("rate_limit.backend must be one of [memory redis], got %q", cfg.RateLimit.Backend))
	}
	if cfg.RateLimit.Backend == "redis" && cfg.RateLimit.RedisAddr == "" {
		errs = append(errs, "rate_limit.redis_addr must be set when rate_limit.backend is redis")
	}

	// Store validation
	if !isValidEnum(cfg.Store.Backend, []string{"sqlite", "postgres"}) {
		errs = append(errs, fmt.Sprintf("store.backend must be one of [sqlite postgres], got %q", cfg.Store.Backend))
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.PostgresDSN == "" {
		errs = append(errs, "store.postgres_dsn must be set when store.backend is postgres")
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.SQLitePath == "" {
		errs = append(errs, "store.sqlite_path must be set when store.backend is sqlite")
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be non-negative, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.CBFailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_failure_threshold must be at least 1, got %d", cfg.Resilience.CBFailureThreshold))
	}
	if cfg.Resilience.CBResetTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("resilience.cb_reset_timeout_seconds must be positive, got %d", cfg.Resilience.CBResetTimeoutSec))
	}
	if cfg.Resilience.CBHalfOpenMax < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_half_open_max_calls must be at least 1, got %d", cfg.Resilience.CBHalfOpenMax))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Store retention
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("store.retention_days must be at least 1, got %d", cfg.Store.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
