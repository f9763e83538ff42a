package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	cfg.Identity.SaltRef = "env:TEST_SALT"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadProxyPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ProxyPort = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for port 70000")
	}
	if !strings.Contains(err.Error(), "proxy_port") {
		t.Errorf("error should mention proxy_port: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_TLS_MissingCert(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile = ""
	cfg.Server.KeyFile = "/path/to/key.pem"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing cert_file")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error should mention cert_file: %v", err)
	}
}

func TestValidate_TLS_MissingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile = "/path/to/cert.pem"
	cfg.Server.KeyFile = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing key_file")
	}
}

func TestValidate_NegativeReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeout = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative read_timeout")
	}
}

func TestValidate_NegativeMaxResponseSize(t *testing.T) {
	cfg := validConfig()
	cfg.Server.MaxResponseSize = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative max_response_size")
	}
}

func TestValidate_MissingSaltRef(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.SaltRef = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty identity.salt_ref")
	}
	if !strings.Contains(err.Error(), "salt_ref") {
		t.Errorf("error should mention salt_ref: %v", err)
	}
}

func TestValidate_DevBypassInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.Identity.DevIdentityBypass = true

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for dev_identity_bypass in production")
	}
	if !strings.Contains(err.Error(), "dev_identity_bypass") {
		t.Errorf("error should mention dev_identity_bypass: %v", err)
	}
}

func TestValidate_DevBypassAllowedInDevelopment(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "development"
	cfg.Identity.DevIdentityBypass = true

	if err := validate(cfg); err != nil {
		t.Fatalf("dev_identity_bypass should be allowed outside production: %v", err)
	}
}

func TestValidate_InstanceMissingHost(t *testing.T) {
	cfg := validConfig()
	cfg.Instances = map[string]InstanceConfig{
		"broken": {Host: "", Enabled: true},
	}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for instance with empty host")
	}
}

func TestValidate_RankingBadCandidateCap(t *testing.T) {
	cfg := validConfig()
	cfg.Ranking.CandidateCap = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for candidate_cap = 0")
	}
}

func TestValidate_RankingDefaultModelNotConfigured(t *testing.T) {
	cfg := validConfig()
	cfg.Ranking.DefaultModel = "ghost"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown default_model")
	}
}

func TestValidate_RankingBadNormalizer(t *testing.T) {
	cfg := validConfig()
	cfg.Ranking.Models["default"] = ModelConfig{Normalizer: "zscore"}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown normalizer")
	}
}

func TestValidate_InjectionBadStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Injection.DefaultStrategy = "random"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid injection strategy")
	}
}

func TestValidate_CrawlerBadFailureThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Crawler.FailureThreshold = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for failure_threshold = 0")
	}
}

func TestValidate_InteractionBadMaxContextDepth(t *testing.T) {
	cfg := validConfig()
	cfg.Interaction.MaxContextDepth = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for max_context_depth = 0")
	}
}

func TestValidate_CacheBadBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Backend = "memcached"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid cache backend")
	}
}

func TestValidate_CacheRedisMissingAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for redis backend without redis_addr")
	}
}

func TestValidate_RateLimitAnonymousExceedsAuthenticated(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.AnonymousCeiling = 1000
	cfg.RateLimit.AuthenticatedCeiling = 100

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error when anonymous_ceiling exceeds authenticated_ceiling")
	}
}

func TestValidate_StoreBadBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "mysql"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid store backend")
	}
}

func TestValidate_StorePostgresMissingDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "postgres"
	cfg.Store.PostgresDSN = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for postgres backend without postgres_dsn")
	}
}

func TestValidate_Resilience_NegativeRetryAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.Resilience.RetryMaxAttempts = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative retry_max_attempts")
	}
}

func TestValidate_Resilience_ZeroFailureThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Resilience.CBFailureThreshold = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for cb_failure_threshold = 0")
	}
}

func TestValidate_Resilience_ZeroResetTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Resilience.CBResetTimeoutSec = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for cb_reset_timeout_seconds = 0")
	}
}

func TestValidate_Resilience_ZeroHalfOpenMax(t *testing.T) {
	cfg := validConfig()
	cfg.Resilience.CBHalfOpenMax = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for cb_half_open_max_calls = 0")
	}
}

func TestValidate_StoreRetentionZero(t *testing.T) {
	cfg := validConfig()
	cfg.Store.RetentionDays = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for retention_days = 0")
	}
}

func TestValidate_TracingBadExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger-thrift"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid tracing exporter")
	}
}

func TestValidate_TracingSampleRateOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.SampleRate = 1.5

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for sample_rate > 1")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ProxyPort = 0
	cfg.Server.LogLevel = "bad"
	cfg.Identity.SaltRef = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "proxy_port") || !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "salt_ref") {
		t.Errorf("error should mention multiple fields: %v", err)
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("INFO should be valid (case-insensitive)")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("verbose should not be valid")
	}
}
