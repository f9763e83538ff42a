package config

// DefaultProxyPort is the default port for the proxy server.
const DefaultProxyPort = 7677

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.corgi"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "corgi.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 60

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultRequestTimeout is the default per-proxied-call deadline in seconds.
const DefaultRequestTimeout = 15

// DefaultMaxBodySize is the default maximum request body size in bytes (2 MB).
const DefaultMaxBodySize = 2 << 20

// DefaultMaxResponseSize is the default maximum upstream response size in bytes (16 MB).
const DefaultMaxResponseSize int64 = 16 << 20

// DefaultCandidateCap is the default candidate-set size fed to the ranking engine.
const DefaultCandidateCap = 500

// DefaultCandidateWindowDays is the default lookback window for candidate selection.
const DefaultCandidateWindowDays = 7

// DefaultBulkChunkSize is the default batch size for bulk ranking operations.
const DefaultBulkChunkSize = 50

// DefaultAffinitySmoothingAlpha is the default Laplace-style smoothing constant
// applied to author-affinity scores.
const DefaultAffinitySmoothingAlpha = 1.0

// DefaultPerAuthorCap is the default maximum number of posts per author
// allowed in a single ranked timeline.
const DefaultPerAuthorCap = 3

// DefaultPerInstanceCap is the default maximum number of posts per upstream
// instance allowed in a single ranked timeline.
const DefaultPerInstanceCap = 10

// DefaultStalenessSeconds is the default age at which a cached per-user
// ranking is considered stale and eligible for lazy refresh.
const DefaultStalenessSeconds = 600

// DefaultModelName names the built-in ranking model profile.
const DefaultModelName = "default"

// DefaultRelaxedEngagementFloor is the default minimum engagement count used
// by the cold-start engine's relaxed-floor fallback.
const DefaultRelaxedEngagementFloor = 1

// DefaultInjectionStrategy is the default timeline-injection placement strategy.
const DefaultInjectionStrategy = "uniform"

// DefaultMaxInjections is the default maximum number of injected posts per page.
const DefaultMaxInjections = 3

// DefaultInjectionGap is the default minimum number of organic posts between injections.
const DefaultInjectionGap = 5

// DefaultMinRequestIntervalMs is the default minimum spacing between crawl
// requests to a single upstream instance.
const DefaultMinRequestIntervalMs = 1000

// DefaultCrawlerFailureThreshold is the default number of consecutive crawl
// failures against an instance before its circuit opens.
const DefaultCrawlerFailureThreshold = 5

// DefaultCrawlerCooldownSeconds is the default circuit-open cooldown for a
// failing upstream instance.
const DefaultCrawlerCooldownSeconds = 300

// DefaultFreshnessWindowDays is the default age past which crawled posts are
// no longer considered for cold-start candidacy.
const DefaultFreshnessWindowDays = 14

// DefaultOptOutCacheTTLHours is the default TTL for the cached opt-out decision
// per (instance, author).
const DefaultOptOutCacheTTLHours = 24

// DefaultMaxConcurrentInstances is the default number of upstream instances
// crawled concurrently.
const DefaultMaxConcurrentInstances = 4

// DefaultCrawlerDataFile is the default path to the mutable hashtag/opt-out
// data file watched for changes.
const DefaultCrawlerDataFile = "~/.corgi/crawler_data.toml"

// DefaultMaxContextDepth is the default maximum nesting depth accepted for
// an interaction's context object.
const DefaultMaxContextDepth = 5

// DefaultMaxFieldLength is the default maximum length, in bytes, accepted
// for any single interaction text field.
const DefaultMaxFieldLength = 5000

// DefaultCacheBackend is the default cache persistence backend.
const DefaultCacheBackend = "sqlite"

// DefaultMaxMemoryEntries is the default in-process LRU cache size.
const DefaultMaxMemoryEntries = 10000

// DefaultTTLHomeSeconds is the default TTL for cached home-timeline responses.
const DefaultTTLHomeSeconds = 30

// DefaultTTLProfileSeconds is the default TTL for cached profile responses.
const DefaultTTLProfileSeconds = 120

// DefaultTTLInstanceSeconds is the default TTL for cached instance-metadata responses.
const DefaultTTLInstanceSeconds = 3600

// DefaultTTLStatusSeconds is the default TTL for cached single-status responses.
const DefaultTTLStatusSeconds = 60

// DefaultTTLDefaultSeconds is the default TTL applied to endpoints without a
// dedicated TTL setting.
const DefaultTTLDefaultSeconds = 30

// DefaultRateLimitWindowSeconds is the default sliding-window width.
const DefaultRateLimitWindowSeconds = 60

// DefaultAuthenticatedCeiling is the default per-window request ceiling for
// authenticated aliases.
const DefaultAuthenticatedCeiling = 300

// DefaultAnonymousCeiling is the default per-window request ceiling for the
// anonymous alias.
const DefaultAnonymousCeiling = 60

// DefaultRankingRefreshWorkers is the default worker-pool size for the
// background ranking-refresh job.
const DefaultRankingRefreshWorkers = 4

// DefaultCrawlWorkers is the default worker-pool size for the background
// crawl job.
const DefaultCrawlWorkers = 4

// DefaultLifecycleSweepHour is the default UTC hour at which the daily
// lifecycle sweep (stale posts, expired opt-out cache entries) runs.
const DefaultLifecycleSweepHour = 3

// DefaultJobsMaxRetries is the default retry ceiling for a background job.
const DefaultJobsMaxRetries = 5

// DefaultJobsRetryBaseDelayMs is the default base delay for job retry backoff.
const DefaultJobsRetryBaseDelayMs = 500

// DefaultAffinityRecomputeIntervalSeconds is the default interval between
// drains of dirty author-affinity rows.
const DefaultAffinityRecomputeIntervalSeconds = 60

// DefaultJobsRetryMaxDelayMs is the default maximum delay for job retry backoff.
const DefaultJobsRetryMaxDelayMs = 60000

// DefaultStoreBackend is the default persistence backend.
const DefaultStoreBackend = "sqlite"

// DefaultSQLitePath is the default SQLite database path (before tilde expansion).
const DefaultSQLitePath = "~/.corgi/corgi.db"

// DefaultStoreRetentionDays is the default age in days past which the
// hourly pruner deletes posts (by discovered_at); it also drops expired
// cache rows. Interaction history and rankings are not pruned.
const DefaultStoreRetentionDays = 90

// DefaultRetryMaxAttempts is the default maximum number of upstream proxy
// retry attempts.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff
// in milliseconds.
const DefaultRetryBaseDelayMs = 200

// DefaultRetryMaxDelayMs is the default maximum delay for exponential
// backoff in milliseconds.
const DefaultRetryMaxDelayMs = 5000

// DefaultCBFailureThreshold is the default number of consecutive failures
// before the upstream circuit breaker opens.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 30

// DefaultCBHalfOpenMax is the default number of successful calls in
// half-open state required to close the circuit.
const DefaultCBHalfOpenMax = 1

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "corgi"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values. It
// deliberately leaves identity.salt_ref empty: config.validate rejects an
// empty salt, forcing every deployment to set one explicitly rather than
// inherit a shared default.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			ProxyPort:       DefaultProxyPort,
			LogLevel:        DefaultLogLevel,
			DataDir:         DefaultDataDir,
			TLSEnabled:      false,
			CertFile:        "",
			KeyFile:         "",
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			RequestTimeout:  DefaultRequestTimeout,
			MaxBodySize:     DefaultMaxBodySize,
			MaxResponseSize: DefaultMaxResponseSize,
		},
		Identity: IdentityConfig{
			SaltRef:           "",
			DevIdentityBypass: false,
		},
		Instances: map[string]InstanceConfig{},
		Ranking: RankingConfig{
			CandidateCap:           DefaultCandidateCap,
			CandidateWindowDays:    DefaultCandidateWindowDays,
			BulkChunkSize:          DefaultBulkChunkSize,
			AffinitySmoothingAlpha: DefaultAffinitySmoothingAlpha,
			ViewCountsPositive:     false,
			PerAuthorCap:           DefaultPerAuthorCap,
			PerInstanceCap:         DefaultPerInstanceCap,
			StalenessSeconds:       DefaultStalenessSeconds,
			DefaultModel:           DefaultModelName,
			Models: map[string]ModelConfig{
				DefaultModelName: {
					Normalizer:           "minmax",
					WeightAffinity:       0.4,
					WeightEngagement:     0.3,
					WeightRecency:        0.2,
					WeightContent:        0.1,
					RecencyHalfLifeHours: 18,
				},
			},
		},
		ColdStart: ColdStartConfig{
			RelaxedEngagementFloor: DefaultRelaxedEngagementFloor,
			SeedListPath:           "",
		},
		Injection: InjectionConfig{
			DefaultStrategy:      DefaultInjectionStrategy,
			DefaultMaxInjections: DefaultMaxInjections,
			DefaultGap:           DefaultInjectionGap,
		},
		Crawler: CrawlerConfig{
			Enabled:                false,
			Hashtags:               []string{},
			OptOutTokens:           []string{"#noindex", "#nocrawl"},
			MinRequestIntervalMs:   DefaultMinRequestIntervalMs,
			FailureThreshold:       DefaultCrawlerFailureThreshold,
			CooldownSeconds:        DefaultCrawlerCooldownSeconds,
			FreshnessWindowDays:    DefaultFreshnessWindowDays,
			OptOutCacheTTLHours:    DefaultOptOutCacheTTLHours,
			MaxConcurrentInstances: DefaultMaxConcurrentInstances,
			DataFile:               DefaultCrawlerDataFile,
		},
		Interaction: InteractionConfig{
			MaxContextDepth: DefaultMaxContextDepth,
			MaxFieldLength:  DefaultMaxFieldLength,
			AllowAnonymous:  false,
		},
		Cache: CacheConfig{
			Backend:            DefaultCacheBackend,
			RedisAddr:          "",
			MaxMemoryEntries:   DefaultMaxMemoryEntries,
			TTLHomeSeconds:     DefaultTTLHomeSeconds,
			TTLProfileSeconds:  DefaultTTLProfileSeconds,
			TTLInstanceSeconds: DefaultTTLInstanceSeconds,
			TTLStatusSeconds:   DefaultTTLStatusSeconds,
			TTLDefaultSeconds:  DefaultTTLDefaultSeconds,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			WindowSeconds:        DefaultRateLimitWindowSeconds,
			AuthenticatedCeiling: DefaultAuthenticatedCeiling,
			AnonymousCeiling:     DefaultAnonymousCeiling,
			Backend:              "memory",
			RedisAddr:            "",
		},
		Jobs: JobsConfig{
			RankingRefreshWorkers: DefaultRankingRefreshWorkers,
			CrawlWorkers:          DefaultCrawlWorkers,
			LifecycleSweepHour:    DefaultLifecycleSweepHour,
			MaxRetries:            DefaultJobsMaxRetries,
			RetryBaseDelayMs:      DefaultJobsRetryBaseDelayMs,
			RetryMaxDelayMs:       DefaultJobsRetryMaxDelayMs,
			AffinityRecomputeIntervalSeconds: DefaultAffinityRecomputeIntervalSeconds,
		},
		Store: StoreConfig{
			Backend:       DefaultStoreBackend,
			SQLitePath:    DefaultSQLitePath,
			PostgresDSN:   "",
			RetentionDays: DefaultStoreRetentionDays,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:   DefaultRetryMaxAttempts,
			RetryBaseDelayMs:   DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:    DefaultRetryMaxDelayMs,
			CBEnabled:          true,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
			CBHalfOpenMax:      DefaultCBHalfOpenMax,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
