package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/cache"
	"github.com/corgi-proxy/corgi/internal/coldstart"
	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/crawler"
	"github.com/corgi-proxy/corgi/internal/identity"
	"github.com/corgi-proxy/corgi/internal/interaction"
	"github.com/corgi-proxy/corgi/internal/jobs"
	"github.com/corgi-proxy/corgi/internal/metrics"
	"github.com/corgi-proxy/corgi/internal/pipeline"
	"github.com/corgi-proxy/corgi/internal/proxy"
	"github.com/corgi-proxy/corgi/internal/ranking"
	"github.com/corgi-proxy/corgi/internal/ratelimit"
	"github.com/corgi-proxy/corgi/internal/router"
	"github.com/corgi-proxy/corgi/internal/store"
	"github.com/corgi-proxy/corgi/internal/store/postgres"
	"github.com/corgi-proxy/corgi/internal/tracing"
	"github.com/corgi-proxy/corgi/internal/version"
)

// Run is the main daemon orchestrator. It initialises every subsystem —
// store, identity resolution, ranking/cold-start, the timeline injector,
// the cache, the crawler, and the background job scheduler — wires them
// into the proxy server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "corgi.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "corgi").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("corgi starting")

	if IsRunning(dataDir) {
		return fmt.Errorf("corgi is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	backend, err := openBackend(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backend.Close()

	log.Info().Str("backend", cfg.Store.Backend).Msg("store opened")

	collector := metrics.NewCollector()

	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// Distributed tracing, if enabled.
	var tracingShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.ServiceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing; continuing without it")
		} else {
			tracingShutdown = shutdown
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// Crawl-target hot-reload: the frozen Config struct is never hot-reloaded,
	// but the hashtag/opt-out data file crawler.data_file points at is.
	var dataWatcher *config.DataWatcher
	if cfg.Crawler.DataFile != "" {
		w, watchErr := config.WatchData(cfg.Crawler.DataFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start crawler data watcher; continuing with config-file hashtags only")
		} else {
			dataWatcher = w
			defer dataWatcher.Close()
			dataWatcher.OnChange(func(old, newData *config.CrawlerData) {
				log.Info().Int("hashtags", len(newData.Hashtags)).Msg("crawler targets reloaded")
			})
			log.Info().Str("file", cfg.Crawler.DataFile).Msg("crawler data watcher started")
		}
	}

	// Periodic lifecycle pruning of the underlying backend's own retention
	// sweep, independent of the crawler's freshness-window sweep below.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, backend, cfg.Store.RetentionDays)
	}()

	// ---------------------------------------------------------------
	// Wire the personalization pipeline.
	// ---------------------------------------------------------------

	identityResolver := &identity.Resolver{Tokens: backend, DevBypassEnabled: cfg.Identity.DevIdentityBypass}

	instances := router.NewRegistry(cfg.Instances)

	csEngine := coldstart.New(backend, cfg.ColdStart)
	rankingEngine := ranking.New(backend, cfg.Ranking, csEngine)

	cacheStore := openCacheStore(cfg.Cache, backend)
	cacheMW, err := cache.NewCacheMiddleware(cacheStore, cache.TTLs{
		Home:     time.Duration(cfg.Cache.TTLHomeSeconds) * time.Second,
		Profile:  time.Duration(cfg.Cache.TTLProfileSeconds) * time.Second,
		Instance: time.Duration(cfg.Cache.TTLInstanceSeconds) * time.Second,
		Status:   time.Duration(cfg.Cache.TTLStatusSeconds) * time.Second,
		Default:  time.Duration(cfg.Cache.TTLDefaultSeconds) * time.Second,
	}, cfg.Cache.MaxMemoryEntries, true)
	if err != nil {
		return fmt.Errorf("creating cache middleware: %w", err)
	}

	interactionEngine := interaction.New(backend, cfg.Interaction, cacheMW)
	rateLimiter := ratelimit.New(cfg.RateLimit)

	chain := pipeline.NewChain(cacheMW)

	upstreamClient := proxy.NewUpstreamClient()
	cbRegistry := proxy.NewCircuitBreakerRegistry(
		cfg.Resilience.CBFailureThreshold,
		time.Duration(cfg.Resilience.CBResetTimeoutSec)*time.Second,
		cfg.Resilience.CBHalfOpenMax,
	)
	retryConfig := proxy.RetryConfig{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
	}

	proxyHandler := proxy.NewProxyHandler(
		chain, upstreamClient, log.Logger, instances, identityResolver, collector,
		backend, rankingEngine, csEngine, interactionEngine, rateLimiter,
		cfg.Injection, cfg.Interaction,
		cfg.Server.MaxBodySize, cfg.Server.MaxResponseSize,
		cbRegistry, retryConfig,
	)

	proxyAddr := fmt.Sprintf(":%d", cfg.Server.ProxyPort)
	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second
	proxyServer := proxy.NewServer(proxyHandler, proxyAddr, readTimeout, writeTimeout, idleTimeout, cfg.Tracing.Enabled)

	purgerDone := cacheMW.StartPurger(pruneCtx)

	// ---------------------------------------------------------------
	// Wire the crawler and background job scheduler.
	// ---------------------------------------------------------------

	scheduler := jobs.New(cfg.Jobs)
	cr := crawler.New(backend, crawler.NewHTTPFetcher(), crawler.NewLanguageDetector(), cfg.Crawler)

	v := identity.New()
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	defer jobsCancel()

	if cfg.Crawler.Enabled {
		startCrawlLoop(jobsCtx, scheduler, cr, cfg, instances, v, dataWatcher)
	}
	go scheduler.RunLifecycleLoop(jobsCtx, cfg.Jobs.LifecycleSweepHour, jobs.NewLifecycleSweepJob(cr))

	affinityInterval := time.Duration(cfg.Jobs.AffinityRecomputeIntervalSeconds) * time.Second
	if affinityInterval <= 0 {
		affinityInterval = time.Duration(config.DefaultAffinityRecomputeIntervalSeconds) * time.Second
	}
	go scheduler.RunAffinityRecomputeLoop(jobsCtx, backend, affinityInterval)

	// Channel to collect server startup errors.
	errCh := make(chan error, 1)

	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", proxyAddr).Msg("proxy server starting (TLS)")
			if err := proxyServer.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("proxy server: %w", err)
			}
		} else {
			log.Info().Str("addr", proxyAddr).Msg("proxy server starting")
			if err := proxyServer.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("proxy server: %w", err)
			}
		}
	}()

	log.Info().Int("proxy_port", cfg.Server.ProxyPort).Bool("tls", cfg.Server.TLSEnabled).
		Bool("crawler_enabled", cfg.Crawler.Enabled).Msg("corgi is ready")

	if foreground {
		scheme := "http"
		if cfg.Server.TLSEnabled {
			scheme = "https"
		}
		fmt.Printf("\n  corgi is running!\n")
		fmt.Printf("  Proxy: %s://localhost:%d\n\n", scheme, cfg.Server.ProxyPort)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	jobsCancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("job scheduler shutdown error")
	}

	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy server shutdown error")
	}

	if err := rateLimiter.Close(); err != nil {
		log.Error().Err(err).Msg("rate limiter shutdown error")
	}

	pruneCancel()
	<-purgerDone
	<-prunerDone

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}

	backend.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("corgi stopped")
	return nil
}

// openBackend selects and opens the configured persistence backend.
func openBackend(cfg config.StoreConfig) (store.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "postgres":
		return postgres.Open(cfg.PostgresDSN)
	default:
		return store.Open(cfg.SQLitePath)
	}
}

// openCacheStore selects the persistent cache tier. The "sqlite" option
// shares the configured Backend's own CacheRow tables via the adapter
// (it works for either the embedded SQLite store or networked Postgres,
// despite the name); "redis" is independent of the store backend so
// multiple corgi processes can share one cache.
func openCacheStore(cfg config.CacheConfig, backend store.Backend) cache.CacheStore {
	if strings.EqualFold(cfg.Backend, "redis") {
		return cache.NewRedisStore(cfg.RedisAddr, 0)
	}
	return store.NewCacheAdapter(backend)
}

// startCrawlLoop launches one ticking goroutine per enabled, crawl-enabled
// instance, enqueuing a crawl-cycle job at a cadence derived from the
// instance's politeness floor.
func startCrawlLoop(ctx context.Context, scheduler *jobs.Scheduler, cr *crawler.Crawler, cfg *config.Config, instances *router.Registry, v *identity.Vault, dataWatcher *config.DataWatcher) {
	for name, instCfg := range cfg.Instances {
		if !instCfg.Enabled || !instCfg.CrawlEnabled {
			continue
		}

		token := ""
		if instCfg.TokenRef != "" {
			if t, err := v.ResolveKeyRef(instCfg.TokenRef); err == nil {
				token = t
			} else {
				log.Warn().Err(err).Str("instance", name).Msg("crawler: failed to resolve crawl credential; continuing unauthenticated")
			}
		}
		inst := crawler.Instance{Name: name, Host: instCfg.Host, Token: token}

		go func(inst crawler.Instance) {
			interval := time.Duration(cfg.Crawler.MinRequestIntervalMs) * time.Millisecond * 10
			if interval < time.Minute {
				interval = time.Minute
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					hashtags := cfg.Crawler.Hashtags
					if dataWatcher != nil {
						hashtags = dataWatcher.Current().Hashtags
					}
					scheduler.Enqueue(jobs.NewCrawlCycleJob(cr, inst, hashtags))
				}
			}
		}(inst)
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("corgi does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("corgi is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to corgi (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("corgi is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("corgi is running (PID %d)\n", pid)

	statsURL := fmt.Sprintf("http://localhost:%d/health", cfg.Server.ProxyPort)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (proxy unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var health map[string]interface{}
	if err := json.Unmarshal(body, &health); err != nil {
		return nil
	}

	fmt.Printf("  Health: %v\n", health)
	return nil
}

// runPruner periodically prunes stale data from the backend.
func runPruner(ctx context.Context, backend store.Backend, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := backend.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
