package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisv9 "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/designdrill/orchestrator/internal/activities"
	"github.com/designdrill/orchestrator/internal/auth"
	"github.com/designdrill/orchestrator/internal/calc"
	"github.com/designdrill/orchestrator/internal/config"
	"github.com/designdrill/orchestrator/internal/db"
	"github.com/designdrill/orchestrator/internal/health"
	"github.com/designdrill/orchestrator/internal/httpapi"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/policy"
	"github.com/designdrill/orchestrator/internal/prompts"
	"github.com/designdrill/orchestrator/internal/session"
	"github.com/designdrill/orchestrator/internal/streaming"
	"github.com/designdrill/orchestrator/internal/temporal"
	"github.com/designdrill/orchestrator/internal/tracing"
	"github.com/designdrill/orchestrator/internal/workflows"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logLevel, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starting orchestrator",
		zap.String("environment", cfg.Environment),
		zap.String("task_queue", cfg.Temporal.TaskQueue))

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Prometheus endpoint comes up first so scrapes work through startup.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := ":" + strconv.Itoa(cfg.Service.MetricsPort)
		logger.Info("Metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Health manager and its dedicated listener respond before the slower
	// dependencies finish connecting.
	hm := health.NewManager(logger, health.WithCheckInterval(cfg.Health.CheckInterval))
	_ = hm.RegisterChecker(health.NewLLMHealthChecker(cfg.LLM.Endpoint, logger))
	var healthSrv *http.Server
	if cfg.Health.Enabled {
		healthSrv = health.StartHealthServer(hm, cfg.Health.Port, logger)
		if err := hm.Start(ctx); err != nil {
			logger.Warn("Health manager start failed", zap.Error(err))
		}
	}

	// Hot reload watches the config tree: orchestrator.yaml swaps re-apply
	// the typed config, .rego changes reload the script guard.
	var cfgMgr *config.Manager
	configDir := "config"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configDir = filepath.Dir(p)
	}
	cfgMgr, err = config.NewManager(configDir, logger)
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
		cfgMgr = nil
	} else {
		typed := config.NewTypedManager(cfgMgr, logger)
		typed.RegisterCallback(func(old, next *config.Config) error {
			if old.Logging.Level != next.Logging.Level {
				if lvl, err := zapcore.ParseLevel(next.Logging.Level); err == nil {
					logLevel.SetLevel(lvl)
					logger.Info("Log level updated", zap.String("level", next.Logging.Level))
				}
			}
			return nil
		})
		if err := typed.Initialize(); err != nil {
			logger.Warn("Typed config initialization failed", zap.Error(err))
		}
		if err := cfgMgr.Start(); err != nil {
			logger.Warn("Config watcher start failed", zap.Error(err))
			cfgMgr = nil
		}
	}

	// Postgres is shadow state: interviews run fully without it, so a
	// missing database degrades to warn-and-continue.
	var dbClient *db.Client
	dbClient, err = db.NewClient(&db.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		WriteQueueSize:  cfg.Postgres.WriteQueueSize,
		WriteWorkers:    cfg.Postgres.WriteWorkers,
	}, logger)
	if err != nil {
		logger.Warn("Postgres unavailable, continuing without persistence", zap.Error(err))
		dbClient = nil
	} else if err := dbClient.EnsureSchema(ctx); err != nil {
		logger.Warn("Schema setup failed, continuing without persistence", zap.Error(err))
		dbClient.Close()
		dbClient = nil
	}
	if dbClient != nil {
		_ = hm.RegisterChecker(health.NewPostgresHealthChecker(dbClient.Wrapper(), logger))
	}

	var authService *auth.Service
	if dbClient != nil {
		authService = auth.NewService(dbClient.DB(), logger,
			cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	} else if cfg.Auth.Enabled {
		logger.Warn("Auth requires Postgres; API will run with the dev identity")
	}

	var sessions *session.Manager
	sessions, err = session.NewManager(cfg.Redis.Addr(), cfg.Redis.Password, logger,
		session.WithTTL(cfg.Session.TTL),
		session.WithCacheSize(cfg.Session.CacheSize),
		session.WithMaxHistory(cfg.Session.MaxHistory))
	if err != nil {
		logger.Warn("Redis unavailable, continuing without sessions", zap.Error(err))
		sessions = nil
	} else {
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(sessions.Redis(), logger))
	}

	streamOpts := []streaming.Option{
		streaming.WithRingCapacity(cfg.Streaming.RingCapacity),
		streaming.WithEventTTL(cfg.Streaming.EventTTL),
	}
	if cfg.Streaming.RedisMirror && sessions != nil {
		mirror := redisv9.NewClient(&redisv9.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		streamOpts = append(streamOpts, streaming.WithMirror(mirror))
	}
	streams := streaming.NewManager(logger, streamOpts...)
	defer streams.Close()

	var guard policy.Engine
	if cfg.Policy.Enabled {
		engine, err := policy.NewOPAEngine(&policy.Config{
			Enabled:     cfg.Policy.Enabled,
			Mode:        policy.Mode(cfg.Policy.Mode),
			Path:        cfg.Policy.Path,
			FailClosed:  cfg.Policy.FailClosed,
			Environment: cfg.Policy.Environment,
		}, logger)
		if err != nil {
			if cfg.Policy.FailClosed {
				logger.Fatal("Script guard failed to load with fail_closed set", zap.Error(err))
			}
			logger.Warn("Script guard unavailable, scripts run unguarded", zap.Error(err))
		} else {
			guard = engine
			if cfgMgr != nil {
				cfgMgr.RegisterPolicyHandler(func(path string) error {
					logger.Info("Reloading script guard policies", zap.String("file", path))
					return engine.LoadPolicies()
				})
			}
		}
	}

	catalog := prompts.Default()
	if cfg.Prompts.OverridesPath != "" {
		if err := catalog.LoadOverrides(cfg.Prompts.OverridesPath); err != nil {
			logger.Fatal("Failed to load prompt overrides",
				zap.String("path", cfg.Prompts.OverridesPath), zap.Error(err))
		}
		logger.Info("Prompt overrides loaded", zap.String("path", cfg.Prompts.OverridesPath))
	}

	llmClient := llm.New(
		llm.WithEndpoint(cfg.LLM.Endpoint),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
		llm.WithLogger(logger),
	)

	runner := calc.NewRunner(
		calc.WithTimeout(cfg.Interview.CalcTimeout),
		calc.WithLogger(logger),
	)

	tc, err := temporal.Dial(ctx, cfg.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tc.Close()
	_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tc, logger))

	acts := activities.NewActivities(activities.Deps{
		LLM:           llmClient,
		Calc:          runner,
		Policy:        guard,
		Sessions:      sessions,
		Streams:       streams,
		DB:            dbClient,
		Prompts:       catalog,
		Logger:        logger,
		MaxCalcRounds: cfg.Interview.MaxCalcRounds,
	})

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(workflows.InterviewWorkflow)
	w.RegisterActivity(acts)
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	logger.Info("Temporal worker started", zap.String("queue", cfg.Temporal.TaskQueue))

	apiSrv := httpapi.NewServer(cfg, httpapi.Deps{
		Temporal: tc,
		Streams:  streams,
		Sessions: sessions,
		DB:       dbClient,
		Auth:     authService,
		Health:   hm,
	}, logger)
	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Error("HTTP API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down orchestrator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP API shutdown failed", zap.Error(err))
	}
	w.Stop()
	if cfgMgr != nil {
		cfgMgr.Stop()
	}
	if err := hm.Stop(); err != nil {
		logger.Warn("Health manager stop failed", zap.Error(err))
	}
	if healthSrv != nil {
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Health server shutdown failed", zap.Error(err))
		}
	}
	if sessions != nil {
		if err := sessions.Close(); err != nil {
			logger.Warn("Session manager close failed", zap.Error(err))
		}
	}
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			logger.Warn("Database close failed", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Orchestrator stopped")
}

// buildLogger constructs the process logger from config and returns the
// atomic level handle so hot reload can adjust verbosity.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, zap.AtomicLevel{}, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	if len(cfg.ErrorOutputPaths) > 0 {
		zcfg.ErrorOutputPaths = cfg.ErrorOutputPaths
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, zcfg.Level, nil
}
