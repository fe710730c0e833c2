package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/algo/linear"
	"github.com/fedlab/fedflow/api/handlers"
	"github.com/fedlab/fedflow/config"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/internal/database"
	"github.com/fedlab/fedflow/internal/metrics"
	"github.com/fedlab/fedflow/internal/server"
	"github.com/fedlab/fedflow/internal/telemetry"
	"github.com/fedlab/fedflow/localstate"
	"github.com/fedlab/fedflow/metric"
	"github.com/fedlab/fedflow/registry"
)

// Server wires the coordination service: organization registry, state
// store, results database, metrics, and the HTTP API on top of them.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler     *handlers.HealthHandler
	planHandler       *handlers.PlanHandler
	orgHandler        *handlers.OrgHandler
	progressHandler   *handlers.ProgressHandler
	experimentHandler *handlers.ExperimentHandler
	progressHub       *handlers.ProgressHub

	collector   *metrics.Collector
	providers   *telemetry.Providers
	pool        *database.PoolManager
	resultStore *database.ResultStore
	stateStore  localstate.Store
	orgRegistry *registry.Registry
	dispatcher  *registry.HTTPDispatcher

	cancelBackground context.CancelFunc
}

// NewServer builds the service from configuration. pool may be nil
// when no results database is configured.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, pool *database.PoolManager) (*Server, error) {
	stateStore, err := localstate.NewStore(cfg.State.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("create state store: %w", err)
	}

	var issuer *registry.TokenIssuer
	if cfg.Registry.TokenSecret != "" {
		issuer, err = registry.NewTokenIssuer(cfg.Registry.TokenSecret, cfg.Registry.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("create token issuer: %w", err)
		}
	}

	orgRegistry := registry.New(cfg.Registry.HeartbeatInterval, issuer, logger)
	dispatcher := registry.NewHTTPDispatcher(orgRegistry, issuer, registry.DispatcherConfig{
		RPS:     cfg.Registry.DispatchRPS,
		Burst:   cfg.Registry.DispatchBurst,
		Timeout: cfg.Registry.DispatchTimeout,
	}, logger)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		providers:   providers,
		pool:        pool,
		stateStore:  stateStore,
		orgRegistry: orgRegistry,
		dispatcher:  dispatcher,
		progressHub: handlers.NewProgressHub(),
	}
	if pool != nil {
		s.resultStore = database.NewResultStore(pool, logger)
	}
	return s, nil
}

// Start brings up the metrics collector, handlers, and both HTTP
// servers, and begins sweeping the organization registry.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("fedflow", nil, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	s.initHandlers(ctx)
	go s.orgRegistry.Start(ctx)

	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("results_database", s.resultStore != nil),
	)
	return nil
}

func (s *Server) initHandlers(ctx context.Context) {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("state_store", s.stateStore.Ping))
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.pool.Ping))
	}

	s.orgHandler = handlers.NewOrgHandler(s.orgRegistry, s.logger)
	s.progressHandler = handlers.NewProgressHandler(s.progressHub, s.logger)
	if s.resultStore != nil {
		s.planHandler = handlers.NewPlanHandler(s.resultStore, s.logger)
	}

	// Submitted experiments train on the participants' workers, so the
	// coordinator holds no samples of its own.
	exec := engine.New(s.stateStore, dataset.NewRegistry(), metric.NewRegistry(), s.logger, s.EngineOptions()...)
	s.experimentHandler = handlers.NewExperimentHandler(exec, s.orgRegistry, ctx, s.logger)
	s.experimentHandler.RegisterAlgo("linear_sgd", linearBuilder)
}

// linearBuilder builds the reference linear algo from request
// parameters; num_features is required, the rest default.
func linearBuilder(params json.RawMessage) (algo.Factory, error) {
	var cfg linear.Config
	if len(params) > 0 {
		if err := json.Unmarshal(params, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.NumFeatures < 1 {
		return nil, fmt.Errorf("num_features must be at least 1")
	}
	defaults := linear.DefaultConfig(cfg.NumFeatures)
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaults.LearningRate
	}
	return func() algo.Algo { return linear.New(cfg) }, nil
}

// EngineOptions returns the executor options wired to this server:
// remote dispatch, result persistence, progress streaming, and
// metrics. Embedding programs pass them to engine.New.
func (s *Server) EngineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithDispatcher(s.dispatcher),
		engine.WithProgress(s.progressHub.Publish),
		engine.WithCollector(s.collector),
		engine.WithMaxParallelism(s.cfg.Engine.MaxParallelism),
	}
	if s.resultStore != nil {
		opts = append(opts, engine.WithResultSink(s.resultStore))
	}
	return opts
}

// StateStore returns the local state store experiments persist into.
func (s *Server) StateStore() localstate.Store { return s.stateStore }

func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/orgs", s.orgHandler.HandleRegister)
	mux.HandleFunc("GET /api/v1/orgs", s.orgHandler.HandleList)
	mux.HandleFunc("GET /api/v1/orgs/{id}", s.orgHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/orgs/{id}/heartbeat", s.orgHandler.HandleHeartbeat)

	mux.HandleFunc("GET /api/v1/plans/{key}/progress", s.progressHandler.HandleProgress)
	mux.HandleFunc("POST /api/v1/experiments", s.experimentHandler.HandleRun)

	if s.planHandler != nil {
		mux.HandleFunc("GET /api/v1/plans", s.planHandler.HandleList)
		mux.HandleFunc("GET /api/v1/plans/{key}", s.planHandler.HandleGet)
		mux.HandleFunc("GET /api/v1/plans/{key}/performances", s.planHandler.HandlePerformances)
		s.logger.Info("plan API routes registered")
	}

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, s.cfg.Server, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsCfg := s.cfg.Server
	metricsCfg.HTTPPort = s.cfg.Server.MetricsPort

	s.metricsManager = server.NewManager(mux, metricsCfg, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a signal arrives, then shuts everything
// down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops servers and releases backing stores.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.stateStore != nil {
		if err := s.stateStore.Close(); err != nil {
			s.logger.Error("state store close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}
	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
