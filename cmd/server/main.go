package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/liamcoop/textflow/internal/config"
	"github.com/liamcoop/textflow/internal/logger"
	"github.com/liamcoop/textflow/internal/metrics"
	"github.com/liamcoop/textflow/pipeline"
	"github.com/liamcoop/textflow/rules"
	"github.com/liamcoop/textflow/workspace"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *redis.Client
	engine   *rules.Engine
	manager  *workspace.Manager
	metrics  *metrics.Recorder
	router   *chi.Mux
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer connects to the backends named in cfg and loads every stored workspace.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	return NewServerWithBackends(ctx, cfg, db, rdb)
}

// NewServerWithBackends builds a server around already-connected backends.
// A nil db keeps flows in memory; a nil rdb keeps workspace state in memory.
func NewServerWithBackends(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client) (*Server, error) {
	log := logger.Logger
	rec := metrics.New()

	engine, err := rules.NewEngine(
		rules.WithPatternCache(rules.NewInMemoryPatternCache(rules.CacheConfig{
			TTL:        cfg.Engine.CacheTTL,
			MaxEntries: cfg.Engine.CacheSize,
		})),
		rules.WithMatchTimeout(cfg.Engine.MatchTimeout),
		rules.WithLogger(log),
		rules.WithObserver(rec),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var state workspace.StateStore = workspace.NewInMemoryStateStore()
	if rdb != nil {
		state = workspace.NewRedisStateStore(rdb, cfg.Redis.Prefix)
	}

	manager := workspace.NewManager(engine,
		workspace.WithDB(db),
		workspace.WithStateStore(state),
		workspace.WithLogger(log),
		workspace.WithPipelineOptions(
			pipeline.WithQuietPeriod(cfg.Engine.QuietPeriod),
			pipeline.WithRealTime(cfg.Engine.RealTime),
			pipeline.WithRecorder(rec),
		),
	)

	log.Info("loading workspaces")
	if err := manager.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		db:      db,
		redis:   rdb,
		engine:  engine,
		manager: manager,
		metrics: rec,
		logger:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The websocket is long-lived and must not inherit the request timeout
		r.Get("/workspaces/{workspaceId}/ws", s.handleWebsocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)
			r.Post("/process", s.handleProcess)
			r.Post("/highlight", s.handleHighlight)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", s.handleListWorkspaces)
				r.Post("/", s.handleCreateWorkspace)

				r.Route("/{workspaceId}", func(r chi.Router) {
					r.Get("/", s.handleGetWorkspace)
					r.Delete("/", s.handleDeleteWorkspace)

					r.Get("/flows", s.handleListFlows)
					r.Post("/flows", s.handleCreateFlow)
					r.Get("/flows/export", s.handleExportFlows)
					r.Post("/flows/import", s.handleImportFlows)
					r.Get("/flows/{flowId}", s.handleGetFlow)
					r.Put("/flows/{flowId}", s.handleUpdateFlow)
					r.Delete("/flows/{flowId}", s.handleDeleteFlow)
					r.Get("/flows/{flowId}/issues", s.handleFlowIssues)
					r.Post("/flows/{flowId}/reorder", s.handleReorderRules)
					r.Post("/flows/{flowId}/rules", s.handleCreateRule)
					r.Put("/flows/{flowId}/rules/{ruleId}", s.handleUpdateRule)
					r.Delete("/flows/{flowId}/rules/{ruleId}", s.handleDeleteRule)

					r.Get("/editor", s.handleGetEditor)
					r.Put("/editor", s.handlePutEditor)
					r.Get("/selection", s.handleGetSelection)
					r.Put("/selection", s.handlePutSelection)
					r.Get("/mode", s.handleGetMode)
					r.Put("/mode", s.handlePutMode)
					r.Post("/process", s.handleWorkspaceProcess)
					r.Get("/output", s.handleGetOutput)
					r.Get("/layout", s.handleGetLayout)
					r.Put("/layout", s.handlePutLayout)
				})
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request with its status and duration, counts slow
// requests and feeds the HTTP metrics by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		}
		if s.cfg.Server.SlowRequest > 0 && elapsed > s.cfg.Server.SlowRequest && !websocket.IsWebSocketUpgrade(r) {
			logger.WarnSlowRequest()
			s.logger.Warn("slow request", attrs...)
			return
		}
		s.logger.Debug("request served", attrs...)
	})
}

// Close releases the workspaces and backends.
func (s *Server) Close() {
	s.manager.Close()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Logger.Error(message, "status", status, "err", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workspace.ErrWorkspaceNotFound),
		errors.Is(err, rules.ErrFlowNotFound),
		errors.Is(err, workspace.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrFlowExists):
		return http.StatusConflict
	case errors.Is(err, rules.ErrInvalidFlow),
		errors.Is(err, workspace.ErrInvalidLayout):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

func main() {
	configPath := flag.String("config", os.Getenv("TEXTFLOW_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "err", err)
	}

	logger.Setup(logger.Options{
		Level:       cfg.Log.Level,
		SampleRate:  cfg.Log.SampleRate,
		OTEL:        cfg.Log.OTEL,
		ServiceName: cfg.Log.ServiceName,
	})
	defer logger.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "err", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr,
			"database", cfg.Database.URL != "", "redis", cfg.Redis.Addr != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "err", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}

	logger.Info("server stopped")
}
