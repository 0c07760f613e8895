package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroomhub/internal/api"
	"classroomhub/internal/assignment"
	"classroomhub/internal/auth"
	"classroomhub/internal/booking"
	"classroomhub/internal/classroom"
	"classroomhub/internal/config"
	"classroomhub/internal/database"
	"classroomhub/internal/hub"
	"classroomhub/internal/keylock"
	"classroomhub/internal/lifecycle"
	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
	"classroomhub/internal/router"
	"classroomhub/internal/scores"
	"classroomhub/internal/session"
	"classroomhub/internal/websocket"
	pkgdatabase "classroomhub/pkg/database"
	"classroomhub/pkg/interfaces"
)

// Housekeeping task ids scheduled next to the lifecycle tasks.
const (
	RateLimitSweepID = "housekeeping:rate-limit-sweep"
	RetryFailedID    = "housekeeping:retry-failed"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config *config.Config
	logger *slog.Logger

	store      interfaces.Store
	classrooms *classroom.Repository
	sessions   *session.Manager
	bookings   *booking.Ledger
	scores     *scores.Service
	registry   *websocket.Registry
	hub        *hub.Hub
	engine     *assignment.Engine
	scheduler  *lifecycle.Scheduler
	lifecycle  *lifecycle.Service
	router     *router.Router
	api        *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Repositories → Ledgers → Registry → Hub → Lifecycle → Router → API → HTTP
func NewApplication(cfg *config.Config, logOutput io.Writer) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logOutput == nil {
		logOutput = os.Stdout
	}
	logger, err := logging.New(logOutput, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	var collector metrics.Collector = metrics.NewNop()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom, err := metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		collector = prom
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// STEP 1: Storage (foundation layer)
	store, err := openStore(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	validator, err := auth.NewValidator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build token validator: %w", err)
	}

	// STEP 2: Repositories and ledgers
	classrooms := classroom.NewRepository(store, logger)
	sessions := session.NewManager(store, logger, collector)
	bookings := booking.NewLedger()
	scoreService := scores.NewService(store, scores.NewLedger(), logger, collector)

	// STEP 3: Connection registry and broadcast hub
	registry := websocket.NewRegistry(logger, collector, scoreService.Ledger())
	broadcastHub := hub.NewHub(registry, logger)

	// STEP 4: Assignment and lifecycle share the classroom key space
	classroomLocks := keylock.New(keylock.DefaultStripes)
	engine := assignment.NewEngine(classrooms, sessions, bookings, scoreService, classroomLocks, logger, collector)
	engine.SetSafetyOffset(cfg.Booking.SafetyOffset)

	scheduler := lifecycle.NewScheduler(cfg.Location(), logger)
	runner := lifecycle.NewRunner(lifecycle.RetryPolicy{
		Attempts: cfg.Lifecycle.RetryAttempts,
		Delay:    cfg.Lifecycle.RetryDelay,
	}, logger, collector)
	lifecycleService := lifecycle.NewService(lifecycle.Dependencies{
		Scheduler:   scheduler,
		Runner:      runner,
		Classrooms:  classrooms,
		Sessions:    sessions,
		Scores:      scoreService,
		Bookings:    bookings,
		Registry:    registry,
		Broadcaster: broadcastHub,
		Locks:       classroomLocks,
	}, lifecycle.Config{
		SessionEndGrace:  cfg.Lifecycle.SessionEndGrace,
		ArchiveSchedule:  cfg.Lifecycle.ArchiveSchedule,
		ArchiveBatchSize: cfg.Lifecycle.ArchiveBatchSize,
		Location:         cfg.Location(),
	}, logger)
	engine.SetRegistrar(lifecycleService)

	// STEP 5: Real-time event routing
	limiter := router.NewRateLimiter(cfg.RateLimit.EventsPerMinute, time.Minute)
	eventRouter := router.NewRouter(registry, sessions, engine, scoreService, broadcastHub, limiter, logger, collector)
	wsHandler := websocket.NewHandler(registry, validator, eventRouter, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	// STEP 6: HTTP API with the WebSocket endpoint mounted
	apiServer := api.NewServer(api.Dependencies{
		Joiner:     engine,
		Classrooms: classrooms,
		Sessions:   sessions,
		Scores:     scoreService,
		Registry:   registry,
		Store:      store,
		Validator:  validator,
		Metrics:    metricsHandler,
	}, logger)
	apiServer.Handle("/ws", wsHandler)

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      store,
		classrooms: classrooms,
		sessions:   sessions,
		bookings:   bookings,
		scores:     scoreService,
		registry:   registry,
		hub:        broadcastHub,
		engine:     engine,
		scheduler:  scheduler,
		lifecycle:  lifecycleService,
		router:     eventRouter,
		api:        apiServer,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// openStore opens the configured storage backend. SQLite databases are
// migrated and their schema verified before use.
func openStore(cfg config.DatabaseConfig, logger *slog.Logger) (interfaces.Store, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on exit")
		return database.NewMemoryStore(), nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.WriteTimeout = cfg.Timeout
	manager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	if err := pkgdatabase.NewMigrationManager(manager.DB(), nil).ApplyMigrations(); err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(manager.DB()).Validate(); err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("database schema check failed: %w", err)
	}
	logger.Info("database ready", "path", cfg.Path)
	return manager, nil
}

// Start begins application execution
// Startup coordination ensures all components are ready before serving:
// hub → scheduler → lifecycle restore → housekeeping → HTTP
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}
	app.scheduler.Start()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.abortStart(cancel)
		return fmt.Errorf("failed to restore lifecycle tasks: %w", err)
	}
	app.scheduleHousekeeping(runCtx)

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.abortStart(cancel)
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.listener = listener
	app.cancel = cancel
	app.serveErr = make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
			app.serveErr <- err
		}
		close(app.serveErr)
	}()

	app.logger.Info("classroomhub started", "addr", listener.Addr().String())
	return nil
}

func (app *Application) abortStart(cancel context.CancelFunc) {
	ctx, done := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer done()
	_ = app.scheduler.Stop(ctx)
	_ = app.hub.Stop()
	cancel()
}

// scheduleHousekeeping registers the recurring jobs that keep in-memory
// state bounded and retry lifecycle tasks that exhausted their attempts.
func (app *Application) scheduleHousekeeping(ctx context.Context) {
	limiter := app.router.RateLimiter()
	app.scheduler.Schedule(RateLimitSweepID, interfaces.Trigger{Daily: "@every 5m"}, func() {
		if n := limiter.Cleanup(); n > 0 {
			app.logger.Debug("idle rate limit entries removed", "users", n)
		}
	})
	app.scheduler.Schedule(RetryFailedID, interfaces.Trigger{Daily: "@every 10m"}, func() {
		if n := app.lifecycle.RetryFailed(ctx); n > 0 {
			app.logger.Info("failed lifecycle tasks recovered", "tasks", n)
		}
	})
}

// Errors reports a fatal HTTP server failure after Start. The channel is
// closed when the server stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Scheduler → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("shutting down classroomhub")
	var errs []error

	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}
	if err := app.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	if failed := app.lifecycle.Failed(); len(failed) > 0 {
		app.logger.Warn("lifecycle tasks still failed at shutdown", "tasks", len(failed))
	}
	app.logger.Info("classroomhub shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listen address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.api
}

// Store returns the storage collaborator.
func (app *Application) Store() interfaces.Store {
	return app.store
}

// Classrooms returns the classroom repository, used to seed definitions.
func (app *Application) Classrooms() *classroom.Repository {
	return app.classrooms
}

// Lifecycle returns the lifecycle service.
func (app *Application) Lifecycle() *lifecycle.Service {
	return app.lifecycle
}
