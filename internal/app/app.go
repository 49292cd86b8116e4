// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/triage-garden/api/openapi"
	"github.com/bissquit/triage-garden/internal/alerting"
	"github.com/bissquit/triage-garden/internal/alerting/email"
	"github.com/bissquit/triage-garden/internal/alerting/mattermost"
	"github.com/bissquit/triage-garden/internal/config"
	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
	"github.com/bissquit/triage-garden/internal/pkg/httputil"
	"github.com/bissquit/triage-garden/internal/pkg/metrics"
	"github.com/bissquit/triage-garden/internal/scenario"
	"github.com/bissquit/triage-garden/internal/storage"
	"github.com/bissquit/triage-garden/internal/validation"
	"github.com/bissquit/triage-garden/internal/version"
	"github.com/bissquit/triage-garden/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         storage.Store
	db            *pgxpool.Pool
	workflow      *workflow.Service
	engine        *validation.Engine
	alertWorkers  []*alerting.Worker
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
}

// New creates a new application instance. It opens the state store and
// restores the persisted sessions; a restore failure is fatal.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx := ctxlog.WithLogger(context.Background(), logger)

	store, db, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	catalog, err := scenario.Load()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load scenario catalog: %w", err)
	}

	wf := workflow.NewService(store, catalog)
	if err := wf.Restore(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("restore session state: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)

	app := &App{
		config:   cfg,
		logger:   logger,
		store:    store,
		db:       db,
		workflow: wf,
		bgCancel: bgCancel,
	}

	app.engine = validation.NewEngine(
		validation.NewSimulatedProber(simulationConfig(cfg.Validation.Simulation)),
		validationConfig(cfg.Validation),
	)
	wf.AddObserver(app.engine)

	if cfg.Alerting.Enabled {
		workers, err := app.setupAlerting()
		if err != nil {
			bgCancel()
			app.engine.Stop()
			_ = store.Close()
			return nil, fmt.Errorf("setup alerting: %w", err)
		}
		app.alertWorkers = workers
		for _, w := range workers {
			w.Start(bgCtx)
		}
	}

	if db != nil {
		go app.collectDBMetrics(bgCtx)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// setupAlerting gives every configured channel its own queue and worker.
func (a *App) setupAlerting() ([]*alerting.Worker, error) {
	cfg := a.config.Alerting

	renderer, err := alerting.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create alert renderer: %w", err)
	}

	var senders []alerting.Sender
	if cfg.Mattermost.WebhookURL != "" {
		senders = append(senders, mattermost.NewSender(mattermost.Config{
			WebhookURL: cfg.Mattermost.WebhookURL,
			Username:   cfg.Mattermost.Username,
			IconURL:    cfg.Mattermost.IconURL,
			Channel:    cfg.Mattermost.Channel,
			Timeout:    cfg.Mattermost.Timeout,
		}))
	}
	if cfg.Email.Host != "" {
		sender, err := email.NewSender(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Timeout:  cfg.Email.Timeout,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if len(senders) == 0 {
		return nil, errors.New("no alert channel configured")
	}

	workerCfg := alerting.WorkerConfig{
		NumWorkers:        cfg.Worker.NumWorkers,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		InitialBackoff:    cfg.Worker.InitialBackoff,
		MaxBackoff:        cfg.Worker.MaxBackoff,
		BackoffMultiplier: cfg.Worker.BackoffMultiplier,
	}

	workers := make([]*alerting.Worker, 0, len(senders))
	for _, sender := range senders {
		queue := alerting.NewQueue(sender.Name(), cfg.QueueSize)
		a.engine.AddObserver(alerting.NewNotifier(domain.DiscrepancySeverity(cfg.MinSeverity), renderer, queue))
		workers = append(workers, alerting.NewWorker(workerCfg, queue, sender))

		a.logger.Info("alert channel configured",
			"sender", sender.Name(),
			"min_severity", cfg.MinSeverity,
			"queue_size", cfg.QueueSize,
		)
	}
	return workers, nil
}

// Run starts the HTTP servers and blocks until the main server stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Backend,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the servers, cancels running validations, stops alert
// delivery and closes the state store.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	a.engine.Stop()
	for _, w := range a.alertWorkers {
		w.Stop()
	}
	a.bgCancel()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Workflow returns the session service.
func (a *App) Workflow() *workflow.Service {
	return a.workflow
}

// Engine returns the validation engine.
func (a *App) Engine() *validation.Engine {
	return a.engine
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time.
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapi.Spec)
	})

	workflowHandler := workflow.NewHandler(a.workflow)
	validationHandler := validation.NewHandler(a.engine, a.workflow)

	r.Route("/api/v1", func(r chi.Router) {
		workflowHandler.RegisterRoutes(r)
		validationHandler.RegisterRoutes(r)
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := a.store.Ping(ctx)
	metrics.RecordStorePing(a.config.Storage.Backend, err)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "state store unavailable"})
		return
	}

	httputil.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "triage-garden")
}
