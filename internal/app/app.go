package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/config"
	"mailagent-go/internal/credential"
	"mailagent-go/internal/db"
	"mailagent-go/internal/enrich"
	"mailagent-go/internal/handler"
	"mailagent-go/internal/llm"
	"mailagent-go/internal/metrics"
	"mailagent-go/internal/provider"
	"mailagent-go/internal/provider/gmail"
	"mailagent-go/internal/provider/imap"
	"mailagent-go/internal/reply"
	"mailagent-go/internal/repository"
	"mailagent-go/internal/scheduler"
	"mailagent-go/internal/server"
	"mailagent-go/internal/syncer"
)

// App holds the constructed components of the service.
type App struct {
	Config     *config.Config
	Store      *repository.Repository
	Provider   provider.Provider
	LLM        *llm.Client
	Classifier *enrich.Classifier
	Replies    *reply.Manager
	Syncer     *syncer.Service
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Metrics

	closers []func() error
}

// SetupLogging configures logrus from cfg. The returned function closes the
// log file, if one was opened.
func SetupLogging(cfg config.LogConfig) (func() error, error) {
	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.File == "" {
		logrus.SetOutput(os.Stdout)
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	return f.Close, nil
}

// LoadConfig loads and validates the configuration and sets up logging.
func LoadConfig() (*config.Config, func() error, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	closeLog, err := SetupLogging(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

// Build constructs every component from cfg and registers metrics with reg.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.NewMetrics(reg)}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.Store = repository.New(dbConn)

	a.Provider, err = newProvider(ctx, cfg.Gmail)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Provider.Close)

	a.LLM = llm.NewClient(cfg.LLM, llm.WithMetrics(a.Metrics))
	a.Classifier = enrich.NewClassifier(a.LLM, cfg.LLM.MaxTokensClassify, a.Metrics)
	a.Replies = reply.NewManager(a.LLM, a.Store, cfg.LLM.MaxTokensResponse, a.Metrics)
	a.Syncer = syncer.NewService(a.Provider, a.Store, a.Classifier, cfg.Sync, a.Metrics)
	a.Scheduler = scheduler.New(&cfg.Scheduler, cfg.Sync.MaxEmailsPerSync, a.Syncer)

	return a, nil
}

func newProvider(ctx context.Context, cfg config.GmailConfig) (provider.Provider, error) {
	if cfg.UseIMAP {
		p, err := imap.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		logrus.Info("Using IMAP for email fetching")
		return p, nil
	}

	refreshToken := cfg.RefreshToken
	if refreshToken == "" && cfg.UseKeyring {
		token, err := credential.NewTokenStore().RefreshToken(cfg.UserEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to read refresh token (run `mailagent token` first): %w", err)
		}
		refreshToken = token
	}

	p, err := gmail.NewClient(ctx, cfg, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail API client: %w", err)
	}
	logrus.Info("Using Gmail API for email fetching")
	return p, nil
}

// Close releases the provider connection and the database.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run initializes and starts the application
func Run() error {
	cfg, closeLog, err := LoadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	logrus.Info("Starting MailAgent service")

	a, err := Build(context.Background(), cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.Errorf("Failed to release resources: %v", err)
		}
	}()

	return a.Serve()
}

// Serve runs the HTTP server and the scheduler until SIGINT or SIGTERM.
func (a *App) Serve() error {
	gin.SetMode(gin.ReleaseMode)

	h := handler.NewHandlers(handler.Deps{
		Store:     a.Store,
		Provider:  a.Provider,
		Syncer:    a.Syncer,
		Replies:   a.Replies,
		LLM:       a.LLM,
		Scheduler: a.Scheduler,
		Metrics:   a.Metrics,
		Gatherer:  prometheus.DefaultGatherer,
	})
	router := server.SetupRouter(h, a.Config.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	h.Wait()

	logrus.Info("Server stopped gracefully")
	return runErr
}
