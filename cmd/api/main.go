package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-functions/cmd/mainconfig"
	"github.com/wolfman30/clinic-functions/internal/api/router"
	appconfig "github.com/wolfman30/clinic-functions/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-functions/internal/http/middleware"
	"github.com/wolfman30/clinic-functions/internal/observability/metrics"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic functions dev server",
		"env", cfg.Env,
		"port", cfg.Port,
		"document_store", cfg.DocumentStore,
	)

	handler, cleanup, err := setup(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BrowserTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func setup(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	awsCfg, err := appconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}
	store, err := mainconfig.OpenStore(cfg, awsCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	audit, closeAudit, err := mainconfig.OpenAudit(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	fns, err := mainconfig.BuildFunctions(cfg, awsCfg, store, audit, metrics.NewClinicMetrics(reg), logger)
	if err != nil {
		closeAudit()
		return nil, nil, err
	}

	handler := router.New(&router.Config{
		Logger:     logger,
		Dispatcher: fns.Dispatcher,
		Cognito: httpmiddleware.CognitoConfig{
			Region:     cfg.CognitoRegion,
			UserPoolID: cfg.CognitoUserPoolID,
			ClientID:   cfg.CognitoClientID,
		},
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Ready: func(ctx context.Context) error {
			if !fns.Renderer.IsReady(ctx) {
				return errors.New("browser service not ready")
			}
			return nil
		},
	})
	return handler, closeAudit, nil
}
