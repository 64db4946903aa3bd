package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-functions/cmd/mainconfig"
	"github.com/wolfman30/clinic-functions/internal/callable"
	appconfig "github.com/wolfman30/clinic-functions/internal/config"
	"github.com/wolfman30/clinic-functions/internal/observability/metrics"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).With("function", "callable")
	ctx := context.Background()

	awsCfg, err := appconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	store, err := mainconfig.OpenStore(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	audit, closeAudit, err := mainconfig.OpenAudit(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open audit trail", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	fns, err := mainconfig.BuildFunctions(cfg, awsCfg, store, audit, metrics.NewClinicMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		logger.Error("failed to build callables", "error", err)
		os.Exit(1)
	}

	logger.Info("callable function ready", "functions", fns.Dispatcher.Names())
	lambda.Start(callable.NewAPIGatewayHandler(fns.Dispatcher, logger).Handle)
}
