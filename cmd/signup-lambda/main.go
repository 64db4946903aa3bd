package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-functions/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-functions/internal/config"
	"github.com/wolfman30/clinic-functions/internal/observability/metrics"
	"github.com/wolfman30/clinic-functions/internal/signup"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).With("function", "presignup")

	awsCfg, err := appconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	store, err := mainconfig.OpenStore(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}

	gate := signup.NewGate(store, metrics.NewClinicMetrics(prometheus.NewRegistry()), logger)
	lambda.Start(signup.NewPreSignUpHandler(gate, logger).Handle)
}
