package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"

	"codedeploy-autodeploy/internal/alerts"
	"codedeploy-autodeploy/internal/api"
	"codedeploy-autodeploy/internal/cloud"
	"codedeploy-autodeploy/internal/cloud/codedeploy"
	"codedeploy-autodeploy/internal/cloud/ec2"
	"codedeploy-autodeploy/internal/cloud/ratelimit"
	"codedeploy-autodeploy/internal/config"
	"codedeploy-autodeploy/internal/events/sqs"
	"codedeploy-autodeploy/internal/events/watcher"
	"codedeploy-autodeploy/internal/logger"
	"codedeploy-autodeploy/internal/metrics"
	"codedeploy-autodeploy/internal/orchestrator"
)

// Build information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("CodeDeploy AutoDeploy\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	// Temporary logger for startup, before config is loaded
	tempFormat := "json"
	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		tempFormat = envFormat
	}
	tempLogger := logger.NewWithFormat("main", logger.LevelInfo, tempFormat)
	tempLogger.Info("CodeDeploy AutoDeploy starting...",
		"version", Version,
		"build_time", BuildTime,
		"go_version", GoVersion)

	cfg, err := config.LoadConfig()
	if err != nil {
		tempLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	mainLogger := logger.NewWithFormat("main", logger.LogLevel(cfg.LogLevel), cfg.LogFormat)
	logger.SetGlobalConfig(logger.LogLevel(cfg.LogLevel), cfg.LogFormat)

	mainLogger.Info("Configuration loaded successfully",
		"application", cfg.ApplicationName,
		"deployment_group", cfg.DeploymentGroupName,
		"strategy", cfg.IsolationStrategy,
		"runtime", cfg.Runtime,
		"region", cfg.AWSRegion,
		"log_level", cfg.LogLevel,
		"log_format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := cloud.LoadConfig(ctx, cfg.AWSRegion)
	if err != nil {
		mainLogger.Error("Failed to initialize AWS configuration", "error", err)
		os.Exit(1)
	}

	rec := metrics.New()
	limiter := ratelimit.NewRateLimiter(cfg.APIRateLimitQPS, cfg.APIRateLimitBurst)
	inventory := ec2.NewInventoryFromConfig(awsCfg, limiter, rec)
	control := codedeploy.NewControlPlaneFromConfig(awsCfg, limiter, rec)

	alertManager := alerts.NewManager(alerts.Config{
		SlackWebhookURL: cfg.SlackWebhookURL,
		Enabled:         cfg.AlertsEnabled,
	})
	defer alertManager.Close()

	orch := orchestrator.NewOrchestrator(cfg, inventory, control, alertManager, rec)

	if cfg.IsLambdaRuntime() {
		mainLogger.Info("Handling events as Lambda invocations")
		lambda.Start(func(ctx context.Context, payload json.RawMessage) (string, error) {
			res, err := orch.HandleEvent(ctx, payload)
			return res.String(), err
		})
		return
	}

	if err := runQueue(ctx, cfg, awsCfg, orch, rec, mainLogger); err != nil {
		mainLogger.Error("Queue watcher stopped with error", "error", err)
		os.Exit(1)
	}
	mainLogger.Info("CodeDeploy AutoDeploy shutdown complete")
}

// runQueue long-polls the configured queue until ctx is cancelled
func runQueue(ctx context.Context, cfg *config.Config, awsCfg aws.Config, orch *orchestrator.Orchestrator, rec *metrics.Recorder, mainLogger *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := sqs.NewClientFromConfig(awsCfg, cfg.SQSQueueURL, cfg.SQSVisibilityTimeout)

	var apiServerDone chan error
	if cfg.APIEnabled {
		mainLogger.Info("Starting API server", "port", cfg.APIPort)
		apiServer := api.NewServer(cfg, orch.State(), rec.Registry())
		apiServerDone = make(chan error, 1)
		go func() {
			apiServerDone <- apiServer.Start(ctx, cfg.APIPort)
		}()
	}

	mainLogger.Info("Watching queue for events", "queue_url", queue.QueueURL())

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- watcher.NewQueueWatcher(queue, orch).Start(ctx)
	}()

	select {
	case <-ctx.Done():
		mainLogger.Info("Received shutdown signal, initiating graceful shutdown")

		// An in-flight event may still be restoring its episode
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.InvocationTimeout+time.Minute)
		defer shutdownCancel()

		select {
		case <-watcherDone:
			mainLogger.Info("Queue watcher stopped cleanly")
		case <-shutdownCtx.Done():
			mainLogger.Warn("Queue watcher shutdown timeout exceeded")
		}

	case err := <-watcherDone:
		if err != nil && err != context.Canceled {
			return err
		}
	}

	cancel()
	if apiServerDone != nil {
		if err := <-apiServerDone; err != nil {
			mainLogger.Warn("API server shutdown failed", "error", err)
		}
	}
	return nil
}
