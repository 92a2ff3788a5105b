package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/voltmon/energy-usage-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	// Load .env file - flexible path for both local runs and containers
	envPaths := []string{
		".env",
		"../../.env",
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
		)
	}

	envLoaded := false
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		fmt.Println("No .env file found, using system environment variables (OK for pods/containers)")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideMQConnection,
			ProvideTimeSeriesClient,
			ProvideBucketStore,
			ProvideUserLookup,
			ProvideDeviceLookup,
			ProvideValidator,
			ProvideEngine,
			ProvideProcessorService,
			ProvideAlertPublisher,
			ProvideDeduplicator,
			ProvideDispatcher,
			ProvideMonitor,
			ProvideUsageQueryService,
			ProvideHTTPServer,
		),
		fx.Invoke(startWorker),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "energy-usage-worker"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: failed to start within 30 seconds. A dependency (Postgres, Kafka, RabbitMQ or InfluxDB) is likely not accessible; check the connection errors above.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
