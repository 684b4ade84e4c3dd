// main package for the voice-service
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

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/metrics"
	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/book-expert/voice-service/internal/provider"
	"github.com/book-expert/voice-service/internal/storage"
	"github.com/book-expert/voice-service/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	bootstrapLogFile   = "voice-service-bootstrap.log"
	serviceLogFile     = "voice-service.log"
	clientName         = "voice-service"
	healthCheckTimeout = 10 * time.Second
	readHeaderTimeout  = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
	metricsPath        = "/metrics"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig() (*config.Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(clientName))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	var bucketOpts []objectstore.Option
	if cfg.NATS.ObjectStoreMaxBytes > 0 {
		bucketOpts = append(bucketOpts, objectstore.WithMaxBytes(cfg.NATS.ObjectStoreMaxBytes))
	}

	texts, err := objectstore.New(jetstreamContext, cfg.NATS.TextObjectStoreBucket, log, bucketOpts...)
	if err != nil {
		return err
	}

	audio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket, log, bucketOpts...)
	if err != nil {
		return err
	}

	log.Info("Reading text from '%s', writing audio to '%s'", texts.Bucket(), audio.Bucket())

	synthesizer, err := provider.New(cfg.Synthesis, log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis provider: %w", err)
	}

	checkProvider(ctx, synthesizer, log)

	store, err := storage.NewLocal(cfg.Paths.StorageDir, log)
	if err != nil {
		return fmt.Errorf("failed to prepare storage: %w", err)
	}

	policy, err := pipeline.ParsePolicy(cfg.Pipeline.FailurePolicy)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stopMetrics := serveMetrics(cfg.Metrics.ListenAddress, registry, log)
	defer stopMetrics()

	jobWorker, err := worker.NewNatsWorker(natsConnection, texts, audio,
		pipeline.Deps{
			Provider: synthesizer,
			Storage:  store,
			Log:      log,
			Metrics:  metrics.New(registry),
		},
		worker.Settings{
			Subject:        cfg.NATS.JobSubject,
			MaxChunkLength: cfg.Pipeline.MaxChunkLength,
			Policy:         policy,
			Workers:        cfg.Synthesis.Workers,
			CallTimeout:    cfg.Synthesis.Timeout(),
			JobTimeout:     cfg.Pipeline.JobTimeout(),
			Normalize:      cfg.Pipeline.NormalizeText,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Voice-Service initialized with %s provider. Listening for jobs on subject: %s",
		cfg.Synthesis.Provider, cfg.NATS.JobSubject)

	err = jobWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Voice-Service stopped.")

	return nil
}

// checkProvider logs whether a provider that can report its health is up.
// The service still starts when it is not.
func checkProvider(ctx context.Context, synthesizer core.SynthesisProvider, log *logger.Logger) {
	checker, ok := synthesizer.(core.HealthChecker)
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := checker.HealthCheck(checkCtx)
	if err != nil {
		log.Warn("Synthesis provider is not healthy yet: %v", err)

		return
	}

	log.Info("Synthesis provider is healthy.")
}

// serveMetrics exposes the registry when address is set and returns a
// function that stops the server.
func serveMetrics(address string, registry *prometheus.Registry, log *logger.Logger) func() {
	if address == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler(registry))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info("Serving metrics on %s%s", address, metricsPath)

		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("Metrics server failed: %v", serveErr)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := server.Shutdown(ctx)
		if shutdownErr != nil {
			log.Warn("Failed to stop metrics server: %v", shutdownErr)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
