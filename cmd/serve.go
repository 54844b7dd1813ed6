package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/sitewatch/services/monitoring/api"
	"example.com/sitewatch/services/monitoring/config"
	"example.com/sitewatch/services/monitoring/internal/cache"
	"example.com/sitewatch/services/monitoring/internal/database"
	"example.com/sitewatch/services/monitoring/internal/evaluator"
	"example.com/sitewatch/services/monitoring/internal/messaging"
	"example.com/sitewatch/services/monitoring/internal/notifier"
	"example.com/sitewatch/services/monitoring/internal/recovery"
	"example.com/sitewatch/services/monitoring/internal/repository"
	"example.com/sitewatch/services/monitoring/internal/service"
	"example.com/sitewatch/services/monitoring/internal/sessions"
	"example.com/sitewatch/services/monitoring/internal/telemetry"
	"example.com/sitewatch/services/monitoring/internal/timeseries"
	"example.com/sitewatch/services/monitoring/internal/upstream"
	"example.com/sitewatch/services/monitoring/internal/watchdog"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring service",
	Long: `Starts the monitoring service: consumes sensor readings from the
message queue and the HTTP API, evaluates them against alert conditions,
pushes alerts to operator sessions, watches device liveness and
backfills transmission gaps.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
}

// startServer initializes and starts the monitoring service
func startServer() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override config with command line flags if provided
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	// Initialize database with retry logic
	var db database.DB
	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg.Database)
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			// Exponential backoff
			retryInterval *= 2
		}
	}

	if err != nil {
		log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	}

	log.Info("Successfully connected to database")
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	// Initialize Redis for the operator session directory
	log.Info("Connecting to Redis...")
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		log.Info("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	// Initialize the time-series sample store
	log.Info("Connecting to Elasticsearch...")
	sampleStore, err := timeseries.NewElasticStore(cfg.Elastic)
	if err != nil {
		log.Fatalf("Failed to connect to Elasticsearch: %v", err)
	}

	// Initialize messaging client
	log.Info("Connecting to message broker...")
	msgClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "monitoring-service")
	if err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer func() {
		log.Info("Closing messaging connection...")
		if err := msgClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing messaging connection")
		}
	}()

	// Initialize New Relic if enabled
	nrCfg := cfg.NewRelic
	if disableNewRelic {
		nrCfg.Enabled = false
	}
	nrApp, err := telemetry.InitNewRelic(nrCfg)
	if err != nil {
		log.Warnf("Failed to initialize New Relic: %v", err)
	}

	// Create repositories and the device state cache
	log.Info("Initializing repositories...")
	repo := repository.NewRepository(db)
	stateCache := cache.NewDeviceStateCache(repo, cfg.Monitoring.DeviceStateTTL)

	// Alert fan-out: session directory in Redis, delivery over the
	// alerts queue
	sessionDir := sessions.NewDirectory(redisClient)
	pushChannel := messaging.NewPushChannel(msgClient)
	alertNotifier := notifier.NewNotifier(repo, repo, sessionDir, pushChannel, log)

	// Gap recovery against the upstream telemetry platform
	upstreamClient := upstream.NewClient(cfg.Upstream)
	recoverySvc := recovery.NewService(sampleStore, upstreamClient, log)

	// Liveness watchdog
	dog := watchdog.New(recoverySvc, alertNotifier, stateCache, cfg.Monitoring.EscalationThreshold, log)

	// Condition evaluation
	eval := evaluator.NewEvaluator(repo, stateCache, alertNotifier, log)

	// Create service with configuration
	log.Info("Initializing service layer...")
	svc, err := service.NewService(service.ServiceConfig{
		Repository:             repo,
		States:                 stateCache,
		Evaluator:              eval,
		Watchdog:               dog,
		TimeSeries:             sampleStore,
		DefaultReportingPeriod: cfg.Monitoring.DefaultReportingPeriod,
		Logger:                 log,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	// Reading worker pool and queue consumer
	processor := service.NewReadingProcessor(svc, log, cfg.Monitoring.IngestWorkers)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go func() {
		log.Info("Starting reading queue consumer...")
		if err := msgClient.ProcessMessages(consumerCtx, processor.HandleMessage); err != nil && consumerCtx.Err() == nil {
			log.WithField("error", err.Error()).Error("Reading queue consumer stopped")
		}
	}()

	// Periodic watchdog reconcile sweep
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Monitoring.ReconcileInterval),
		gocron.NewTask(func() {
			if err := svc.ReconcileWatchdogs(context.Background()); err != nil {
				log.WithField("error", err.Error()).Error("Watchdog reconcile sweep failed")
			}
		}),
	)
	if err != nil {
		log.Fatalf("Failed to schedule watchdog reconcile: %v", err)
	}
	scheduler.Start()

	// Run one sweep immediately so devices silent across the restart
	// are picked up without waiting a full interval
	go func() {
		if err := svc.ReconcileWatchdogs(context.Background()); err != nil {
			log.WithField("error", err.Error()).Error("Initial watchdog reconcile failed")
		}
	}()

	// Create and initialize the server
	log.Info("Initializing API server...")
	server := api.NewServer(cfg, log, nrApp, svc, processor, repo, sessionDir)

	// Set up graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Start the server in a goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
		}).Info("Starting server...")

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-stop
	log.Infof("Received signal %s, shutting down gracefully...", sig.String())

	// Create a timeout context for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
	defer cancel()

	// Stop intake first: no new readings from HTTP or the queue
	log.Info("Shutting down HTTP server...")
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Server shutdown error: %v", err)
	}
	stopConsumer()

	// Drain the worker pool, then stop timers
	log.Info("Shutting down service components...")
	processor.Stop()
	if err := svc.Shutdown(ctx); err != nil {
		log.Warnf("Service shutdown error: %v", err)
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Warnf("Scheduler shutdown error: %v", err)
	}

	log.Info("Server shutdown complete")
}
