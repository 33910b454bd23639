package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/cronplan"
	"github.com/connwatch/connwatch/internal/dispatcher"
	"github.com/connwatch/connwatch/internal/monitor"
	"github.com/connwatch/connwatch/internal/notifier"
	"github.com/connwatch/connwatch/internal/probe"
	"github.com/connwatch/connwatch/internal/runner"
	"github.com/connwatch/connwatch/internal/secret"
	"github.com/connwatch/connwatch/internal/server"
	"github.com/connwatch/connwatch/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("CONNWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	cipherSecret := viper.GetString("security.cipher_secret")
	cipher, err := secret.NewCipher(cipherSecret)
	if err != nil {
		logger.Fatal("Failed to initialize credential cipher", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	events, err := notifier.NewNotifier(js, logger)
	if err != nil {
		logger.Fatal("Failed to create event notifier", zap.Error(err))
	}

	store, err := storage.NewSQLiteStore(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}
	defer store.Close()

	planner := cronplan.NewPlanner(logger)

	tester := probe.NewTester(cipher, probe.Config{
		DatabaseTimeout: viper.GetDuration("probe.database_timeout"),
		APITimeout:      viper.GetDuration("probe.api_timeout"),
	}, logger)

	healthRunner := runner.NewRunner(store, tester, events, logger)

	metricsInterval := viper.GetDuration("metrics.interval")
	if metricsInterval <= 0 {
		metricsInterval = time.Minute
	}
	metrics := monitor.NewMetricsCollector(js, metricsInterval, logger)

	pollInterval := viper.GetDuration("scheduler.poll_interval")
	if pollInterval <= 0 {
		pollInterval = dispatcher.DefaultPollInterval
	}
	disp := dispatcher.NewDispatcher(store, healthRunner, planner, logger,
		dispatcher.WithInterval(pollInterval),
		dispatcher.WithResultSink(events),
		dispatcher.WithCycleObserver(metrics))

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	metrics.Start(ctx)
	disp.Start(ctx)

	admin := server.NewServer(store, planner, cipher, tester, logger)
	httpServer := &http.Server{
		Addr:    viper.GetString("http.listen_addr"),
		Handler: admin.Router(),
	}

	go func() {
		logger.Info("Starting admin API", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin API server failed", zap.Error(err))
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin API shutdown error", zap.Error(err))
	}

	disp.Stop()
	metrics.Stop()

	logger.Info("Server shutting down gracefully")
}
