package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vigil/internal/alerting"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/notifications"
	"vigil/internal/processing"
	"vigil/internal/queue"
	"vigil/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("Vigil Alert Router v1.0.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"database":    cfg.Database.Path,
	}).Info("Starting Vigil alert router")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	locks := database.NewLockManager()
	broker := queue.NewBroker()

	deriver := alerting.NewDeriver(store)
	maintenance := alerting.NewMaintenanceManager(store, locks)
	tracker := alerting.NewStateTracker(store)
	resolver := alerting.NewResolver(store)

	processor := processing.NewProcessor(store, tracker, maintenance, broker)
	processor.SetDefaultDelays(cfg.Processing.InitialFailureDelay, cfg.Processing.RepeatFailureDelay)

	transports := cfg.Gateways.EnabledTransports()
	notifier := processing.NewNotifier(store, resolver, maintenance, locks, broker, transports)

	webServer := web.NewServer(cfg, store, deriver, maintenance, tracker, resolver, broker)
	processor.OnEvent(webServer.OnEvent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(ctx)
	go notifier.Run(ctx)

	if cfg.Gateways.PagerDuty.Enabled {
		go notifications.NewPagerDutyGateway(&cfg.Gateways.PagerDuty, resolver, broker).Run(ctx)
	}
	if cfg.Gateways.Email.Enabled {
		go notifications.NewEmailGateway(&cfg.Gateways.Email, broker).Run(ctx)
	}
	if cfg.Gateways.Slack.Enabled {
		go notifications.NewSlackGateway(&cfg.Gateways.Slack, broker).Run(ctx)
	}

	collector := metrics.NewCollector(store)
	go runMetricsLoop(ctx, collector)

	go func() {
		if err := webServer.Start(); err != nil {
			logrus.WithError(err).Fatal("Web server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}

	logrus.Info("Shutdown complete")
}

func runMetricsLoop(ctx context.Context, collector *metrics.Collector) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := collector.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to update system metrics")
			}
		}
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
