package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/dashboard"
	"mdfeed/internal/feed"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default: chosen by APP_ENV)")
	group := flag.String("group", "", "multicast group; overrides feed.group")
	port := flag.Int("port", 0, "UDP port; overrides feed.port")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *group != "" {
		cfg.Feed.Group = *group
	}
	if *port > 0 {
		cfg.Feed.Port = *port
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"feed":        cfg.Feed.Addr(),
	}).Info("starting mdfeed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Configure(cfg.Metrics)
	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace); err != nil {
			if config.IsProductionLike(config.AppEnvironment()) {
				log.WithError(err).Error("failed to initialise CloudWatch")
				os.Exit(1)
			}
			log.WithError(err).Warn("CloudWatch metrics disabled")
		}
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.DecodedBuffer)
	channels.StartStatsReporting(ctx, cfg.Metrics.ReportInterval)
	metrics.StartChannelSizeMetrics(ctx, channels, time.Second)

	session := feed.NewSession(log)
	receiver := feed.NewReceiver(cfg.Feed, channels)
	consumer := feed.NewConsumer(session, channels)

	sinks, err := writer.BuildSinks(ctx, cfg, os.Stdout)
	if err != nil {
		log.WithError(err).Error("failed to create sinks")
		os.Exit(1)
	}
	dispatcher := writer.NewDispatcher(channels.Decoded, cfg.Writer.Batch.FlushInterval, sinks...)

	if cfg.Dashboard.DiskPath == "" && cfg.Storage.Local.Enabled {
		cfg.Dashboard.DiskPath = cfg.Storage.Local.Dir
	}
	dash, err := dashboard.NewServer(cfg.Dashboard, cfg.App.Name, session, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	if err := dispatcher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start sinks")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	exitCode := 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run()
	}()

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithComponent("dashboard").WithError(err).Error("dashboard stopped")
			}
		}()
	}

	// A permanent receive error ends the session the same way a signal does.
	if err := receiver.Run(ctx); err != nil {
		log.WithComponent("receiver").WithError(err).Error("receiver failed")
		exitCode = 1
		stop()
	}

	log.WithComponent("main").Info("shutting down")
	dispatcher.Wait()
	wg.Wait()
	log.WithComponent("main").Info("mdfeed stopped")
	os.Exit(exitCode)
}
