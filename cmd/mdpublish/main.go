package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdfeed/config"
	"mdfeed/internal/publish"
	"mdfeed/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default: chosen by APP_ENV)")
	count := flag.Int64("count", 0, "messages to generate; 0 runs until interrupted")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	rateFlag := flag.Float64("rate", 0, "messages per second; overrides publisher.rate when set")
	dropRate := flag.Float64("drop", -1, "drop probability; overrides publisher.drop_rate when set")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if *rateFlag > 0 {
		cfg.Publisher.Rate = *rateFlag
	}
	if *dropRate >= 0 && *dropRate < 1 {
		cfg.Publisher.DropRate = *dropRate
	}

	p, err := publish.Dial(cfg.Feed, cfg.Publisher, *seed)
	if err != nil {
		log.WithComponent("publisher").WithError(err).Error("failed to open publisher socket")
		os.Exit(1)
	}
	defer p.Close()

	log.WithComponent("publisher").WithFields(logger.Fields{
		"group":   cfg.Feed.Addr(),
		"rate":    cfg.Publisher.Rate,
		"symbols": cfg.Publisher.Symbols,
		"ttl":     cfg.Publisher.TTL,
	}).Info("publishing synthetic feed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx, *count); err != nil {
		log.WithComponent("publisher").WithError(err).Error("publisher failed")
		os.Exit(1)
	}
}
