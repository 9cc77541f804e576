package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdfeed/config"
	"mdfeed/internal/scrape"
	"mdfeed/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	defaults := config.Default().Scraper
	var (
		configPath = flag.String("config", "", "optional configuration file; scraper section supplies defaults")
		url        = flag.String("url", defaults.URL, "receiver dashboard base url")
		interval   = flag.Duration("interval", defaults.Interval, "scrape interval")
		timeout    = flag.Duration("timeout", defaults.Timeout, "request timeout")
		once       = flag.Bool("once", false, "scrape once and exit")
		raw        = flag.Bool("raw", false, "print raw Prometheus output")
		health     = flag.Bool("health", false, "check health only")
	)
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Error("Failed to load configuration")
			os.Exit(1)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["url"] {
			*url = cfg.Scraper.URL
		}
		if !set["interval"] {
			*interval = cfg.Scraper.Interval
		}
		if !set["timeout"] {
			*timeout = cfg.Scraper.Timeout
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := scrape.NewClient(*url, *timeout)

	if *health {
		h, err := client.Health(ctx)
		if err != nil {
			log.WithComponent("scraper").WithError(err).Error("Error checking health")
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(h, "", "  ")
		fmt.Println(string(out))
		return
	}

	if *interval <= 0 {
		*interval = 5 * time.Second
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		scrapeOnce(ctx, client, *raw)
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping metrics scraper...")
			return
		case <-ticker.C:
		}
	}
}

func scrapeOnce(ctx context.Context, client *scrape.Client, raw bool) {
	log := logger.GetLogger().WithComponent("scraper")
	if raw {
		text, err := client.RawMetrics(ctx)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"url": client.BaseURL()}).Warn("Failed to scrape metrics")
			return
		}
		fmt.Println(text)
		return
	}

	families, err := client.Metrics(ctx)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"url": client.BaseURL()}).Warn("Failed to scrape metrics")
		return
	}
	scrape.Summarize(families).Write(os.Stdout, time.Now())
}
