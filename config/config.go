package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Feed      FeedConfig      `yaml:"feed"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Publisher PublisherConfig `yaml:"publisher"`
	Scraper   ScraperConfig   `yaml:"scraper"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig describes the multicast source.
type FeedConfig struct {
	Group            string        `yaml:"group"`
	Port             int           `yaml:"port"`
	Interface        string        `yaml:"interface"`
	ReadBufferBytes  int           `yaml:"read_buffer_bytes"`
	MaxDatagramBytes int           `yaml:"max_datagram_bytes"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

// Addr returns group:port.
func (f FeedConfig) Addr() string {
	return net.JoinHostPort(f.Group, strconv.Itoa(f.Port))
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	DecodedBuffer int `yaml:"decoded_buffer"`
}

type MetricsConfig struct {
	Prometheus     bool             `yaml:"prometheus"`
	ChannelSize    bool             `yaml:"channel_size"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	EventHistory    int           `yaml:"event_history"`
	DiskPath        string        `yaml:"disk_path"`
}

type WriterConfig struct {
	Console      ConsoleConfig      `yaml:"console"`
	Batch        BatchConfig        `yaml:"batch"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Parquet      ParquetConfig      `yaml:"parquet"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type PartitioningConfig struct {
	TimeFormat string `yaml:"time_format"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	PageSize    int64  `yaml:"page_size"`
}

type StorageConfig struct {
	Local LocalConfig `yaml:"local"`
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type LocalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// PublisherConfig drives cmd/mdpublish.
type PublisherConfig struct {
	Rate          float64  `yaml:"rate"`
	Burst         int      `yaml:"burst"`
	Symbols       []string `yaml:"symbols"`
	DropRate      float64  `yaml:"drop_rate"`
	DuplicateRate float64  `yaml:"duplicate_rate"`
	TTL           int      `yaml:"ttl"`
}

// ScraperConfig drives cmd/mdscrape.
type ScraperConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		App: AppConfig{Name: "mdfeed", Version: "dev"},
		Feed: FeedConfig{
			Group:            "239.0.0.1",
			Port:             9999,
			ReadBufferBytes:  4 << 20,
			MaxDatagramBytes: 65535,
			ReadTimeout:      time.Second,
		},
		Channels: ChannelsConfig{RawBuffer: 8192, DecodedBuffer: 8192},
		Metrics: MetricsConfig{
			Prometheus:     true,
			ChannelSize:    true,
			ReportInterval: 30 * time.Second,
			CloudWatch:     CloudWatchConfig{Namespace: "MDFeed"},
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
			EventHistory:    500,
		},
		Writer: WriterConfig{
			Console:      ConsoleConfig{Enabled: true},
			Batch:        BatchConfig{Size: 10000, FlushInterval: time.Minute},
			Partitioning: PartitioningConfig{TimeFormat: "year=2006/month=01/day=02/hour=15"},
			Parquet:      ParquetConfig{Compression: "snappy", PageSize: 8 * 1024},
		},
		Storage: StorageConfig{
			Local: LocalConfig{Dir: "data"},
			Kafka: KafkaConfig{Topic: "mdfeed"},
		},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Publisher: PublisherConfig{Rate: 1000, Burst: 100, Symbols: []string{"AAPL", "MSFT", "GOOGL"}, TTL: 1},
		Scraper:   ScraperConfig{URL: "http://localhost:8080", Interval: 5 * time.Second, Timeout: 5 * time.Second},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	path = resolveEnvSpecificPath(path, "", envConfigPaths)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("MDFEED_GROUP"); v != "" {
		config.Feed.Group = strings.TrimSpace(v)
	}
	if v := os.Getenv("MDFEED_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.Feed.Port = port
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = splitList(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	ip := net.ParseIP(cfg.Feed.Group)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("feed.group '%s' is not a multicast address", cfg.Feed.Group)
	}
	if cfg.Feed.Port <= 0 || cfg.Feed.Port > 65535 {
		return fmt.Errorf("feed.port must be between 1 and 65535")
	}
	if cfg.Feed.MaxDatagramBytes < 24 {
		return fmt.Errorf("feed.max_datagram_bytes must be at least 24")
	}
	if cfg.Feed.ReadTimeout <= 0 {
		return fmt.Errorf("feed.read_timeout must be greater than 0")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.DecodedBuffer <= 0 {
		return fmt.Errorf("channels.decoded_buffer must be greater than 0")
	}


	if cfg.Writer.Parquet.Enabled {
		if !cfg.Storage.Local.Enabled && !cfg.Storage.S3.Enabled {
			return fmt.Errorf("writer.parquet requires storage.local or storage.s3")
		}
		if cfg.Writer.Batch.Size <= 0 {
			return fmt.Errorf("writer.batch.size must be greater than 0")
		}
		if cfg.Writer.Batch.FlushInterval <= 0 {
			return fmt.Errorf("writer.batch.flush_interval must be greater than 0")
		}
		switch strings.ToLower(cfg.Writer.Parquet.Compression) {
		case "", "snappy", "gzip", "uncompressed", "zstd":
		default:
			return fmt.Errorf("writer.parquet.compression '%s' is not supported", cfg.Writer.Parquet.Compression)
		}
	}

	if cfg.Storage.Local.Enabled && cfg.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local.dir is required when local storage is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	if cfg.Publisher.DropRate < 0 || cfg.Publisher.DropRate >= 1 {
		return fmt.Errorf("publisher.drop_rate must be in [0, 1)")
	}
	if cfg.Publisher.DuplicateRate < 0 || cfg.Publisher.DuplicateRate >= 1 {
		return fmt.Errorf("publisher.duplicate_rate must be in [0, 1)")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
