package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CrawlerConfig struct {
	UserAgent        string `yaml:"userAgent"`
	MaxConcurrency   int    `yaml:"maxConcurrency"`
	CrawlDelayMs     int    `yaml:"crawlDelayMs"`
	RequestTimeoutMs int    `yaml:"requestTimeoutMs"`
	MaxDepthDefault  int    `yaml:"maxDepthDefault"`
	MaxPagesDefault  int    `yaml:"maxPagesDefault"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	RetryAttempts     int `yaml:"retryAttempts"`
	RetryBackoffMs    int `yaml:"retryBackoffMs"`
}

type SchedulerConfig struct {
	ScanFrequencyHours int `yaml:"scanFrequencyHours"`
}

// RetentionConfig controls the periodic reaper: stuck-job recovery and
// TTL-like deletion of old jobs and archived sites so that the
// database does not grow without bound over time.
type RetentionConfig struct {
	Enabled          bool `yaml:"enabled"`
	SweepIntervalMs  int  `yaml:"sweepIntervalMs"`
	StuckJobHours    int  `yaml:"stuckJobHours"`
	OldJobDays       int  `yaml:"oldJobDays"`
	ArchivedSiteDays int  `yaml:"archivedSiteDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retention RetentionConfig `yaml:"retention"`
}

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Crawler: CrawlerConfig{
			UserAgent:        "WebMonitor-Crawler/1.0",
			MaxConcurrency:   20,
			CrawlDelayMs:     500,
			RequestTimeoutMs: 30000,
			MaxDepthDefault:  3,
			MaxPagesDefault:  100,
		},
		RateLimit: RateLimitConfig{DefaultPerMinute: 60},
		Worker: WorkerConfig{
			MaxConcurrentJobs: 3,
			PollIntervalMs:    2000,
			RetryAttempts:     3,
			RetryBackoffMs:    30000,
		},
		Scheduler: SchedulerConfig{ScanFrequencyHours: 6},
		Retention: RetentionConfig{
			Enabled:          true,
			SweepIntervalMs:  300000,
			StuckJobHours:    2,
			OldJobDays:       30,
			ArchivedSiteDays: 30,
		},
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
// A missing file is not an error; the defaults stand alone.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default()
		}
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.fillDefaults()
	return &cfg
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Crawler.UserAgent == "" {
		c.Crawler.UserAgent = def.Crawler.UserAgent
	}
	if c.Crawler.MaxConcurrency == 0 {
		c.Crawler.MaxConcurrency = def.Crawler.MaxConcurrency
	}
	if c.Crawler.CrawlDelayMs == 0 {
		c.Crawler.CrawlDelayMs = def.Crawler.CrawlDelayMs
	}
	if c.Crawler.RequestTimeoutMs == 0 {
		c.Crawler.RequestTimeoutMs = def.Crawler.RequestTimeoutMs
	}
	if c.Crawler.MaxDepthDefault == 0 {
		c.Crawler.MaxDepthDefault = def.Crawler.MaxDepthDefault
	}
	if c.Crawler.MaxPagesDefault == 0 {
		c.Crawler.MaxPagesDefault = def.Crawler.MaxPagesDefault
	}
	if c.RateLimit.DefaultPerMinute == 0 {
		c.RateLimit.DefaultPerMinute = def.RateLimit.DefaultPerMinute
	}
	if c.Worker.MaxConcurrentJobs == 0 {
		c.Worker.MaxConcurrentJobs = def.Worker.MaxConcurrentJobs
	}
	if c.Worker.PollIntervalMs == 0 {
		c.Worker.PollIntervalMs = def.Worker.PollIntervalMs
	}
	if c.Worker.RetryAttempts == 0 {
		c.Worker.RetryAttempts = def.Worker.RetryAttempts
	}
	if c.Worker.RetryBackoffMs == 0 {
		c.Worker.RetryBackoffMs = def.Worker.RetryBackoffMs
	}
	if c.Scheduler.ScanFrequencyHours == 0 {
		c.Scheduler.ScanFrequencyHours = def.Scheduler.ScanFrequencyHours
	}
	if c.Retention.SweepIntervalMs == 0 {
		c.Retention.SweepIntervalMs = def.Retention.SweepIntervalMs
	}
	if c.Retention.StuckJobHours == 0 {
		c.Retention.StuckJobHours = def.Retention.StuckJobHours
	}
	if c.Retention.OldJobDays == 0 {
		c.Retention.OldJobDays = def.Retention.OldJobDays
	}
	if c.Retention.ArchivedSiteDays == 0 {
		c.Retention.ArchivedSiteDays = def.Retention.ArchivedSiteDays
	}
}
