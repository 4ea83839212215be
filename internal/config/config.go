// Package config loads and validates aggregator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	DB         DBConfig         `mapstructure:"db"`
}

// AggregatorConfig names the feed list and sizes the two worker pools.
type AggregatorConfig struct {
	FeedListURL    string `mapstructure:"feed_list_url"`
	FeedWorkers    int    `mapstructure:"feed_workers"`
	ArticleWorkers int    `mapstructure:"article_workers"`
}

// HTTPConfig configures the loaders' HTTP client and politeness.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	UserAgent        string  `mapstructure:"user_agent"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	RateLimitPerHost float64 `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// LoggingConfig toggles zap development features and span logging.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	TraceSpans  bool `mapstructure:"trace_spans"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig selects where index snapshots are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for "index built" notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls index persistence. An empty DSN disables it.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aggregator.feed_list_url", "small-feed.xml")
	v.SetDefault("aggregator.feed_workers", 10)
	v.SetDefault("aggregator.article_workers", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "newsagg/0.1")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.rate_limit_per_host", 5)
	v.SetDefault("http.rate_limit_burst", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.trace_spans", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.base_dir", "snapshots")
	v.SetDefault("storage.prefix", "index")
	v.SetDefault("db.table_prefix", "newsagg")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Aggregator.FeedListURL == "" {
		return fmt.Errorf("aggregator.feed_list_url must be set")
	}
	if c.Aggregator.FeedWorkers <= 0 {
		return fmt.Errorf("aggregator.feed_workers must be > 0")
	}
	if c.Aggregator.ArticleWorkers <= 0 {
		return fmt.Errorf("aggregator.article_workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitPerHost < 0 {
		return fmt.Errorf("http.rate_limit_per_host must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.DB.DSN != "" && c.DB.TablePrefix == "" {
		return fmt.Errorf("db.table_prefix must be set when db.dsn is set")
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
