// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig selects the remote endpoint and credential.
type APIConfig struct {
	Region  string        `mapstructure:"region"`
	BaseURL string        `mapstructure:"base_url"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig configures retry and request budget behavior.
type FetchConfig struct {
	MaxAttempts       int                `mapstructure:"max_attempts"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second"`
	Burst             int                `mapstructure:"burst"`
	RouteRPS          map[string]float64 `mapstructure:"route_rps"`
	UserAgent         string             `mapstructure:"user_agent"`
}

// CrawlerConfig governs the traversal loop.
type CrawlerConfig struct {
	Target       int           `mapstructure:"target"`
	ListCount    int           `mapstructure:"list_count"`
	Pacing       time.Duration `mapstructure:"pacing"`
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	SaveEvery    int           `mapstructure:"save_every"`
	Seeds        []string      `mapstructure:"seeds"`
}

// FilterConfig holds the acceptance criteria for match records.
type FilterConfig struct {
	Patch    string `mapstructure:"patch"`
	QueueIDs []int  `mapstructure:"queue_ids"`
}

// CacheConfig selects the record cache backend.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	GCSPrefix  string `mapstructure:"gcs_prefix"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Name    string `mapstructure:"name"`
}

// PublishConfig holds metadata for kept-record notifications.
type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Cache and checkpoint backend names.
const (
	CacheLocal  = "local"
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheGCS    = "gcs"

	CheckpointFile     = "file"
	CheckpointPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The credential is commonly exported without the prefix.
	if err := v.BindEnv("api.key", "CRAWLER_API_KEY", "RIOT_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env: %w", err)
	}

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
	v.SetDefault("api.region", "europe")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "35s")
	v.SetDefault("fetch.max_attempts", 9)
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.user_agent", "snowball-crawler/1.0")
	v.SetDefault("crawler.target", 10000)
	v.SetDefault("crawler.list_count", 50)
	v.SetDefault("crawler.pacing", "200ms")
	v.SetDefault("crawler.max_queue_size", 30000)
	v.SetDefault("crawler.save_every", 75)
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("filter.patch", "16.3")
	v.SetDefault("filter.queue_ids", []int{1150, 1160})
	v.SetDefault("cache.backend", CacheLocal)
	v.SetDefault("cache.dir", "data/raw/matches")
	v.SetDefault("cache.sqlite_path", "data/raw/matches.db")
	v.SetDefault("cache.gcs_prefix", "matches")
	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.path", "data/state/crawler_state.json")
	v.SetDefault("checkpoint.table", "crawl_checkpoints")
	v.SetDefault("checkpoint.name", "default")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.topic", "kept-records")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// RequireAPIKey reports a missing credential. Commands that only read local
// state do not need one, so it is kept out of Validate.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.API.Key) == "" {
		return fmt.Errorf("api.key must be set (or export RIOT_API_KEY)")
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.Region == "" && c.API.BaseURL == "" {
		return fmt.Errorf("api.region or api.base_url must be set")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must be >= 0")
	}
	for route, rps := range c.Fetch.RouteRPS {
		if rps < 0 {
			return fmt.Errorf("fetch.route_rps[%s] must be >= 0", route)
		}
	}
	if c.Crawler.Target <= 0 {
		return fmt.Errorf("crawler.target must be > 0")
	}
	if c.Crawler.ListCount <= 0 {
		return fmt.Errorf("crawler.list_count must be > 0")
	}
	if c.Crawler.Pacing < 0 {
		return fmt.Errorf("crawler.pacing must be >= 0")
	}
	if c.Crawler.MaxQueueSize <= 0 {
		return fmt.Errorf("crawler.max_queue_size must be > 0")
	}
	if c.Crawler.SaveEvery <= 0 {
		return fmt.Errorf("crawler.save_every must be > 0")
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}
	if c.Publish.Enabled && (c.Publish.ProjectID == "" || c.Publish.Topic == "") {
		return fmt.Errorf("publish.project_id and publish.topic must be set when publishing is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

func (c Config) validateCache() error {
	switch c.Cache.Backend {
	case CacheLocal:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the local cache")
		}
	case CacheSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path must be set for the sqlite cache")
		}
	case CacheGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set for the gcs cache")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	return nil
}

func (c Config) validateCheckpoint() error {
	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path must be set for the file checkpoint")
		}
	case CheckpointPostgres:
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn must be set for the postgres checkpoint")
		}
		if c.Checkpoint.Name == "" {
			return fmt.Errorf("checkpoint.name must be set for the postgres checkpoint")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	return nil
}

// BaseURL returns the remote API root for the configured region.
func (c Config) BaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.api.riotgames.com", c.API.Region)
}
