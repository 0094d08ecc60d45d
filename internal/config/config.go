// Package config loads runtime configuration from the environment, an
// optional .env file and an optional config file through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

const (
	envPrefix          = "FEEDGEN"
	defaultHostname    = "localhost"
	defaultPort        = 3000
	defaultFeedName    = "TechThreadsAndMore"
	defaultDatabaseURL = "feed.db"
	defaultFirehoseURL = "wss://jetstream1.us-east.bsky.network/subscribe"
	defaultAppViewURL  = "https://public.api.bsky.app"
	defaultLogLevel    = "info"
)

// Config holds all configuration for the application.
type Config struct {
	// Hostname is the public hostname where this service is reachable (used for did:web).
	Hostname string

	// Port is the HTTP server port.
	Port int

	// PublisherDID is the DID of the account that published the feed generator records.
	PublisherDID string

	// OwnerDID is the account whose likes pull posts into the feed. Defaults
	// to PublisherDID.
	OwnerDID string

	// FeedName is the record key of the feed generator record.
	FeedName string

	// DatabaseURL is a Postgres connection string or a SQLite file path.
	DatabaseURL string

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// AppViewURL is the public AppView used to look up posts.
	AppViewURL string

	EvictionInterval time.Duration
	MaxPosts         int
	MaxAge           time.Duration

	// RulesFile is an optional YAML file overriding the built-in classifier rules.
	RulesFile string

	LogLevel string
}

// ServiceDID returns the did:web for this feed generator based on the hostname.
func (c *Config) ServiceDID() string {
	return "did:web:" + c.Hostname
}

// FeedURI returns the AT-URI of the feed generator record.
func (c *Config) FeedURI() string {
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", c.PublisherDID, c.FeedName)
}

// Eviction returns the eviction policy described by the configuration.
func (c *Config) Eviction() domain.EvictionPolicy {
	return domain.EvictionPolicy{
		Interval: c.EvictionInterval,
		MaxPosts: c.MaxPosts,
		MaxAge:   c.MaxAge,
	}
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. Keys map to FEEDGEN_ prefixed variables with dots replaced by
// underscores, so database.url reads FEEDGEN_DATABASE_URL.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("hostname", defaultHostname)
	v.SetDefault("port", defaultPort)
	v.SetDefault("feed.name", defaultFeedName)
	v.SetDefault("database.url", defaultDatabaseURL)
	v.SetDefault("firehose.url", defaultFirehoseURL)
	v.SetDefault("appview.url", defaultAppViewURL)
	v.SetDefault("eviction.interval", domain.DefaultEvictionInterval)
	v.SetDefault("eviction.max_posts", domain.DefaultMaxPosts)
	v.SetDefault("eviction.max_age", time.Duration(0))
	v.SetDefault("log.level", defaultLogLevel)

	// Unprefixed names commonly set by hosting platforms.
	_ = v.BindEnv("port", "FEEDGEN_PORT", "PORT")
	_ = v.BindEnv("database.url", "FEEDGEN_DATABASE_URL", "DATABASE_URL")
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Hostname:         v.GetString("hostname"),
		Port:             v.GetInt("port"),
		PublisherDID:     v.GetString("publisher_did"),
		OwnerDID:         v.GetString("owner_did"),
		FeedName:         v.GetString("feed.name"),
		DatabaseURL:      v.GetString("database.url"),
		FirehoseURL:      v.GetString("firehose.url"),
		AppViewURL:       v.GetString("appview.url"),
		EvictionInterval: v.GetDuration("eviction.interval"),
		MaxPosts:         v.GetInt("eviction.max_posts"),
		MaxAge:           v.GetDuration("eviction.max_age"),
		RulesFile:        v.GetString("rules.file"),
		LogLevel:         v.GetString("log.level"),
	}
	if cfg.OwnerDID == "" {
		cfg.OwnerDID = cfg.PublisherDID
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.PublisherDID) == "" {
		return fmt.Errorf("publisher_did is required (set FEEDGEN_PUBLISHER_DID)")
	}
	if strings.TrimSpace(c.Hostname) == "" {
		return fmt.Errorf("hostname is required")
	}
	if strings.TrimSpace(c.FeedName) == "" {
		return fmt.Errorf("feed.name is required")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.EvictionInterval <= 0 {
		return fmt.Errorf("eviction.interval must be positive, got %s", c.EvictionInterval)
	}
	if c.MaxPosts <= 0 {
		return fmt.Errorf("eviction.max_posts must be positive, got %d", c.MaxPosts)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("eviction.max_age must not be negative, got %s", c.MaxAge)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.LogLevel)
	}
	return nil
}
