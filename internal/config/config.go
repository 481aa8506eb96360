package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabasePath string `mapstructure:"DB_PATH"`
	ListenAddr   string `mapstructure:"LISTEN_ADDR"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	SyncTimeout   time.Duration `mapstructure:"SYNC_TIMEOUT"`

	NSCheckInterval     time.Duration `mapstructure:"NS_CHECK_INTERVAL"`
	HealthCheckInterval time.Duration `mapstructure:"HEALTH_CHECK_INTERVAL"`
	StatsDrainInterval  time.Duration `mapstructure:"STATS_DRAIN_INTERVAL"`

	DNSResolvers      []string      `mapstructure:"DNS_RESOLVERS"`
	DNSTimeout        time.Duration `mapstructure:"DNS_TIMEOUT"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT"`
	HTTPMaxBody       int64         `mapstructure:"HTTP_MAX_BODY"`
	HealthConcurrency int           `mapstructure:"HEALTH_CONCURRENCY"`

	// Optional YAML/JSON file replacing the built-in ban policy.
	BanPolicyFile string `mapstructure:"BAN_POLICY_FILE"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("DB_PATH", "domainwarden.db")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SYNC_TIMEOUT", "3s")
	v.SetDefault("NS_CHECK_INTERVAL", "10m")
	v.SetDefault("HEALTH_CHECK_INTERVAL", "5m")
	v.SetDefault("STATS_DRAIN_INTERVAL", "5m")
	v.SetDefault("DNS_RESOLVERS", "1.1.1.1:53,8.8.8.8:53")
	v.SetDefault("DNS_TIMEOUT", "10s")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("HTTP_MAX_BODY", 2<<20)
	v.SetDefault("HEALTH_CONCURRENCY", 8)
	v.SetDefault("BAN_POLICY_FILE", "")

	v.SetEnvPrefix("DOMAINWARDEN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Values may also come from a local .env file; a missing file is fine.
	v.SetConfigFile(".env")
	_ = v.ReadInConfig()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.DNSResolvers = splitList(config.DNSResolvers)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if len(c.DNSResolvers) < 2 {
		return fmt.Errorf("at least two DNS resolvers are required, got %d", len(c.DNSResolvers))
	}
	for name, d := range map[string]time.Duration{
		"NS_CHECK_INTERVAL":     c.NSCheckInterval,
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"STATS_DRAIN_INTERVAL":  c.StatsDrainInterval,
		"DNS_TIMEOUT":           c.DNSTimeout,
		"HTTP_TIMEOUT":          c.HTTPTimeout,
		"SYNC_TIMEOUT":          c.SyncTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", name, d)
		}
	}
	if c.HTTPMaxBody <= 0 {
		return fmt.Errorf("HTTP_MAX_BODY must be > 0, got %d", c.HTTPMaxBody)
	}
	if c.HealthConcurrency <= 0 {
		return fmt.Errorf("HEALTH_CONCURRENCY must be > 0, got %d", c.HealthConcurrency)
	}
	return nil
}

// splitList flattens comma separated entries; env values arrive as a single element.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
