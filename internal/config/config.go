package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig holds the upstream statistics APIs
type APIConfig struct {
	MiningcoreURL string        `mapstructure:"miningcore_url"`
	SigscoreURL   string        `mapstructure:"sigscore_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type RefreshConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	LeaderboardInterval time.Duration `mapstructure:"leaderboard_interval"`
	MaxStaleness        time.Duration `mapstructure:"max_staleness"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	LeaderboardSize     int           `mapstructure:"leaderboard_size"`
}

type DashboardConfig struct {
	PoolName         string        `mapstructure:"pool_name"`
	StratumHost      string        `mapstructure:"stratum_host"`
	StratumPort      int           `mapstructure:"stratum_port"`
	PoolFeePercent   float64       `mapstructure:"pool_fee_percent"`
	PaymentThreshold string        `mapstructure:"payment_threshold"`
	DefaultAddress   string        `mapstructure:"default_address"`
	Splash           bool          `mapstructure:"splash"`
	SplashDuration   time.Duration `mapstructure:"splash_duration"`
	Animation        bool          `mapstructure:"animation"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Provider is the opaque key/value view of the loaded configuration
type Provider interface {
	GetString(key string) string
}

// MissingError reports required configuration keys that have no value
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

// Load reads config.yaml from ./config or the working directory, applies
// defaults and environment overrides, and validates required keys.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	overrideWithEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(v); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required keys and normalizes derived values
func (c *Config) Validate(p Provider) error {
	var missing []string
	for _, key := range []string{"api.miningcore_url", "api.sigscore_url"} {
		if strings.TrimSpace(p.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0, got %s", c.API.Timeout)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be > 0, got %s", c.Refresh.Interval)
	}
	if c.Refresh.LeaderboardInterval <= 0 {
		c.Refresh.LeaderboardInterval = c.Refresh.Interval
	}
	if c.Refresh.MaxStaleness <= 0 {
		c.Refresh.MaxStaleness = 3 * c.Refresh.Interval
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.rate_limit", 5)
	v.SetDefault("api.rate_burst", 10)
	v.SetDefault("api.user_agent", "sharkmon/1.0")

	v.SetDefault("refresh.interval", "10s")
	v.SetDefault("refresh.leaderboard_interval", "60s")
	v.SetDefault("refresh.max_staleness", "30s")
	v.SetDefault("refresh.health_interval", "60s")
	v.SetDefault("refresh.leaderboard_size", 10)

	v.SetDefault("dashboard.pool_name", "SharkPool")
	v.SetDefault("dashboard.stratum_host", "65.108.57.232")
	v.SetDefault("dashboard.stratum_port", 3052)
	v.SetDefault("dashboard.pool_fee_percent", 1.0)
	v.SetDefault("dashboard.payment_threshold", "1 ERG")
	v.SetDefault("dashboard.default_address", "")
	v.SetDefault("dashboard.splash", true)
	v.SetDefault("dashboard.splash_duration", "3s")
	v.SetDefault("dashboard.animation", true)

	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.key_prefix", "sharkmon")
	v.SetDefault("redis.snapshot_ttl", "24h")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "sharkpool.events")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "sharkmon.log")
}

func overrideWithEnv(v *viper.Viper) {
	if url := os.Getenv("MININGCORE_API_URL"); url != "" {
		v.Set("api.miningcore_url", url)
	}
	if url := os.Getenv("SIGSCORE_API_URL"); url != "" {
		v.Set("api.sigscore_url", url)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		v.Set("redis.url", redisURL)
	}
	if rabbitURL := os.Getenv("RABBITMQ_URL"); rabbitURL != "" {
		v.Set("rabbitmq.url", rabbitURL)
	}
	if addr := os.Getenv("MINER_ADDRESS"); addr != "" {
		v.Set("dashboard.default_address", addr)
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("logging.level", logLevel)
	}
}
