package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type (
	Config struct {
		Store    string
		HTTPAddr string

		Mongo   MongoConfig
		Redis   RedisConfig
		Poll    PollConfig
		Auth    AuthConfig
		DH      DHConfig
		Log     LogConfig
		Dialogs int
	}

	MongoConfig struct {
		URI      string
		Database string
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	PollConfig struct {
		Timeout  time.Duration
		Interval time.Duration
	}

	AuthConfig struct {
		TokenTTL time.Duration
		Rate     float64
		Burst    int
	}

	DHConfig struct {
		PrimeFile string
		Refresh   time.Duration
		Generate  bool
	}

	LogConfig struct {
		Level       string
		Development bool
	}
)

// SetDefaults registers every key with its default so env overrides and
// config files are picked up even when no flag is bound.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreMongo)
	v.SetDefault("http.addr", "localhost:9090")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "haine")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("poll.timeout", 40*time.Second)
	v.SetDefault("poll.interval", 500*time.Millisecond)
	v.SetDefault("dialogs.limit", 100)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.rate", 1.0)
	v.SetDefault("auth.burst", 5)
	v.SetDefault("dh.prime_file", "")
	v.SetDefault("dh.refresh", 30*24*time.Hour)
	v.SetDefault("dh.generate", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix("haine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Store:    strings.ToLower(v.GetString("store")),
		HTTPAddr: v.GetString("http.addr"),
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Poll: PollConfig{
			Timeout:  v.GetDuration("poll.timeout"),
			Interval: v.GetDuration("poll.interval"),
		},
		Auth: AuthConfig{
			TokenTTL: v.GetDuration("auth.token_ttl"),
			Rate:     v.GetFloat64("auth.rate"),
			Burst:    v.GetInt("auth.burst"),
		},
		DH: DHConfig{
			PrimeFile: v.GetString("dh.prime_file"),
			Refresh:   v.GetDuration("dh.refresh"),
			Generate:  v.GetBool("dh.generate"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Dialogs: v.GetInt("dialogs.limit"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database are required")
		}
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required")
		}
	case StoreMemory:
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}

	if c.HTTPAddr == "" {
		return errors.New("http.addr is required")
	}
	if c.Poll.Interval <= 0 || c.Poll.Timeout <= 0 {
		return errors.New("poll.interval and poll.timeout must be positive")
	}
	if c.Poll.Interval > c.Poll.Timeout {
		return errors.Errorf("poll.interval %s exceeds poll.timeout %s", c.Poll.Interval, c.Poll.Timeout)
	}
	if c.Dialogs <= 0 {
		return errors.New("dialogs.limit must be positive")
	}
	if c.DH.Generate && c.DH.Refresh <= 0 {
		return errors.New("dh.refresh must be positive when dh.generate is set")
	}
	return nil
}
