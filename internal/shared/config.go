package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv      string `yaml:"app_env"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	DataRoot    string `yaml:"data_root"`

	MySQLDSN  string `yaml:"mysql_dsn"`
	RedisAddr string `yaml:"redis_addr"`
	RedisPass string `yaml:"redis_password"`
	RedisDB   int    `yaml:"redis_db"`

	CacheTTLSeconds    int  `yaml:"cache_ttl_seconds"`
	FeedTimeoutSeconds int  `yaml:"feed_timeout_seconds"`
	FeedRPS            int  `yaml:"feed_rps"`
	SyncWorkers        int  `yaml:"sync_workers"`
	SyncIntervalMin    int  `yaml:"sync_interval_min"`
	SoftHoldSweep      bool `yaml:"soft_hold_sweep"`

	AdminKey        string   `yaml:"admin_key"`
	DefaultTimezone string   `yaml:"default_timezone"`
	PublicHost      string   `yaml:"public_host"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }

func (c Config) FeedTimeout() time.Duration { return time.Duration(c.FeedTimeoutSeconds) * time.Second }

// Location resolves DefaultTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		log.Warn().Err(err).Str("tz", c.DefaultTimezone).Msg("bad DEFAULT_TIMEZONE, using UTC")
		return time.UTC
	}
	return loc
}

// Load reads the environment, then overlays CM_CONFIG_FILE when set.
func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:             env("APP_ENV", "prod"),
		HTTPAddr:           env("HTTP_ADDR", ":8080"),
		MetricsAddr:        env("METRICS_ADDR", ""),
		DataRoot:           env("DATA_ROOT", "./data"),
		MySQLDSN:           env("MYSQL_DSN", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisPass:          env("REDIS_PASSWORD", ""),
		RedisDB:            atoi("REDIS_DB", 0),
		CacheTTLSeconds:    atoi("CACHE_TTL_SECONDS", 60),
		FeedTimeoutSeconds: atoi("FEED_TIMEOUT_SECONDS", 25),
		FeedRPS:            atoi("FEED_RPS", 2),
		SyncWorkers:        atoi("SYNC_WORKERS", 4),
		SyncIntervalMin:    atoi("SYNC_INTERVAL_MIN", 0),
		SoftHoldSweep:      env("SOFT_HOLD_SWEEP", "1") != "0",
		AdminKey:           env("ADMIN_KEY", ""),
		DefaultTimezone:    env("DEFAULT_TIMEZONE", "Europe/Ljubljana"),
		PublicHost:         env("PUBLIC_HOST", ""),
		CORSOrigins:        splitList(env("CORS_ORIGINS", "*")),
	}
	if p := os.Getenv("CM_CONFIG_FILE"); p != "" {
		if err := Overlay(&c, p); err != nil {
			log.Fatal().Err(err).Str("file", p).Msg("config file")
		}
	}
	if c.AdminKey == "" {
		log.Warn().Msg("ADMIN_KEY is empty; admin routes are disabled")
	}
	return c
}

// Overlay applies the keys present in a YAML file on top of c.
func Overlay(c *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
