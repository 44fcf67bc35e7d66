package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Engine   EngineConfig
	Store    StoreConfig
	Log      LogConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
	AutoMigrate     bool
}

// DSN returns a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	Queue    string
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
}

type EngineConfig struct {
	MaxAttempts     int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	StatsTimezone   string
	MemoryLockLimit time.Duration
}

// Location resolves the stats timezone.
func (c EngineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.StatsTimezone)
}

type StoreConfig struct {
	Driver string
}

type LogConfig struct {
	Environment string
	Level       string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// config key -> environment variable
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.read_timeout":     "SERVER_READ_TIMEOUT",
	"server.write_timeout":    "SERVER_WRITE_TIMEOUT",
	"server.idle_timeout":     "SERVER_IDLE_TIMEOUT",
	"server.request_timeout":  "SERVER_REQUEST_TIMEOUT",
	"server.shutdown_timeout": "SERVER_SHUTDOWN_TIMEOUT",

	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"database.lock_timeout":      "DATABASE_LOCK_TIMEOUT",
	"database.auto_migrate":      "DATABASE_AUTO_MIGRATE",

	"redis.enabled":  "REDIS_ENABLED",
	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.queue":    "REDIS_EVENT_QUEUE",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"engine.max_attempts":      "ENGINE_MAX_ATTEMPTS",
	"engine.retry_initial":     "ENGINE_RETRY_INITIAL",
	"engine.retry_max":         "ENGINE_RETRY_MAX",
	"engine.stats_timezone":    "STATS_TIMEZONE",
	"engine.memory_lock_limit": "MEMORY_LOCK_TIMEOUT",

	"store.driver": "STORE_DRIVER",

	"log.environment": "APP_ENV",
	"log.level":       "LOG_LEVEL",

	"cors.allowed_origins": "CORS_ALLOWED_ORIGINS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "eventpay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.lock_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue", "ledger:transactions")

	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.retry_initial", 20*time.Millisecond)
	v.SetDefault("engine.retry_max", 250*time.Millisecond)
	v.SetDefault("engine.stats_timezone", "UTC")
	v.SetDefault("engine.memory_lock_limit", 5*time.Second)

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("log.environment", "production")
	v.SetDefault("log.level", "")

	v.SetDefault("cors.allowed_origins", []string{"https://*", "http://*"})
}

// Load reads configuration from defaults, an optional dotenv file and the
// environment, in increasing order of precedence. A missing file is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		if err := applyEnvFile(v, envFile); err != nil {
			return nil, err
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LockTimeout:     v.GetDuration("database.lock_timeout"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Queue:    v.GetString("redis.queue"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Engine: EngineConfig{
			MaxAttempts:     v.GetInt("engine.max_attempts"),
			RetryInitial:    v.GetDuration("engine.retry_initial"),
			RetryMax:        v.GetDuration("engine.retry_max"),
			StatsTimezone:   v.GetString("engine.stats_timezone"),
			MemoryLockLimit: v.GetDuration("engine.memory_lock_limit"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
		},
		Log: LogConfig{
			Environment: v.GetString("log.environment"),
			Level:       v.GetString("log.level"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine max attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}

	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("invalid stats timezone %q: %w", c.Engine.StatsTimezone, err)
	}

	return nil
}

// applyEnvFile loads KEY=value pairs from a dotenv file as defaults, so the
// real environment still wins.
func applyEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	fv := viper.New()
	fv.SetConfigFile(path)
	fv.SetConfigType("env")
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	for key, env := range envBindings {
		name := strings.ToLower(env)
		if fv.IsSet(name) {
			v.SetDefault(key, fv.Get(name))
		}
	}
	return nil
}

// splitList accepts both a real list and a single comma-separated value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
