package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Escrow   EscrowConfig
	Outbox   OutboxConfig
	Log      LogConfig
	Admins   []string
}

type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AllowOrigins []string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
	Migrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type EscrowConfig struct {
	MinBudget   int64
	MaxDuration time.Duration
}

type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	QueuePrefix string
}

type LogConfig struct {
	Level  string
	Format string
}

var bindings = map[string]string{
	"http.addr":           "HTTP_ADDR",
	"http.read_timeout":   "HTTP_READ_TIMEOUT",
	"http.write_timeout":  "HTTP_WRITE_TIMEOUT",
	"http.allow_origins":  "HTTP_ALLOW_ORIGINS",
	"database.url":        "DATABASE_URL",
	"database.max_conns":  "DATABASE_MAX_CONNS",
	"database.migrate":    "DATABASE_MIGRATE",
	"redis.enabled":       "REDIS_ENABLED",
	"redis.addr":          "REDIS_ADDR",
	"redis.password":      "REDIS_PASSWORD",
	"redis.db":            "REDIS_DB",
	"jwt.secret":          "JWT_SECRET",
	"jwt.ttl":             "JWT_TTL",
	"escrow.min_budget":   "ESCROW_MIN_BUDGET",
	"escrow.max_duration": "ESCROW_MAX_DURATION",
	"outbox.interval":     "OUTBOX_INTERVAL",
	"outbox.batch_size":   "OUTBOX_BATCH_SIZE",
	"outbox.max_attempts": "OUTBOX_MAX_ATTEMPTS",
	"outbox.queue_prefix": "OUTBOX_QUEUE_PREFIX",
	"log.level":           "LOG_LEVEL",
	"log.format":          "LOG_FORMAT",
	"admin.addresses":     "ADMIN_ADDRESSES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.allow_origins", "https://*,http://*")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("escrow.min_budget", 100)
	v.SetDefault("escrow.max_duration", 365*24*time.Hour)
	v.SetDefault("outbox.interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.queue_prefix", "escrowflow")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env style files (missing files are ignored), then resolves every
// key from the process environment on top of the defaults.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			AllowOrigins: splitList(v.GetString("http.allow_origins")),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
			Migrate:  v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			TTL:    v.GetDuration("jwt.ttl"),
		},
		Escrow: EscrowConfig{
			MinBudget:   v.GetInt64("escrow.min_budget"),
			MaxDuration: v.GetDuration("escrow.max_duration"),
		},
		Outbox: OutboxConfig{
			Interval:    v.GetDuration("outbox.interval"),
			BatchSize:   v.GetInt("outbox.batch_size"),
			MaxAttempts: v.GetInt("outbox.max_attempts"),
			QueuePrefix: v.GetString("outbox.queue_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Admins: splitList(v.GetString("admin.addresses")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	if c.JWT.Secret == "" {
		problems = append(problems, "jwt.secret is required")
	}
	if c.Escrow.MinBudget <= 0 {
		problems = append(problems, "escrow.min_budget must be positive")
	}
	if c.Escrow.MaxDuration <= 0 {
		problems = append(problems, "escrow.max_duration must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		problems = append(problems, "outbox.batch_size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
