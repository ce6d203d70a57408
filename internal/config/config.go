package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          string
	AllowedOrigin string

	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CartTTL       time.Duration

	AuthSecret     string
	AccessTokenTTL time.Duration
	ManagerPIN     string
	TerminalID     string

	RemoteBaseURL     string
	RemoteSecret      string
	SyncInterval      time.Duration
	SyncMaxAttempts   int
	RemoteCallTimeout time.Duration

	KitchenRouting bool
	TokenNumbers   bool
	PrintReceipt   bool
	PrintKOT       bool
	OpenDrawer     bool

	LogLevel  string
	LogFormat string
}

// Load reads .env (when present) and the process environment. Environment
// variables win over the file.
func Load() (Config, error) {
	return load(".env")
}

func load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", file, err)
		}
	}

	cfg := Config{
		Port:          v.GetString("PORT"),
		AllowedOrigin: v.GetString("ALLOWED_ORIGIN"),

		StoreDriver: strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		DatabaseURL: strings.TrimSpace(v.GetString("DATABASE_URL")),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		CartTTL:       time.Duration(v.GetInt("CART_TTL_HOURS")) * time.Hour,

		AuthSecret:     strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTL: time.Duration(v.GetInt("ACCESS_TOKEN_TTL_MINUTES")) * time.Minute,
		ManagerPIN:     strings.TrimSpace(v.GetString("MANAGER_PIN")),
		TerminalID:     v.GetString("TERMINAL_ID"),

		RemoteBaseURL:     strings.TrimSpace(v.GetString("REMOTE_BASE_URL")),
		RemoteSecret:      strings.TrimSpace(v.GetString("REMOTE_SECRET")),
		SyncInterval:      time.Duration(v.GetInt("SYNC_INTERVAL_SECONDS")) * time.Second,
		SyncMaxAttempts:   v.GetInt("SYNC_MAX_ATTEMPTS"),
		RemoteCallTimeout: time.Duration(v.GetInt("REMOTE_TIMEOUT_SECONDS")) * time.Second,

		KitchenRouting: v.GetBool("KITCHEN_ROUTING"),
		TokenNumbers:   v.GetBool("TOKEN_NUMBERS"),
		PrintReceipt:   v.GetBool("PRINT_RECEIPT"),
		PrintKOT:       v.GetBool("PRINT_KOT"),
		OpenDrawer:     v.GetBool("OPEN_DRAWER"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}
	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 15 * time.Second
	}
	if cfg.SyncMaxAttempts < 1 {
		cfg.SyncMaxAttempts = 10
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("STORE_DRIVER", "")
	v.SetDefault("SQLITE_PATH", "dinein.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CART_TTL_HOURS", 24)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("TERMINAL_ID", "terminal-1")
	v.SetDefault("REMOTE_BASE_URL", "")
	v.SetDefault("REMOTE_SECRET", "")
	v.SetDefault("SYNC_INTERVAL_SECONDS", 15)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 10)
	v.SetDefault("REMOTE_TIMEOUT_SECONDS", 10)
	v.SetDefault("KITCHEN_ROUTING", true)
	v.SetDefault("TOKEN_NUMBERS", false)
	v.SetDefault("PRINT_RECEIPT", true)
	v.SetDefault("PRINT_KOT", true)
	v.SetDefault("OPEN_DRAWER", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// SyncEnabled reports whether finalized orders are pushed to a remote.
func (c Config) SyncEnabled() bool {
	return c.RemoteBaseURL != ""
}
