// Package config содержит логику чтения конфигурации сервиса учёта продаж.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultSQLitePath = "animal-sales.db"
	defaultLogLevel   = "info"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	SQLitePath  string `env:"SQLITE_PATH"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL"`

	SummaryCacheTTL time.Duration `env:"SUMMARY_CACHE_TTL" envDefault:"30s"`
	MaxLiveRefresh  int64         `env:"MAX_LIVE_REFRESH" envDefault:"4"`
}

// UsePostgres сообщает, настроено ли подключение к PostgreSQL.
// Без него записи хранятся в локальном файле SQLite.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURI != ""
}

// Parse считывает конфигурацию из файла .env (если есть), флагов командной
// строки и переменных окружения. Переменные окружения важнее флагов.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL database URI; SQLite is used when empty")
	flag.StringVar(&cfg.SQLitePath, "s", defaultSQLitePath, "SQLite database file")
	flag.StringVar(&cfg.RedisURL, "r", "", "Redis URL for the summary cache")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.SQLitePath, fromEnv.SQLitePath)
	override(&cfg.RedisURL, fromEnv.RedisURL)
	override(&cfg.LogLevel, fromEnv.LogLevel)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
