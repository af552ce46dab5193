// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsqlite"
	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

const envPrefix = "SERMONSYNC"

// cliConfig is resolved from flags, SERMONSYNC_* environment variables and an optional
// sermonsync.yaml, in that order of precedence
type cliConfig struct {
	Server      string        `mapstructure:"server"`
	DB          string        `mapstructure:"db"`
	User        string        `mapstructure:"user"`
	Device      string        `mapstructure:"device"`
	Token       string        `mapstructure:"token"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	Schedule    string        `mapstructure:"schedule"`
	LogLevel    string        `mapstructure:"log_level"`
	LogJSON     bool          `mapstructure:"log_json"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	PageSize    int           `mapstructure:"page_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// app carries state shared by all commands
type app struct {
	v          *viper.Viper
	configFile string
	config     *cliConfig
	logger     *slog.Logger
	out        io.Writer
}

func addRootFlags(cmd *cobra.Command, a *app) error {
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./sermonsync.yaml)")
	flags.String("server", "http://localhost:8080", "sermon sync server base URL")
	flags.String("db", "sermons.db", "local SQLite database path")
	flags.String("user", "", "user id that owns the local records")
	flags.String("device", "cli", "device id embedded in minted tokens")
	flags.String("token", "", "bearer token for the server")
	flags.String("jwt-secret", "", "mint tokens locally with this HS256 secret instead of --token")
	flags.String("schedule", "@every 5m", "cron schedule for watch")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during watch")
	flags.Int("page-size", 100, "records per pull page")
	flags.Duration("timeout", sermonsqlite.DefaultRequestTimeout, "per-request timeout")

	for _, name := range []string{
		"server", "db", "user", "device", "token", "jwt-secret", "schedule",
		"log-level", "log-json", "metrics-addr", "page-size", "timeout",
	} {
		if err := a.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig resolves the configuration and sets up logging
func (a *app) loadConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
	} else {
		a.v.SetConfigName("sermonsync")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg cliConfig
	if err := a.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	a.config = &cfg

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// tokenFunc returns the configured token, or mints one when a JWT secret is set
func (a *app) tokenFunc() func(ctx context.Context) (string, error) {
	cfg := a.config
	if cfg.Token != "" {
		return func(context.Context) (string, error) { return cfg.Token, nil }
	}
	if cfg.JWTSecret != "" {
		jwtAuth := sermonsync.NewJWTAuth(cfg.JWTSecret)
		return func(context.Context) (string, error) {
			return jwtAuth.GenerateToken(cfg.User, cfg.Device, time.Hour)
		}
	}
	return func(context.Context) (string, error) { return "", nil }
}

// openClient opens the local database and builds an engine client.
// The returned function closes the database.
func (a *app) openClient(configure func(*sermonsqlite.Config)) (*sermonsqlite.Client, func(), error) {
	cfg := a.config
	if cfg.User == "" {
		return nil, nil, fmt.Errorf("--user (or %s_USER) is required", envPrefix)
	}

	db, err := sql.Open("sqlite3", cfg.DB+"?_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.DB, err)
	}

	config := sermonsqlite.DefaultConfig(cfg.User)
	config.Logger = a.logger
	config.RequestTimeout = cfg.Timeout
	if cfg.PageSize > 0 {
		config.PageSize = cfg.PageSize
	}
	if configure != nil {
		configure(config)
	}

	transport := sermonsqlite.NewHTTPTransport(cfg.Server, a.tokenFunc())
	client, err := sermonsqlite.NewClient(db, transport, config)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return client, func() { _ = db.Close() }, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
