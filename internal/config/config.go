// Package config binds the server settings to command line flags, each of
// which can also be set from the environment (or a .env file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

type Config struct {
	Env      string
	LogLevel string

	HTTPAddr  string
	CORSAllow []string

	StoreDriver string
	SQLitePath  string
	PGURL       string
	PGMaxConn   int
	RedisAddr   string
	RedisDB     int

	PersistInterval time.Duration
	SendQueue       int
	EditRate        float64
	EditBurst       int

	ShutdownTimeout time.Duration
}

// Flags returns the server flags with their environment bindings and defaults
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "env", Value: "dev", Usage: "dev or prod", Sources: cli.EnvVars("APP_ENV")},
		&cli.StringFlag{Name: "log-level", Value: "info", Sources: cli.EnvVars("LOG_LEVEL")},
		&cli.StringFlag{Name: "http-addr", Value: ":8000", Sources: cli.EnvVars("HTTP_ADDR")},
		&cli.StringFlag{Name: "cors-allow", Value: "http://localhost:3000", Usage: "comma separated origins", Sources: cli.EnvVars("CORS_ALLOW")},

		&cli.StringFlag{Name: "store", Value: "sqlite", Usage: "sqlite, postgres or redis", Sources: cli.EnvVars("STORE_DRIVER")},
		&cli.StringFlag{Name: "sqlite-path", Value: "./data/pairpad.db", Sources: cli.EnvVars("SQLITE_PATH")},
		&cli.StringFlag{Name: "pg-url", Sources: cli.EnvVars("PG_URL", "DATABASE_URL")},
		&cli.IntFlag{Name: "pg-max-conn", Value: 10, Sources: cli.EnvVars("PG_MAX_CONN")},
		&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", Sources: cli.EnvVars("REDIS_ADDR")},
		&cli.IntFlag{Name: "redis-db", Sources: cli.EnvVars("REDIS_DB")},

		&cli.DurationFlag{Name: "persist-interval", Value: 250 * time.Millisecond, Sources: cli.EnvVars("PERSIST_INTERVAL")},
		&cli.IntFlag{Name: "send-queue", Value: 256, Usage: "outbound messages buffered per session", Sources: cli.EnvVars("SEND_QUEUE")},
		&cli.FloatFlag{Name: "edit-rate", Value: 50, Usage: "edits per second per session", Sources: cli.EnvVars("EDIT_RATE")},
		&cli.IntFlag{Name: "edit-burst", Value: 100, Sources: cli.EnvVars("EDIT_BURST")},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: 10 * time.Second, Sources: cli.EnvVars("SHUTDOWN_TIMEOUT")},
	}
}

// FromCommand reads the parsed flags back into a Config
func FromCommand(cmd *cli.Command) Config {
	return Config{
		Env:      cmd.String("env"),
		LogLevel: cmd.String("log-level"),

		HTTPAddr:  cmd.String("http-addr"),
		CORSAllow: splitList(cmd.String("cors-allow")),

		StoreDriver: cmd.String("store"),
		SQLitePath:  cmd.String("sqlite-path"),
		PGURL:       cmd.String("pg-url"),
		PGMaxConn:   int(cmd.Int("pg-max-conn")),
		RedisAddr:   cmd.String("redis-addr"),
		RedisDB:     int(cmd.Int("redis-db")),

		PersistInterval: cmd.Duration("persist-interval"),
		SendQueue:       int(cmd.Int("send-queue")),
		EditRate:        float64(cmd.Float("edit-rate")),
		EditBurst:       int(cmd.Int("edit-burst")),

		ShutdownTimeout: cmd.Duration("shutdown-timeout"),
	}
}

func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite-path is required"))
		}
	case "postgres":
		if c.PGURL == "" {
			errs = append(errs, errors.New("pg-url is required for the postgres store"))
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis-addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http-addr is required"))
	}
	if c.PersistInterval <= 0 {
		errs = append(errs, errors.New("persist-interval must be positive"))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, errors.New("send-queue must be positive"))
	}
	if c.EditRate <= 0 || c.EditBurst <= 0 {
		errs = append(errs, errors.New("edit-rate and edit-burst must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown-timeout must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
