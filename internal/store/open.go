package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Options selects and configures a Store backend
type Options struct {
	Driver     string // sqlite, postgres or redis
	SQLitePath string
	PGURL      string
	PGMaxConn  int
	RedisAddr  string
	RedisDB    int
}

// Open builds the Store named by opts.Driver
func Open(ctx context.Context, opts Options, log *zap.Logger) (Store, error) {
	log = log.Named("store")

	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		s, err = NewSQLite(opts.SQLitePath, log)
	case "postgres":
		s, err = NewPostgres(ctx, opts.PGURL, opts.PGMaxConn, log)
	case "redis":
		s, err = NewRedis(ctx, opts.RedisAddr, opts.RedisDB, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", opts.Driver, err)
	}
	return s, nil
}
