package cli

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pthm/sqlguard"
	"github.com/pthm/sqlguard/pkg/backend"
	"github.com/pthm/sqlguard/pkg/backend/pgxbackend"
	"github.com/pthm/sqlguard/pkg/backend/sqlbackend"
)

// Drivers lists the accepted database.driver values.
var Drivers = []string{"pgxpool", "pgx", "postgres", "sqlite3"}

// OpenPool opens the configured backend and wraps it in a sqlguard pool.
// dsn overrides the configured connection string when non-empty. The
// backend is pinged before returning.
func OpenPool(ctx context.Context, cfg *Config, dsn string, opts ...sqlguard.Option) (*sqlguard.Pool, error) {
	if dsn == "" {
		var err error
		if dsn, err = cfg.DSN(); err != nil {
			return nil, ConfigError("database configuration", err)
		}
	}

	options := append(cfg.Options(), opts...)
	sc := sqlguard.DefaultConfig()
	for _, opt := range options {
		opt(&sc)
	}
	pc := sc.PoolConfig()

	var bp backend.Pool
	switch cfg.Database.Driver {
	case "", "pgxpool":
		p, err := pgxbackend.Open(ctx, dsn, pc)
		if err != nil {
			return nil, DBConnectError("connecting to database", err)
		}
		if err := p.Unwrap().Ping(ctx); err != nil {
			p.Unwrap().Close()
			return nil, DBConnectError("connecting to database", err)
		}
		bp = p
	case "pgx", "postgres", "sqlite3":
		p, err := sqlbackend.Open(cfg.Database.Driver, dsn, pc)
		if err != nil {
			return nil, DBConnectError("connecting to database", err)
		}
		if err := p.DB().PingContext(ctx); err != nil {
			_ = p.Close()
			return nil, DBConnectError("connecting to database", err)
		}
		bp = p
	default:
		return nil, ConfigError(fmt.Sprintf("unknown database.driver %q (want one of %v)", cfg.Database.Driver, Drivers), nil)
	}

	return sqlguard.New(bp, options...), nil
}
