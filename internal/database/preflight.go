package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
)

// preflightApplicationName identifies preflight sessions in pg_stat_activity.
const preflightApplicationName = "gameserver-deploy"

// Ping opens a single connection with the given parameters and pings the server,
// so that migrations are not started against an unreachable database.
func Ping(ctx context.Context, params Params, timeout time.Duration) error {
	cfg, err := pgx.ParseConfig(params.URL(url.Values{
		"application_name": {preflightApplicationName},
	}))
	if err != nil {
		return fmt.Errorf("parse connection parameters: %w", err)
	}

	if timeout > 0 {
		cfg.ConnectTimeout = timeout

		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", params.Host, err)
	}

	defer func() {
		_ = conn.Close(context.WithoutCancel(ctx))
	}()

	if err = conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", params.Host, err)
	}

	return nil
}
