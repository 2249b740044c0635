// Package postgres loads files into Redshift or PostgreSQL with COPY.
//
// Objects on S3 are loaded server-side by Redshift and the row count is read
// back with pg_last_copy_count(). Streams are sent with COPY FROM STDIN over
// the same pgx connection.
package postgres

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/warehouse"
)

var _ warehouse.Loader = (*Loader)(nil)

// conn is the part of a pooled connection the loader uses. COPY and
// pg_last_copy_count must run on the same session.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
	Release()
}

type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	return c.Conn.Conn().PgConn().CopyFrom(ctx, r, sql)
}

// Loader implements warehouse.Loader on a pgx pool.
type Loader struct {
	cfg     *warehouse.Config
	log     *logger.Logger
	pool    *pgxpool.Pool
	acquire func(ctx context.Context) (conn, error)
}

// New connects a pool described by cfg.
func New(ctx context.Context, cfg *warehouse.Config, log *logger.Logger) (*Loader, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nil warehouse config")
	}
	pool, err := buildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l := newLoader(cfg, log, func(ctx context.Context) (conn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, mapError(err, "failed to acquire connection")
		}
		return poolConn{c}, nil
	})
	l.pool = pool
	return l, nil
}

func newLoader(cfg *warehouse.Config, log *logger.Logger, acquire func(context.Context) (conn, error)) *Loader {
	return &Loader{
		cfg:     cfg,
		log:     logger.OrNop(log).With().Str("driver", string(warehouse.DriverPostgres)).Logger(),
		acquire: acquire,
	}
}

// Close shuts down the pool.
func (l *Loader) Close() error {
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
	return nil
}

// Load runs one COPY and returns the number of rows loaded.
func (l *Loader) Load(ctx context.Context, req *warehouse.Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	ctx, cancel := warehouse.WithLoadTimeout(ctx, l.cfg)
	defer cancel()

	c, err := l.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Release()

	if req.Source != nil {
		return l.loadObject(ctx, c, req)
	}
	return l.loadStream(ctx, c, req)
}

func (l *Loader) loadObject(ctx context.Context, c conn, req *warehouse.Request) (int64, error) {
	role := req.IAMRole
	if role == "" {
		role = l.cfg.IAMRole
	}
	stmt, err := copyFromObjectSQL(req, role)
	if err != nil {
		return 0, err
	}

	log := l.log.With().Str("table", req.Table).Str("source", objectURL(req)).Logger()
	log.Debugf("running %s", redact(stmt))

	if _, err := c.Exec(ctx, stmt); err != nil {
		log.WarnErr("copy failed", err)
		return 0, mapError(err, "copy from "+objectURL(req)+" failed")
	}

	var n int64
	if err := c.QueryRow(ctx, "SELECT pg_last_copy_count()").Scan(&n); err != nil {
		return 0, mapError(err, "failed to read copy count")
	}
	log.Infof("loaded %d rows", n)
	return n, nil
}

func (l *Loader) loadStream(ctx context.Context, c conn, req *warehouse.Request) (int64, error) {
	stmt, err := copyFromStdinSQL(req)
	if err != nil {
		return 0, err
	}

	log := l.log.With().Str("table", req.Table).Logger()
	log.Debugf("running %s", stmt)

	tag, err := c.CopyFrom(ctx, req.Body, stmt)
	if err != nil {
		log.WarnErr("copy failed", err)
		return 0, mapError(err, "copy into "+req.Table+" failed")
	}
	log.Infof("loaded %d rows", tag.RowsAffected())
	return tag.RowsAffected(), nil
}
