// Package mysql streams files into MySQL with LOAD DATA LOCAL INFILE.
//
// The body is handed to the driver through a registered reader handler, so
// nothing touches the local disk. The server must allow local_infile.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/warehouse"
)

var _ warehouse.Loader = (*Loader)(nil)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Swapped in tests.
var (
	registerReader   = gomysql.RegisterReaderHandler
	deregisterReader = gomysql.DeregisterReaderHandler
)

// Loader implements warehouse.Loader on database/sql.
type Loader struct {
	cfg *warehouse.Config
	log *logger.Logger
	db  execer
}

// New opens and pings a pool described by cfg.
func New(ctx context.Context, cfg *warehouse.Config, log *logger.Logger) (*Loader, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nil warehouse config")
	}
	db, err := buildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newLoader(cfg, log, db), nil
}

func newLoader(cfg *warehouse.Config, log *logger.Logger, db execer) *Loader {
	return &Loader{
		cfg: cfg,
		log: logger.OrNop(log).With().Str("driver", string(warehouse.DriverMySQL)).Logger(),
		db:  db,
	}
}

// Close shuts down the pool.
func (l *Loader) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Load streams req.Body into the table and returns the rows affected.
func (l *Loader) Load(ctx context.Context, req *warehouse.Request) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.Source != nil {
		return 0, errs.New(errs.ErrKindUnsupported, "mysql cannot load objects server-side; pass a body")
	}
	if l.db == nil {
		return 0, errs.New(errs.ErrKindConnectionFailed, "loader is closed")
	}
	ctx, cancel := warehouse.WithLoadTimeout(ctx, l.cfg)
	defer cancel()

	name := uuid.NewString()
	stmt, err := loadDataSQL(req, name)
	if err != nil {
		return 0, err
	}
	body := req.Body
	registerReader(name, func() io.Reader { return body })
	defer deregisterReader(name)

	log := l.log.With().Str("table", req.Table).Logger()
	log.Debugf("running %s", stmt)

	res, err := l.db.ExecContext(ctx, stmt)
	if err != nil {
		log.WarnErr("load data failed", err)
		return 0, mapError(err, "load into "+req.Table+" failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err, "failed to read rows affected")
	}
	log.Infof("loaded %d rows", n)
	return n, nil
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// loadDataSQL builds the LOAD DATA statement reading from the named handler.
func loadDataSQL(req *warehouse.Request, handler string) (string, error) {
	if req.Format == warehouse.FormatJSON {
		return "", errs.New(errs.ErrKindUnsupported, "mysql LOAD DATA cannot read JSON")
	}
	table := quoteIdent(req.Table)
	if req.Schema != "" {
		table = quoteIdent(req.Schema) + "." + table
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LOAD DATA LOCAL INFILE %s INTO TABLE %s", quoteLiteral("Reader::"+handler), table)
	b.WriteString(" CHARACTER SET utf8mb4")
	fmt.Fprintf(&b, ` FIELDS TERMINATED BY %s OPTIONALLY ENCLOSED BY '"'`, quoteLiteral(req.CSVDelimiter()))
	b.WriteString(` LINES TERMINATED BY '\n'`)
	if req.IgnoreHeader > 0 {
		fmt.Fprintf(&b, " IGNORE %d LINES", req.IgnoreHeader)
	}
	return b.String(), nil
}
