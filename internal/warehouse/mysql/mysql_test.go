package mysql

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/warehouse"
)

// fakeDB reads the body through the registered handler the way the driver
// does when the server asks for the local file.
type fakeDB struct {
	handlers map[string]func() io.Reader
	stmts    []string
	body     string
	err      error
	closed   int
}

func (db *fakeDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	db.stmts = append(db.stmts, query)
	if db.err != nil {
		return nil, db.err
	}
	start := strings.Index(query, "'Reader::") + len("'Reader::")
	name := query[start : start+strings.Index(query[start:], "'")]
	h, ok := db.handlers[name]
	if !ok {
		return nil, errors.New("no handler " + name)
	}
	data, err := io.ReadAll(h())
	if err != nil {
		return nil, err
	}
	db.body = string(data)
	return driverResult(strings.Count(db.body, "\n")), nil
}

func (db *fakeDB) Close() error {
	db.closed++
	return nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func newTestLoader(t *testing.T) (*Loader, *fakeDB) {
	t.Helper()
	db := &fakeDB{handlers: map[string]func() io.Reader{}}

	origRegister, origDeregister := registerReader, deregisterReader
	registerReader = func(name string, h func() io.Reader) { db.handlers[name] = h }
	deregisterReader = func(name string) { delete(db.handlers, name) }
	t.Cleanup(func() {
		registerReader, deregisterReader = origRegister, origDeregister
	})

	return newLoader(warehouse.DefaultConfig(warehouse.DriverMySQL, ""), logger.Nop(), db), db
}

func TestLoadDataSQL(t *testing.T) {
	got, err := loadDataSQL(&warehouse.Request{
		Schema: "stage", Table: "or`ders", Delimiter: "\t", IgnoreHeader: 1,
	}, "abc")
	require.NoError(t, err)
	assert.Equal(t,
		"LOAD DATA LOCAL INFILE 'Reader::abc' INTO TABLE `stage`.`or``ders`"+
			" CHARACTER SET utf8mb4"+
			" FIELDS TERMINATED BY '\t' OPTIONALLY ENCLOSED BY '\"'"+
			` LINES TERMINATED BY '\n'`+
			" IGNORE 1 LINES",
		got)

	_, err = loadDataSQL(&warehouse.Request{Table: "t", Format: warehouse.FormatJSON}, "abc")
	assert.True(t, errs.IsUnsupported(err))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, `'it\'s'`, quoteLiteral("it's"))
	assert.Equal(t, `'a\\b'`, quoteLiteral(`a\b`))
}

func TestLoader_Load(t *testing.T) {
	l, db := newTestLoader(t)

	n, err := l.Load(context.Background(), &warehouse.Request{
		Table: "orders", IgnoreHeader: 1, Body: strings.NewReader("id,total\n1,10\n2,20\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "id,total\n1,10\n2,20\n", db.body)
	require.Len(t, db.stmts, 1)
	assert.Contains(t, db.stmts[0], "INTO TABLE `orders`")
	assert.Empty(t, db.handlers, "handler is deregistered after the load")
}

func TestLoader_LoadFailure(t *testing.T) {
	l, db := newTestLoader(t)
	db.err = &gomysql.MySQLError{Number: errNoSuchTable, Message: "Table 'dw.nope' doesn't exist"}

	_, err := l.Load(context.Background(), &warehouse.Request{Table: "nope", Body: strings.NewReader("x\n")})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Empty(t, db.handlers)
}

func TestLoader_RejectsServerSideLoad(t *testing.T) {
	l, db := newTestLoader(t)
	src, err := descriptor.Parse("s3://landing/", nil)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), &warehouse.Request{Table: "t", Key: "k", Source: src})
	require.Error(t, err)
	assert.True(t, errs.IsUnsupported(err))
	assert.Empty(t, db.stmts)
}

func TestLoader_Close(t *testing.T) {
	l, db := newTestLoader(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 1, db.closed)

	_, err := l.Load(context.Background(), &warehouse.Request{Table: "t", Body: strings.NewReader("")})
	assert.True(t, errs.IsConnectionFailed(err))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want errs.ErrKind
	}{
		{&gomysql.MySQLError{Number: errDuplicateEntry}, errs.ErrKindConflict},
		{&gomysql.MySQLError{Number: errAccessDenied}, errs.ErrKindPermissionDenied},
		{&gomysql.MySQLError{Number: errConnRefused}, errs.ErrKindConnectionFailed},
		{&gomysql.MySQLError{Number: errLoadLocalDisabled}, errs.ErrKindUnsupported},
		{&gomysql.MySQLError{Number: errDeadlock}, errs.ErrKindTransient},
		{&gomysql.MySQLError{Number: 1064}, errs.ErrKindOperationFailed},
		{gomysql.ErrInvalidConn, errs.ErrKindTransient},
		{context.DeadlineExceeded, errs.ErrKindTimeout},
		{errors.New("boom"), errs.ErrKindOperationFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errs.KindOf(mapError(tt.err, "load")), "%v", tt.err)
	}
}
