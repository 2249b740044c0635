package warehouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
)

func TestRequest_Validate(t *testing.T) {
	s3src, err := descriptor.Parse("s3://landing/in/", nil)
	require.NoError(t, err)
	ftpsrc, err := descriptor.Parse("ftp://h/in/", nil)
	require.NoError(t, err)
	body := strings.NewReader("a,b\n")

	tests := []struct {
		name string
		req  *Request
		kind errs.ErrKind
	}{
		{"nil", nil, errs.ErrKindInvalidInput},
		{"no table", &Request{Body: body}, errs.ErrKindInvalidInput},
		{"bad format", &Request{Table: "t", Body: body, Format: "xml"}, errs.ErrKindInvalidInput},
		{"negative header", &Request{Table: "t", Body: body, IgnoreHeader: -1}, errs.ErrKindInvalidInput},
		{"nothing to load", &Request{Table: "t"}, errs.ErrKindInvalidInput},
		{"source needs key", &Request{Table: "t", Source: s3src}, errs.ErrKindInvalidInput},
		{"non object source", &Request{Table: "t", Source: ftpsrc, Key: "k"}, errs.ErrKindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}

	assert.NoError(t, (&Request{Table: "t", Body: body}).Validate())
	assert.NoError(t, (&Request{Table: "t", Source: s3src, Key: "k", Format: FormatJSON}).Validate())
}

func TestRequest_CSVDelimiter(t *testing.T) {
	assert.Equal(t, ",", (&Request{}).CSVDelimiter())
	assert.Equal(t, "|", (&Request{Delimiter: "|"}).CSVDelimiter())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("", "postgres://x")
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://x", cfg.DSN)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, DriverMySQL, DefaultConfig(DriverMySQL, "").Driver)
}

func TestWithLoadTimeout(t *testing.T) {
	ctx, cancel := WithLoadTimeout(context.Background(), &Config{LoadTimeout: time.Minute})
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	ctx, cancel = WithLoadTimeout(context.Background(), &Config{})
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
