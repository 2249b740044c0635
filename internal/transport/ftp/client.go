package ftp

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	goftp "github.com/jlaffaye/ftp"
)

// client is the subset of *goftp.ServerConn used by the transport.
// Retr returns an io.ReadCloser so tests can fake it.
type client interface {
	Login(user, password string) error
	List(path string) ([]*goftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	MakeDir(path string) error
	Quit() error
}

// TLSMode is how the control channel is secured.
type TLSMode int

const (
	Plain TLSMode = iota
	Implicit
	Explicit
)

func (m TLSMode) String() string {
	switch m {
	case Implicit:
		return "implicit"
	case Explicit:
		return "explicit"
	default:
		return "plain"
	}
}

// Mode is one connection strategy tried by Open.
type Mode struct {
	TLS TLSMode
	// EPSV selects extended passive mode; false falls back to PASV.
	EPSV bool
}

func (m Mode) String() string {
	if m.EPSV {
		return m.TLS.String() + "/epsv"
	}
	return m.TLS.String() + "/pasv"
}

// dialFunc connects and logs in using one mode.
type dialFunc func(ctx context.Context, addr string, m Mode, cfg dialConfig) (client, error)

type dialConfig struct {
	timeout  time.Duration
	tls      *tls.Config
	utf8     bool
	user     string
	password string
}

type serverConn struct {
	*goftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func dial(ctx context.Context, addr string, m Mode, cfg dialConfig) (client, error) {
	opts := []goftp.DialOption{
		goftp.DialWithContext(ctx),
		goftp.DialWithTimeout(cfg.timeout),
		goftp.DialWithDisabledEPSV(!m.EPSV),
		goftp.DialWithDisabledUTF8(!cfg.utf8),
	}
	switch m.TLS {
	case Implicit:
		opts = append(opts, goftp.DialWithTLS(cfg.tls))
	case Explicit:
		opts = append(opts, goftp.DialWithExplicitTLS(cfg.tls))
	}

	sc, err := goftp.Dial(addr, opts...)
	if err != nil {
		return nil, mapError(err, "failed to connect ("+m.String()+")")
	}
	if err := sc.Login(cfg.user, cfg.password); err != nil {
		_ = sc.Quit()
		return nil, mapError(err, "login failed")
	}
	return serverConn{sc}, nil
}
