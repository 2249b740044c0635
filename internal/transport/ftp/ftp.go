// Package ftp implements transport.Transport over FTP, FTPS (implicit TLS)
// and FTPES (explicit TLS).
//
// Open tries each connection mode allowed by the scheme (TLS variant, then
// EPSV before PASV) and remembers the one that worked so a reconnect tries
// it first.
package ftp

import (
	"context"
	"crypto/tls"
	"io"
	"iter"
	"regexp"
	"strings"

	goftp "github.com/jlaffaye/ftp"
	"go.uber.org/multierr"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/transport"
)

// Transport is an FTP-family client bound to one descriptor.
type Transport struct {
	transport.Base

	dial  dialFunc
	names nameCodec
	modes []Mode

	conn     client
	lastMode *Mode
}

var _ transport.Transport = (*Transport)(nil)

// New returns a closed Transport for d. It fails when the encoding option
// names an unknown character set.
func New(d *descriptor.Descriptor, log *logger.Logger) (*Transport, error) {
	return newTransport(d, log, dial)
}

func newTransport(d *descriptor.Descriptor, log *logger.Logger, df dialFunc) (*Transport, error) {
	if !d.Scheme.IsFTP() {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "ftp transport cannot serve scheme %s", d.Scheme)
	}
	names, err := newNameCodec(d.Encoding())
	if err != nil {
		return nil, err
	}
	return &Transport{
		Base:  transport.NewBase(d, log),
		dial:  df,
		names: names,
		modes: candidateModes(d.Scheme),
	}, nil
}

// candidateModes lists the modes worth trying for a scheme, preferred first.
// FTPS may be served either on a dedicated TLS port or upgraded in place.
func candidateModes(s descriptor.Scheme) []Mode {
	var tlsModes []TLSMode
	switch s {
	case descriptor.FTPS:
		tlsModes = []TLSMode{Implicit, Explicit}
	case descriptor.FTPES:
		tlsModes = []TLSMode{Explicit}
	default:
		tlsModes = []TLSMode{Plain}
	}
	modes := make([]Mode, 0, 2*len(tlsModes))
	for _, tm := range tlsModes {
		modes = append(modes, Mode{TLS: tm, EPSV: true}, Mode{TLS: tm, EPSV: false})
	}
	return modes
}

// LastMode returns the mode of the last successful connection.
func (t *Transport) LastMode() (Mode, bool) {
	if t.lastMode == nil {
		return Mode{}, false
	}
	return *t.lastMode, true
}

// Open connects and logs in, retrying per the descriptor.
func (t *Transport) Open(ctx context.Context) error {
	return t.Base.Open(ctx, t.IsOpened(), t.connect)
}

func (t *Transport) connect(ctx context.Context) error {
	cfg := dialConfig{
		timeout: t.D.Timeout(),
		tls: &tls.Config{
			ServerName:         t.D.Host,
			InsecureSkipVerify: t.D.BoolOption(descriptor.OptAllowInvalidCertificate, false),
		},
		utf8:     t.names.utf8(),
		user:     t.D.Login,
		password: t.D.Password,
	}
	if cfg.user == "" {
		cfg.user, cfg.password = "anonymous", "anonymous"
	}

	var err error
	for _, m := range t.orderedModes() {
		var c client
		c, err = t.dial(ctx, t.D.Address(), m, cfg)
		if err == nil {
			t.conn = c
			t.lastMode = &m
			t.Log.With().Str("mode", m.String()).Logger().Debug("ftp connected")
			return nil
		}
		if errs.IsPermissionDenied(err) || ctx.Err() != nil {
			return err
		}
		t.Log.With().Str("mode", m.String()).Err(err).Logger().Debug("ftp mode failed")
	}
	return err
}

func (t *Transport) orderedModes() []Mode {
	if t.lastMode == nil {
		return t.modes
	}
	ordered := []Mode{*t.lastMode}
	for _, m := range t.modes {
		if m != *t.lastMode {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

// IsOpened reports whether a control connection is held.
func (t *Transport) IsOpened() bool { return t.conn != nil }

// Close sends QUIT and drops the connection. Safe to call repeatedly.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	return mapError(err, "quit failed")
}

func (t *Transport) client() (client, error) {
	if t.conn == nil {
		return nil, errs.New(errs.ErrKindConnectionFailed, "ftp transport is not open")
	}
	return t.conn, nil
}

// ListFiles walks folder depth-first with LIST.
func (t *Transport) ListFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool) iter.Seq2[transport.FileEntry, error] {
	return t.Listing(transport.Walk(ctx, t.Folder(folder), t.readDir, transport.WalkOptions{
		Pattern:   pattern,
		Recursive: recursive,
	}))
}

func (t *Transport) readDir(_ context.Context, dir string) ([]transport.FileEntry, error) {
	c, err := t.client()
	if err != nil {
		return nil, err
	}
	wire, err := t.names.encode(dir)
	if err != nil {
		return nil, err
	}
	list, err := c.List(wire)
	if err != nil {
		return nil, mapError(err, "failed to list "+dir)
	}

	entries := make([]transport.FileEntry, 0, len(list))
	for _, e := range list {
		name := t.names.decode(e.Name)
		entries = append(entries, transport.FileEntry{
			Name:       name,
			Path:       transport.JoinPath(dir, name),
			Size:       int64(e.Size),
			CreatedAt:  e.Time,
			ModifiedAt: e.Time,
			IsDir:      e.Type == goftp.EntryTypeFolder,
		})
	}
	return entries, nil
}

// GetFileStream issues RETR and returns the data connection. It must be
// closed before the next command on this transport.
func (t *Transport) GetFileStream(_ context.Context, path string) (io.ReadCloser, error) {
	c, err := t.client()
	if err != nil {
		return nil, t.Record(err)
	}
	wire, err := t.names.encode(path)
	if err != nil {
		return nil, t.Record(err)
	}
	body, err := c.Retr(wire)
	if err != nil {
		return nil, t.Record(mapError(err, "failed to retrieve "+path))
	}
	t.Record(nil)
	return body, nil
}

// GetFileStreams opens every file the descriptor selects.
func (t *Transport) GetFileStreams(ctx context.Context) iter.Seq2[transport.FileStream, error] {
	return t.Streams(ctx, t)
}

// GetFiles copies matched files into outputDir, moving on past failures.
func (t *Transport) GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[transport.FileEntry, error] {
	return t.Download(ctx, t, t.ListFiles(ctx, folder, pattern, recursive), outputDir, deleteOnSuccess)
}

// SendFile creates missing parent directories and stores r at destPath.
func (t *Transport) SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error {
	dest := t.Target(destPath)
	return t.Send(ctx, t, r, closeInput, func(_ context.Context, r io.Reader) error {
		c, err := t.client()
		if err != nil {
			return err
		}
		wire, err := t.names.encode(dest)
		if err != nil {
			return err
		}
		t.makeParents(c, wire)
		return mapError(c.Stor(wire, r), "failed to store "+dest)
	})
}

// makeParents creates every directory above p. Errors are ignored since
// MKD fails for directories that already exist.
func (t *Transport) makeParents(c client, p string) {
	dir := transport.ParentDir(p)
	if dir == "" || dir == "/" {
		return
	}
	var built strings.Builder
	if strings.HasPrefix(dir, "/") {
		built.WriteByte('/')
	}
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		built.WriteString(seg)
		_ = c.MakeDir(built.String())
		built.WriteByte('/')
	}
}

// RemoveFile deletes path with DELE.
func (t *Transport) RemoveFile(ctx context.Context, path string) error {
	return t.Reconnecting(ctx, "remove", t, func(context.Context) error {
		c, err := t.client()
		if err != nil {
			return err
		}
		wire, err := t.names.encode(path)
		if err != nil {
			return err
		}
		return mapError(c.Delete(wire), "failed to delete "+path)
	})
}

// RemoveFiles deletes every path and reports all failures together.
func (t *Transport) RemoveFiles(ctx context.Context, paths []string) error {
	var err error
	for _, p := range paths {
		err = multierr.Append(err, t.RemoveFile(ctx, p))
	}
	return t.Record(err)
}
