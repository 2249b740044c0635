// Package sftp implements transport.Transport over SFTP.
//
// Authentication uses the password from the connection string and/or the
// private keys listed in the sshKeyFiles option. Host keys are checked
// against the knownHosts file when one is configured.
package sftp

import (
	"context"
	"io"
	"iter"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/transport"
)

// session is an open SFTP client and whatever carries it.
type session struct {
	client *sftp.Client
	closer io.Closer // the SSH connection, nil when not applicable
}

type dialFunc func(ctx context.Context) (*session, error)

// Transport is an SFTP client bound to one descriptor.
type Transport struct {
	transport.Base

	dial dialFunc
	sess *session
}

var _ transport.Transport = (*Transport)(nil)

// New returns a closed Transport for d.
func New(d *descriptor.Descriptor, log *logger.Logger) *Transport {
	t := &Transport{Base: transport.NewBase(d, log)}
	t.dial = t.dialSSH
	// A download failure ends GetFiles.
	t.StopOnFirstError = true
	return t
}

func (t *Transport) dialSSH(ctx context.Context) (*session, error) {
	cfg, err := clientConfig(t.D, t.Log)
	if err != nil {
		return nil, err
	}

	addr := t.D.Address()
	dialer := net.Dialer{Timeout: t.D.Timeout()}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mapError(err, "failed to connect to "+addr)
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, mapError(err, "ssh handshake failed")
	}
	sshClient := ssh.NewClient(conn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, mapError(err, "failed to start sftp subsystem")
	}
	return &session{client: client, closer: sshClient}, nil
}

// Open connects and authenticates, retrying per the descriptor.
func (t *Transport) Open(ctx context.Context) error {
	return t.Base.Open(ctx, t.IsOpened(), func(ctx context.Context) error {
		s, err := t.dial(ctx)
		if err != nil {
			return err
		}
		t.sess = s
		return nil
	})
}

// IsOpened reports whether an SFTP session is held.
func (t *Transport) IsOpened() bool { return t.sess != nil }

// Close ends the SFTP session and the SSH connection under it.
func (t *Transport) Close() error {
	if t.sess == nil {
		return nil
	}
	s := t.sess
	t.sess = nil

	err := s.client.Close()
	if s.closer != nil {
		err = multierr.Append(err, s.closer.Close())
	}
	return mapError(err, "failed to close sftp session")
}

func (t *Transport) client() (*sftp.Client, error) {
	if t.sess == nil {
		return nil, errs.New(errs.ErrKindConnectionFailed, "sftp transport is not open")
	}
	return t.sess.client, nil
}

// ListFiles walks folder depth-first with READDIR.
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
	target := dir
	if target == "" {
		target = "."
	}
	infos, err := c.ReadDir(target)
	if err != nil {
		return nil, mapError(err, "failed to list "+target)
	}

	entries := make([]transport.FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, transport.EntryFromInfo(transport.JoinPath(dir, fi.Name()), fi))
	}
	return entries, nil
}

// GetFileStream opens path for reading.
func (t *Transport) GetFileStream(_ context.Context, path string) (io.ReadCloser, error) {
	c, err := t.client()
	if err != nil {
		return nil, t.Record(err)
	}
	f, err := c.Open(path)
	if err != nil {
		return nil, t.Record(mapError(err, "failed to open "+path))
	}
	t.Record(nil)
	return f, nil
}

// GetFileStreams opens every file the descriptor selects.
func (t *Transport) GetFileStreams(ctx context.Context) iter.Seq2[transport.FileStream, error] {
	return t.Streams(ctx, t)
}

// GetFiles copies matched files into outputDir. The first failed file ends
// the sequence.
func (t *Transport) GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[transport.FileEntry, error] {
	return t.Download(ctx, t, t.ListFiles(ctx, folder, pattern, recursive), outputDir, deleteOnSuccess)
}

// SendFile creates missing parent directories and writes r to destPath.
func (t *Transport) SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error {
	dest := t.Target(destPath)
	return t.Send(ctx, t, r, closeInput, func(ctx context.Context, r io.Reader) error {
		c, err := t.client()
		if err != nil {
			return err
		}
		if dir := strings.TrimSuffix(transport.ParentDir(dest), "/"); dir != "" {
			if err := c.MkdirAll(dir); err != nil {
				return mapError(err, "failed to create "+dir)
			}
		}

		f, err := c.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return mapError(err, "failed to create "+dest)
		}
		_, err = transport.CopyChunked(ctx, f, r)
		err = multierr.Append(err, f.Close())
		return mapError(err, "failed to write "+dest)
	})
}

// RemoveFile deletes path.
func (t *Transport) RemoveFile(ctx context.Context, path string) error {
	return t.Reconnecting(ctx, "remove", t, func(context.Context) error {
		c, err := t.client()
		if err != nil {
			return err
		}
		return mapError(c.Remove(path), "failed to remove "+path)
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
