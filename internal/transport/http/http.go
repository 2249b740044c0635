// Package http implements transport.Transport for a single HTTP(S) resource.
//
// The connection URL names one file: listing yields that file (with HEAD
// metadata), reads are GETs, uploads are PUTs and removal is DELETE.
// Credentials in the URL are sent as basic auth.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"iter"
	nethttp "net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/multierr"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/transport"
)

// Transport talks to one HTTP server through a resty client.
type Transport struct {
	transport.Base
	client *resty.Client
}

var _ transport.Transport = (*Transport)(nil)

// New returns a closed Transport for d.
func New(d *descriptor.Descriptor, log *logger.Logger) *Transport {
	return &Transport{Base: transport.NewBase(d, log)}
}

// Open builds the HTTP client. No request is made.
func (t *Transport) Open(ctx context.Context) error {
	return t.Base.Open(ctx, t.IsOpened(), func(context.Context) error {
		c := resty.New().
			SetTimeout(t.D.Timeout()).
			SetRetryCount(0).
			SetTLSClientConfig(&tls.Config{
				InsecureSkipVerify: t.D.BoolOption(descriptor.OptAllowInvalidCertificate, false),
			})
		if t.D.Login != "" {
			c.SetBasicAuth(t.D.Login, t.D.Password)
		}
		t.client = c
		return nil
	})
}

// IsOpened reports whether the client has been built.
func (t *Transport) IsOpened() bool { return t.client != nil }

// Close drops idle connections and the client.
func (t *Transport) Close() error {
	if t.client == nil {
		return nil
	}
	t.client.GetClient().CloseIdleConnections()
	t.client = nil
	return nil
}

func (t *Transport) request(ctx context.Context) (*resty.Request, error) {
	if t.client == nil {
		return nil, errs.New(errs.ErrKindConnectionFailed, "http transport is not open")
	}
	return t.client.R().SetContext(ctx), nil
}

// resolve turns p into a request URL without credentials. Relative
// references resolve against the connection URL.
func (t *Transport) resolve(p string) (string, error) {
	u, err := url.Parse(t.D.Join(p))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "invalid url", err)
	}
	u.User = nil
	return u.String(), nil
}

// ListFiles yields the resource named by folder (the connection URL when
// empty), filtered by pattern. recursive has no meaning here.
func (t *Transport) ListFiles(ctx context.Context, folder string, pattern *regexp.Regexp, _ bool) iter.Seq2[transport.FileEntry, error] {
	return t.Listing(func(yield func(transport.FileEntry, error) bool) {
		e, err := t.stat(ctx, t.Folder(folder))
		if err != nil {
			yield(transport.FileEntry{}, err)
			return
		}
		if pattern == nil || pattern.MatchString(e.Name) {
			yield(e, nil)
		}
	})
}

func (t *Transport) stat(ctx context.Context, p string) (transport.FileEntry, error) {
	target, err := t.resolve(p)
	if err != nil {
		return transport.FileEntry{}, err
	}
	u, _ := url.Parse(target)
	e := transport.FileEntry{Name: transport.BaseName(u.Path), Path: target, Size: -1}

	req, err := t.request(ctx)
	if err != nil {
		return e, err
	}
	resp, err := req.Head(target)
	if err != nil {
		return e, mapError(err, "HEAD "+target)
	}
	switch {
	case resp.StatusCode() == nethttp.StatusMethodNotAllowed:
		// Metadata is optional; the GET will tell.
		return e, nil
	case resp.IsError():
		return e, mapStatus(resp.StatusCode(), "HEAD "+target)
	}

	if n, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil {
		e.Size = n
	}
	if lm, err := nethttp.ParseTime(resp.Header().Get("Last-Modified")); err == nil {
		e.ModifiedAt = lm.UTC()
		e.CreatedAt = e.ModifiedAt
	}
	return e, nil
}

// GetFileStream issues a GET and returns the response body unbuffered.
func (t *Transport) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	body, err := t.get(ctx, path)
	return body, t.Record(err)
}

func (t *Transport) get(ctx context.Context, path string) (io.ReadCloser, error) {
	target, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := t.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetDoNotParseResponse(true).Get(target)
	if err != nil {
		return nil, mapError(err, "GET "+target)
	}
	if resp.IsError() {
		_ = resp.RawBody().Close()
		return nil, mapStatus(resp.StatusCode(), "GET "+target)
	}
	return resp.RawBody(), nil
}

// GetFileStreams opens the resource when it matches the descriptor.
func (t *Transport) GetFileStreams(ctx context.Context) iter.Seq2[transport.FileStream, error] {
	return t.Streams(ctx, t)
}

// GetFiles downloads the resource into outputDir.
func (t *Transport) GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[transport.FileEntry, error] {
	return t.Download(ctx, t, t.ListFiles(ctx, folder, pattern, recursive), outputDir, deleteOnSuccess)
}

// SendFile PUTs r to destPath.
func (t *Transport) SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error {
	target, err := t.resolve(destPath)
	if err != nil {
		return t.Record(err)
	}
	return t.Send(ctx, t, r, closeInput, func(ctx context.Context, r io.Reader) error {
		req, err := t.request(ctx)
		if err != nil {
			return err
		}
		resp, err := req.SetBody(r).Put(target)
		if err != nil {
			return mapError(err, "PUT "+target)
		}
		if resp.IsError() {
			return mapStatus(resp.StatusCode(), "PUT "+target)
		}
		return nil
	})
}

// RemoveFile issues a DELETE.
func (t *Transport) RemoveFile(ctx context.Context, path string) error {
	target, err := t.resolve(path)
	if err != nil {
		return t.Record(err)
	}
	return t.Reconnecting(ctx, "remove", t, func(ctx context.Context) error {
		req, err := t.request(ctx)
		if err != nil {
			return err
		}
		resp, err := req.Delete(target)
		if err != nil {
			return mapError(err, "DELETE "+target)
		}
		if resp.IsError() {
			return mapStatus(resp.StatusCode(), "DELETE "+target)
		}
		return nil
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
