// Package s3 implements transport.Transport on an S3-compatible object store.
//
// Paths are object keys inside the descriptor's bucket. Listing follows
// continuation tokens and matches patterns against the full key, since an
// object store has no directories. Uploads smaller than one part go out as a
// single PutObject; anything larger is streamed through a multipart Session.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/multipart"
	"github.com/koustreak/filehop/internal/transport"
)

const (
	defaultRegion = "us-east-1"

	// DeleteBatchSize is the number of keys sent per DeleteObjects call.
	DeleteBatchSize = 999
	// deletePasses bounds how often keys that failed to delete are retried.
	deletePasses = 3
)

// Transport reads and writes objects in one bucket.
type Transport struct {
	transport.Base

	newClient   clientFunc
	api         API
	bucketReady bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns a closed Transport for d. A failed download ends GetFiles.
func New(d *descriptor.Descriptor, log *logger.Logger) *Transport {
	return newTransport(d, log, newClient)
}

func newTransport(d *descriptor.Descriptor, log *logger.Logger, nc clientFunc) *Transport {
	t := &Transport{Base: transport.NewBase(d, log), newClient: nc}
	t.Log = t.Log.With().Str("bucket", d.Bucket).Logger()
	t.StopOnFirstError = true
	return t
}

// Open builds the S3 client. The bucket is not checked until an upload
// needs it.
func (t *Transport) Open(ctx context.Context) error {
	return t.Base.Open(ctx, t.IsOpened(), func(ctx context.Context) error {
		api, err := t.newClient(ctx, t.D)
		if err != nil {
			return err
		}
		t.api = api
		return nil
	})
}

// IsOpened reports whether the client has been built.
func (t *Transport) IsOpened() bool { return t.api != nil }

// Close drops the client.
func (t *Transport) Close() error {
	t.api = nil
	t.bucketReady = false
	return nil
}

func (t *Transport) client() (API, error) {
	if t.api == nil {
		return nil, errs.New(errs.ErrKindConnectionFailed, "s3 transport is not open")
	}
	return t.api, nil
}

func (t *Transport) bucket() *string { return aws.String(t.D.Bucket) }

// ListFiles yields the objects under the folder prefix. Without recursive
// only keys directly under the prefix are returned. pattern is matched
// against the full key. Each page is retried twice before the listing
// gives up.
func (t *Transport) ListFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool) iter.Seq2[transport.FileEntry, error] {
	prefix := t.Folder(folder)
	return t.Listing(func(yield func(transport.FileEntry, error) bool) {
		api, err := t.client()
		if err != nil {
			yield(transport.FileEntry{}, err)
			return
		}

		in := &s3.ListObjectsV2Input{Bucket: t.bucket(), Prefix: aws.String(prefix)}
		if !recursive {
			in.Delimiter = aws.String("/")
		}
		for {
			var page *s3.ListObjectsV2Output
			err := t.CallRetry("list").Do(ctx, func(ctx context.Context) error {
				var err error
				page, err = api.ListObjectsV2(ctx, in)
				return mapError(err, "failed to list "+prefix)
			})
			if err != nil {
				yield(transport.FileEntry{}, err)
				return
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue
				}
				if pattern != nil && !pattern.MatchString(key) {
					continue
				}
				if !yield(objectEntry(obj), nil) {
					return
				}
			}

			if !aws.ToBool(page.IsTruncated) {
				return
			}
			in.ContinuationToken = page.NextContinuationToken
		}
	})
}

func objectEntry(obj types.Object) transport.FileEntry {
	key := aws.ToString(obj.Key)
	e := transport.FileEntry{
		Name: transport.BaseName(key),
		Path: key,
		Size: aws.ToInt64(obj.Size),
	}
	if obj.LastModified != nil {
		e.ModifiedAt = obj.LastModified.UTC()
		e.CreatedAt = e.ModifiedAt
	}
	return e
}

// GetFileStream returns the object body as it arrives from the network.
func (t *Transport) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := t.Reconnecting(ctx, "get", t, func(ctx context.Context) error {
		api, err := t.client()
		if err != nil {
			return err
		}
		out, err := api.GetObject(ctx, &s3.GetObjectInput{Bucket: t.bucket(), Key: aws.String(path)})
		if err != nil {
			return mapError(err, "failed to get "+path)
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetFileStreams opens every object the descriptor selects.
func (t *Transport) GetFileStreams(ctx context.Context) iter.Seq2[transport.FileStream, error] {
	return t.Streams(ctx, t)
}

// GetFiles downloads matched objects into outputDir. The first failed
// object ends the sequence.
func (t *Transport) GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[transport.FileEntry, error] {
	return t.Download(ctx, t, t.ListFiles(ctx, folder, pattern, recursive), outputDir, deleteOnSuccess)
}

// SendFile uploads r to the key destPath, creating the bucket when it does
// not exist yet.
func (t *Transport) SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error {
	key := t.Target(destPath)
	return t.Send(ctx, t, r, closeInput, func(ctx context.Context, r io.Reader) error {
		return t.upload(ctx, key, r)
	})
}

// upload reads up to one part of r. A stream that ends within that part is
// sent with PutObject; otherwise the part becomes the first of a multipart
// upload and the rest of r follows.
func (t *Transport) upload(ctx context.Context, key string, r io.Reader) error {
	api, err := t.client()
	if err != nil {
		return err
	}
	if err := t.ensureBucket(ctx, api); err != nil {
		return err
	}

	partSize := multipart.ClampPartSize(t.D.PartSize())
	head := make([]byte, partSize)
	n, err := io.ReadFull(r, head)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return t.put(ctx, api, key, head[:n])
	case err != nil:
		return errs.Wrap(errs.ErrKindOperationFailed, "failed to read input", err)
	}

	t.Log.With().
		Str("key", key).
		Size("part_size", partSize).
		Logger().
		Debug("starting multipart upload")

	sess := NewSession(api, t.D.Bucket, key, t.sessionOptions(), t.Log)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	w := multipart.NewWriterWithBuffer(ctx, sess, partSize, head)
	if _, err := transport.CopyChunked(ctx, w, r); err != nil {
		_ = w.Abort()
		return errs.Wrap(errs.KindOf(err), "multipart upload of "+key+" failed", err)
	}
	return w.Close()
}

func (t *Transport) put(ctx context.Context, api API, key string, body []byte) error {
	opts := t.sessionOptions()
	_, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        t.bucket(),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		StorageClass:  opts.StorageClass,
		ACL:           opts.ACL,
	})
	if err != nil {
		return mapError(err, "failed to put "+key)
	}
	t.Log.With().Str("key", key).Size("size", int64(len(body))).Logger().Debug("object uploaded")
	return nil
}

func (t *Transport) sessionOptions() SessionOptions {
	var o SessionOptions
	if t.D.BoolOption(descriptor.OptUseReducedRedundancy, false) {
		o.StorageClass = types.StorageClassReducedRedundancy
	}
	if t.D.BoolOption(descriptor.OptMakePublic, false) {
		o.ACL = types.ObjectCannedACLPublicRead
	}
	return o
}

// ensureBucket creates the bucket when HeadBucket reports it missing. The
// answer is cached until Close.
func (t *Transport) ensureBucket(ctx context.Context, api API) error {
	if t.bucketReady {
		return nil
	}
	_, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: t.bucket()})
	if err = mapError(err, "failed to check bucket "+t.D.Bucket); err != nil && !errs.IsNotFound(err) {
		return err
	}
	if err != nil {
		in := &s3.CreateBucketInput{Bucket: t.bucket()}
		if region := t.D.Region; region != "" && region != defaultRegion {
			in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(region),
			}
		}
		if _, err := api.CreateBucket(ctx, in); err != nil && !ownedByYou(err) {
			return mapError(err, "failed to create bucket "+t.D.Bucket)
		}
		t.Log.Info("bucket created")
	}
	t.bucketReady = true
	return nil
}

func ownedByYou(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

// RemoveFile deletes the object at path.
func (t *Transport) RemoveFile(ctx context.Context, path string) error {
	return t.Reconnecting(ctx, "remove", t, func(ctx context.Context) error {
		api, err := t.client()
		if err != nil {
			return err
		}
		_, err = api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: t.bucket(), Key: aws.String(path)})
		return mapError(err, "failed to remove "+path)
	})
}

// RemoveFiles deletes paths in batches of DeleteBatchSize keys. Keys the
// service fails to delete are collected and sent again, for up to three
// passes. Keys still left afterwards produce a partial batch error.
func (t *Transport) RemoveFiles(ctx context.Context, paths []string) error {
	if err := t.Open(ctx); err != nil {
		return err
	}
	api := t.api

	pending := slices.Compact(slices.Sorted(slices.Values(paths)))
	total := len(pending)
	var lastErr error
	for pass := 1; pass <= deletePasses && len(pending) > 0; pass++ {
		var failed []string
		for batch := range slices.Chunk(pending, DeleteBatchSize) {
			f, err := t.deleteBatch(ctx, api, batch)
			if err != nil {
				lastErr = err
			}
			failed = append(failed, f...)
		}
		if len(failed) > 0 {
			t.Log.With().Int("pass", pass).Int("failed", len(failed)).Logger().Warn("some keys were not deleted")
		}
		pending = failed
		if ctx.Err() != nil {
			break
		}
	}

	if len(pending) > 0 {
		return t.Record(errs.Wrap(errs.ErrKindPartialBatch,
			fmt.Sprintf("%d of %d keys were not deleted", len(pending), total), lastErr))
	}
	return t.Record(nil)
}

// deleteBatch returns the keys of batch that were not deleted, with an
// error describing the last failure.
func (t *Transport) deleteBatch(ctx context.Context, api API, batch []string) ([]string, error) {
	objects := make([]types.ObjectIdentifier, len(batch))
	for i, k := range batch {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	var out *s3.DeleteObjectsOutput
	err := t.CallRetry("delete batch").Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: t.bucket(),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		return mapError(err, "failed to delete objects")
	})
	if err != nil {
		return batch, err
	}

	var failed []string
	for _, e := range out.Errors {
		failed = append(failed, aws.ToString(e.Key))
		err = errs.Newf(errs.ErrKindOperationFailed, "failed to delete %s: %s %s",
			aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
	}
	return failed, err
}

// CopyFile copies the object src to dst. The source ACL is carried over,
// unless makePublic is set, in which case dst is made public-read.
func (t *Transport) CopyFile(ctx context.Context, src, dst string) error {
	dst = t.Target(dst)
	if src == dst {
		return t.Record(errs.Newf(errs.ErrKindInvalidInput, "cannot copy %s onto itself", src))
	}
	return t.Reconnecting(ctx, "copy", t, func(ctx context.Context) error {
		api, err := t.client()
		if err != nil {
			return err
		}
		return t.copy(ctx, api, src, dst)
	})
}

// MoveFile copies src to dst and then deletes src.
func (t *Transport) MoveFile(ctx context.Context, src, dst string) error {
	dst = t.Target(dst)
	if src == dst {
		return t.Record(nil)
	}
	return t.Reconnecting(ctx, "move", t, func(ctx context.Context) error {
		api, err := t.client()
		if err != nil {
			return err
		}
		if err := t.copy(ctx, api, src, dst); err != nil {
			return err
		}
		_, err = api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: t.bucket(), Key: aws.String(src)})
		return mapError(err, "failed to remove "+src)
	})
}

func (t *Transport) copy(ctx context.Context, api API, src, dst string) error {
	opts := t.sessionOptions()

	var acl *s3.GetObjectAclOutput
	if opts.ACL == "" {
		err := t.CallRetry("get acl").Do(ctx, func(ctx context.Context) error {
			var err error
			acl, err = api.GetObjectAcl(ctx, &s3.GetObjectAclInput{Bucket: t.bucket(), Key: aws.String(src)})
			return mapError(err, "failed to read acl of "+src)
		})
		if err != nil {
			return err
		}
	}

	_, err := api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:       t.bucket(),
		Key:          aws.String(dst),
		CopySource:   aws.String(copySource(t.D.Bucket, src)),
		StorageClass: opts.StorageClass,
		ACL:          opts.ACL,
	})
	if err != nil {
		return mapError(err, "failed to copy "+src+" to "+dst)
	}
	if acl == nil {
		return nil
	}

	return t.CallRetry("put acl").Do(ctx, func(ctx context.Context) error {
		_, err := api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
			Bucket: t.bucket(),
			Key:    aws.String(dst),
			AccessControlPolicy: &types.AccessControlPolicy{
				Grants: acl.Grants,
				Owner:  acl.Owner,
			},
		})
		return mapError(err, "failed to apply acl to "+dst)
	})
}

// copySource is the URL-encoded "bucket/key" form CopyObject expects.
func copySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}
