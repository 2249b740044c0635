package s3

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/multipart"
	"github.com/koustreak/filehop/internal/retry"
	"github.com/koustreak/filehop/internal/transport"
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	NotStarted SessionState = iota
	Started
	Finished
	Aborted
)

func (s SessionState) String() string {
	switch s {
	case Started:
		return "started"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	default:
		return "not_started"
	}
}

const (
	// sessionAttempts bounds part uploads and abort calls.
	sessionAttempts = 3
	// StaleUploadAge is how old an unfinished upload on the same key must
	// be before Abort sweeps it.
	StaleUploadAge = 7 * 24 * time.Hour

	abortTimeout = time.Minute
)

// SessionOptions are the hints applied when the upload is created.
type SessionOptions struct {
	StorageClass types.StorageClass
	ACL          types.ObjectCannedACL
}

// Session is one multipart upload: Start, then UploadPart in order, then
// Finish or Abort. Part numbers start at 1 and grow by one per successful
// part. Any failure after Start aborts the upload before the error is
// returned. The last outcome is readable through LastError.
type Session struct {
	api    API
	bucket string
	key    string
	opts   SessionOptions
	log    *logger.Logger

	// wait is the fixed delay between part and abort attempts.
	wait time.Duration
	now  func() time.Time

	mu       sync.Mutex
	state    SessionState
	uploadID string
	parts    []types.CompletedPart
	size     int64

	last transport.State
}

var _ multipart.PartUploader = (*Session)(nil)

// NewSession returns a session for bucket/key in the NotStarted state.
func NewSession(api API, bucket, key string, opts SessionOptions, log *logger.Logger) *Session {
	return &Session{
		api:    api,
		bucket: bucket,
		key:    key,
		opts:   opts,
		log:    logger.OrNop(log).With().Str("bucket", bucket).Str("key", key).Logger(),
		wait:   retry.CallWait,
		now:    time.Now,
	}
}

// State returns the lifecycle position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UploadID is the backend token, empty before Start.
func (s *Session) UploadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadID
}

// Parts returns the completed parts in upload order.
func (s *Session) Parts() []types.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.parts)
}

// LastError is the text of the last recorded error.
func (s *Session) LastError() string { return s.last.LastError() }

// Err is the last recorded error.
func (s *Session) Err() error { return s.last.Err() }

// Start creates the upload. On failure the session stays NotStarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return s.last.Record(errs.Newf(errs.ErrKindInvalidInput, "multipart upload is %s", s.state))
	}
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if s.opts.StorageClass != "" {
		in.StorageClass = s.opts.StorageClass
	}
	if s.opts.ACL != "" {
		in.ACL = s.opts.ACL
	}
	out, err := s.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return s.last.Record(mapError(err, "failed to create multipart upload"))
	}
	s.uploadID = aws.ToString(out.UploadId)
	s.state = Started
	s.log.With().Str("upload_id", s.uploadID).Logger().Debug("multipart upload started")
	return s.last.Record(nil)
}

// UploadPart sends part as the next part number. The call is retried up to
// three times; when it still fails the session is aborted.
func (s *Session) UploadPart(ctx context.Context, part []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Started {
		return s.last.Record(errs.Newf(errs.ErrKindInvalidInput, "cannot upload a part: multipart upload is %s", s.state))
	}

	number := int32(len(s.parts) + 1)
	var etag *string
	err := retry.Fixed(sessionAttempts, s.wait).Do(ctx, func(ctx context.Context) error {
		out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.key),
			UploadId:   aws.String(s.uploadID),
			PartNumber: aws.Int32(number),
			Body:       bytes.NewReader(part),
		})
		if err != nil {
			return mapError(err, "failed to upload part")
		}
		etag = out.ETag
		return nil
	})
	if err != nil {
		s.log.With().Int("part", int(number)).Err(err).Logger().Warn("part upload failed, aborting")
		s.abort(ctx)
		return s.last.Record(err)
	}

	s.parts = append(s.parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(number)})
	s.size += int64(len(part))
	s.log.With().
		Int("part", int(number)).
		Size("size", int64(len(part))).
		Logger().
		Debug("part uploaded")
	return s.last.Record(nil)
}

// Finish completes the upload from the parts sent so far, in ascending
// part-number order. At least one part is required. On failure the session
// is aborted.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Started {
		return s.last.Record(errs.Newf(errs.ErrKindInvalidInput, "cannot finish: multipart upload is %s", s.state))
	}
	if len(s.parts) == 0 {
		err := errs.New(errs.ErrKindInvalidInput, "cannot finish a multipart upload without parts")
		s.abort(ctx)
		return s.last.Record(err)
	}

	parts := slices.Clone(s.parts)
	slices.SortFunc(parts, func(a, b types.CompletedPart) int {
		return int(aws.ToInt32(a.PartNumber) - aws.ToInt32(b.PartNumber))
	})
	_, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key),
		UploadId:        aws.String(s.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		err = mapError(err, "failed to complete multipart upload")
		s.log.WarnErr("multipart completion failed, aborting", err)
		s.abort(ctx)
		return s.last.Record(err)
	}

	s.state = Finished
	s.log.With().
		Int("parts", len(parts)).
		Size("size", s.size).
		Logger().
		Info("multipart upload finished")
	return s.last.Record(nil)
}

// Abort cancels the upload. It never panics and always leaves the session
// Aborted, unless it had already finished. The abort call is tried three
// times; afterwards unfinished uploads on the same key older than
// StaleUploadAge are swept, ignoring any error. The returned error reports
// the abort call only. Calling Abort again is a no-op.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Record(s.abort(ctx))
}

func (s *Session) abort(ctx context.Context) error {
	switch s.state {
	case Finished, Aborted:
		return nil
	case NotStarted:
		s.state = Aborted
		return nil
	}
	s.state = Aborted

	// Cleanup still runs when the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	err := retry.Fixed(sessionAttempts, s.wait).Do(ctx, func(ctx context.Context) error {
		_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.key),
			UploadId: aws.String(s.uploadID),
		})
		return mapError(err, "failed to abort multipart upload")
	})
	if err != nil {
		s.log.WarnErr("multipart abort failed", err)
	}
	s.sweep(ctx)
	return err
}

// sweep aborts unfinished uploads on the key that are older than
// StaleUploadAge. Errors are logged and dropped.
func (s *Session) sweep(ctx context.Context) {
	cutoff := s.now().Add(-StaleUploadAge)
	in := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key),
	}
	for {
		out, err := s.api.ListMultipartUploads(ctx, in)
		if err != nil {
			s.log.With().Err(err).Logger().Debug("stale upload sweep failed")
			return
		}
		for _, u := range out.Uploads {
			if aws.ToString(u.Key) != s.key || u.Initiated == nil || !u.Initiated.Before(cutoff) {
				continue
			}
			_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(s.bucket),
				Key:      u.Key,
				UploadId: u.UploadId,
			})
			if err != nil {
				s.log.With().Str("upload_id", aws.ToString(u.UploadId)).Err(err).Logger().Debug("failed to abort stale upload")
				continue
			}
			s.log.With().Str("upload_id", aws.ToString(u.UploadId)).Logger().Info("aborted stale upload")
		}
		if !aws.ToBool(out.IsTruncated) {
			return
		}
		in.KeyMarker = out.NextKeyMarker
		in.UploadIdMarker = out.NextUploadIdMarker
	}
}
