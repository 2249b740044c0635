package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var slowDown = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate", Fault: smithy.FaultServer}

type fakeUpload struct {
	key       string
	parts     map[int32][]byte
	initiated time.Time
}

// fakeS3 is an in-memory single-account object store. Errors queued in fail
// are returned, one per call, before the operation runs.
type fakeS3 struct {
	mu sync.Mutex

	buckets map[string]bool
	objects map[string][]byte
	acls    map[string][]types.Grant
	meta    map[string]*s3.PutObjectInput

	uploads   map[string]*fakeUpload
	nextID    int
	aborted   []string
	completed [][]int32

	pageSize   int
	fail       map[string][]error
	getFail    map[string]error
	deleteFail map[string]int
	batches    []int
	calls      map[string]int
	copies     []*s3.CopyObjectInput
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		buckets:    map[string]bool{bucket: true},
		objects:    map[string][]byte{},
		acls:       map[string][]types.Grant{},
		meta:       map[string]*s3.PutObjectInput{},
		uploads:    map[string]*fakeUpload{},
		fail:       map[string][]error{},
		getFail:    map[string]error{},
		deleteFail: map[string]int{},
		calls:      map[string]int{},
	}
}

func (f *fakeS3) take(op string) error {
	f.calls[op]++
	if q := f.fail[op]; len(q) > 0 {
		f.fail[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeS3) put(key, body string) {
	f.objects[key] = []byte(body)
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("HeadBucket"); err != nil {
		return nil, err
	}
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("CreateBucket"); err != nil {
		return nil, err
	}
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("ListObjectsV2"); err != nil {
		return nil, err
	}

	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if in.Delimiter != nil && strings.Contains(k[len(prefix):], aws.ToString(in.Delimiter)) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := len(keys)
	if f.pageSize > 0 {
		end = min(start+f.pageSize, len(keys))
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: aws.Time(modified),
		})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("GetObject"); err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	if err := f.getFail[key]; err != nil {
		return nil, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(slices.Clone(body)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("PutObject"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.meta[key] = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("DeleteObject"); err != nil {
		return nil, err
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("DeleteObjects"); err != nil {
		return nil, err
	}
	f.batches = append(f.batches, len(in.Delete.Objects))

	out := &s3.DeleteObjectsOutput{}
	for _, o := range in.Delete.Objects {
		key := aws.ToString(o.Key)
		if f.deleteFail[key] > 0 {
			f.deleteFail[key]--
			out.Errors = append(out.Errors, types.Error{
				Key:     o.Key,
				Code:    aws.String("InternalError"),
				Message: aws.String("we encountered an internal error"),
			})
			continue
		}
		delete(f.objects, key)
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: o.Key})
	}
	return out, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("CopyObject"); err != nil {
		return nil, err
	}
	f.copies = append(f.copies, in)

	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	_, key, _ := strings.Cut(src, "/")
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = slices.Clone(body)
	delete(f.acls, aws.ToString(in.Key))
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) GetObjectAcl(_ context.Context, in *s3.GetObjectAclInput, _ ...func(*s3.Options)) (*s3.GetObjectAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("GetObjectAcl"); err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectAclOutput{
		Owner:  &types.Owner{ID: aws.String("owner-1")},
		Grants: f.acls[key],
	}, nil
}

func (f *fakeS3) PutObjectAcl(_ context.Context, in *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("PutObjectAcl"); err != nil {
		return nil, err
	}
	f.acls[aws.ToString(in.Key)] = in.AccessControlPolicy.Grants
	return &s3.PutObjectAclOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("CreateMultipartUpload"); err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{
		key:       aws.ToString(in.Key),
		parts:     map[int32][]byte{},
		initiated: time.Now(),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("UploadPart"); err != nil {
		return nil, err
	}
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	n := aws.ToInt32(in.PartNumber)
	u.parts[n] = body
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, n))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("CompleteMultipartUpload"); err != nil {
		return nil, err
	}
	id := aws.ToString(in.UploadId)
	u, ok := f.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	var order []int32
	var body []byte
	for _, p := range in.MultipartUpload.Parts {
		n := aws.ToInt32(p.PartNumber)
		if len(order) > 0 && n <= order[len(order)-1] {
			return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Fault: smithy.FaultClient}
		}
		order = append(order, n)
		body = append(body, u.parts[n]...)
	}
	f.completed = append(f.completed, order)
	f.objects[u.key] = body
	delete(f.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("AbortMultipartUpload"); err != nil {
		return nil, err
	}
	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, &types.NoSuchUpload{}
	}
	delete(f.uploads, id)
	f.aborted = append(f.aborted, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(_ context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.take("ListMultipartUploads"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.uploads))
	for id := range f.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(false)}
	for _, id := range ids {
		u := f.uploads[id]
		if !strings.HasPrefix(u.key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Uploads = append(out.Uploads, types.MultipartUpload{
			Key:       aws.String(u.key),
			UploadId:  aws.String(id),
			Initiated: aws.Time(u.initiated),
		})
	}
	return out, nil
}

// addUpload registers an unfinished upload started at initiated.
func (f *fakeS3) addUpload(id, key string, initiated time.Time) {
	f.uploads[id] = &fakeUpload{key: key, parts: map[int32][]byte{}, initiated: initiated}
}
