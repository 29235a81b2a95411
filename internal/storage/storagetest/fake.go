// Package storagetest provides an in-memory S3 double for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type object struct {
	body        []byte
	contentType string
	modified    time.Time
	public      bool
}

// FakeS3 implements storage.S3API and storage.Presigner in memory.
type FakeS3 struct {
	mu      sync.Mutex
	objects map[string]*object
	clock   time.Time

	// Failure switches.
	PutErr     error
	ACLErr     error
	PresignErr error
	PageSize   int

	PresignTTLs []time.Duration
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{
		objects: make(map[string]*object),
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put seeds an object directly.
func (f *FakeS3) Put(key string, body []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	f.objects[key] = &object{body: body, contentType: contentType, modified: f.clock}
}

func (f *FakeS3) Body(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, false
	}
	return obj.body, true
}

func (f *FakeS3) IsPublic(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return ok && obj.public
}

func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *FakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.Put(aws.ToString(input.Key), body, aws.ToString(input.ContentType))
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.body))),
	}, nil
}

func (f *FakeS3) PutObjectAcl(_ context.Context, input *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	if f.ACLErr != nil {
		return nil, f.ACLErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	obj.public = input.ACL == s3types.ObjectCannedACLPublicRead
	return &s3.PutObjectAclOutput{}, nil
}

func (f *FakeS3) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(input.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(input.ContinuationToken); token != "" {
		start = sort.SearchStrings(keys, token)
	}
	end := len(keys)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *FakeS3) PresignGetObject(_ context.Context, input *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.PresignErr != nil {
		return nil, f.PresignErr
	}
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.mu.Lock()
	f.PresignTTLs = append(f.PresignTTLs, opts.Expires)
	f.mu.Unlock()
	return &v4.PresignedHTTPRequest{
		URL:          fmt.Sprintf("https://signed.example/%s/%s?X-Amz-Expires=%d", aws.ToString(input.Bucket), aws.ToString(input.Key), int(opts.Expires.Seconds())),
		Method:       http.MethodGet,
		SignedHeader: http.Header{},
	}, nil
}
