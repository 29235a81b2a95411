// Package storage wraps the GCS bucket (spoken to over its S3-compatible XML
// API) that holds captured media and rendered segment files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// MaxSignedURLTTL is the longest lifetime a V4 signature accepts.
const MaxSignedURLTTL = 7 * 24 * time.Hour

var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrNotConfigured  = errors.New("storage: bucket not configured")
)

// S3API is the subset of the S3 client used by ObjectStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner is implemented by *s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Object is an open object body. Callers must close Body.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type ObjectStore struct {
	bucket    string
	client    S3API
	presigner Presigner
	logger    *slog.Logger
}

// NewObjectStore creates an ObjectStore. With an empty bucket every operation
// returns ErrNotConfigured.
func NewObjectStore(client S3API, presigner Presigner, bucket string, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStore{bucket: bucket, client: client, presigner: presigner, logger: logger}
}

func (s *ObjectStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

func (s *ObjectStore) Bucket() string {
	if s == nil {
		return ""
	}
	return s.bucket
}

// Upload writes body to key. The body must be seekable so the request can be signed.
func (s *ObjectStore) Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	s.logger.Debug("uploaded object", "bucket", s.bucket, "key", key, "content_type", contentType)
	return nil
}

// MakePublic grants public read on key. Buckets with uniform access reject this.
func (s *ObjectStore) MakePublic(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("storage: make public %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for key. ttl is clamped to MaxSignedURLTTL.
func (s *ObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !s.Enabled() || s.presigner == nil {
		return "", ErrNotConfigured
	}
	if ttl <= 0 || ttl > MaxSignedURLTTL {
		ttl = MaxSignedURLTTL
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Open streams the object at key.
func (s *ObjectStore) Open(ctx context.Context, key string) (*Object, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return &Object{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
	}, nil
}

// List returns every object under prefix, following continuation tokens.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	var (
		objects []ObjectInfo
		token   *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return objects, nil
}

// Newest returns the most recent object under prefix. Keys carry a unix
// timestamp suffix, so ties on LastModified fall back to the larger key.
func (s *ObjectStore) Newest(ctx context.Context, prefix string) (ObjectInfo, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(objects) == 0 {
		return ObjectInfo{}, ErrObjectNotFound
	}
	sort.Slice(objects, func(i, j int) bool {
		if !objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].LastModified.After(objects[j].LastModified)
		}
		return objects[i].Key > objects[j].Key
	})
	return objects[0], nil
}

// ObjectKeyFromRef extracts the object key from a media reference pointing
// into bucket. It understands gs://bucket/key, path-style
// https://storage.googleapis.com/bucket/key and virtual-host style
// https://bucket.storage.googleapis.com/key. Signed query strings are ignored.
func ObjectKeyFromRef(ref, bucket string) (string, bool) {
	if ref == "" || bucket == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case u.Scheme == "gs" && u.Host == bucket:
		return nonEmpty(path)
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == bucket+".storage.googleapis.com" {
			return nonEmpty(path)
		}
		if rest, ok := strings.CutPrefix(path, bucket+"/"); ok {
			return nonEmpty(rest)
		}
	}
	return "", false
}

func nonEmpty(key string) (string, bool) {
	return key, key != ""
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
