package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const presignDefaultTTL = 15 * time.Minute

// R2Storage stores objects in a Cloudflare R2 bucket. R2 speaks the S3
// protocol, so it runs on the AWS SDK pointed at the account endpoint.
type R2Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	cdnURL  string // custom-domain base for public objects, may be empty
	logger  *slog.Logger
}

// NewR2Storage builds an R2-backed Storage from static credentials.
func NewR2Storage(cfg R2Config, logger *slog.Logger) (*R2Storage, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("incomplete r2 configuration")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	logger.Info("r2 storage ready", "bucket", cfg.BucketName)

	return &R2Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.BucketName,
		cdnURL:  strings.TrimSuffix(cfg.PublicURL, "/"),
		logger:  logger,
	}, nil
}

var _ Storage = (*R2Storage)(nil)

// Put uploads data under key.
func (s *R2Storage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	if err := checkKey(key); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	if !opts.Overwrite {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return &StorageError{Op: "Put", Key: key, Err: err}
		}
		if exists {
			return &StorageError{Op: "Put", Key: key, Err: ErrKeyExists}
		}
	}

	// S3 needs the body length up front, so buffer the object. Uploads are
	// capped at a few megabytes by the handler, which keeps this cheap.
	body, err := readCapped(data, opts.MaxSize)
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DetectContentType("", key, nil)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if opts.Public {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: mapS3Error(err)}
	}

	s.logger.Debug("object uploaded", "key", key, "bytes", len(body))
	return nil
}

// Get downloads the object at key. The caller closes the reader.
func (s *R2Storage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := checkKey(key); err != nil {
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: err}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: mapS3Error(err)}
	}

	info := ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
	}
	return out.Body, info, nil
}

// Delete removes the object at key. S3 deletes are idempotent, so a missing
// key is not an error.
func (s *R2Storage) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &StorageError{Op: "Delete", Key: key, Err: mapS3Error(err)}
	}
	return nil
}

// URL returns an access URL for key. With a public base configured and no
// expiry requested, that is a plain CDN URL; otherwise a presigned URL.
func (s *R2Storage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := checkKey(key); err != nil {
		return "", &StorageError{Op: "URL", Key: key, Err: err}
	}

	if s.cdnURL != "" && expires == 0 {
		return s.cdnURL + "/" + key, nil
	}

	if expires == 0 {
		expires = presignDefaultTTL
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", &StorageError{Op: "URL", Key: key, Err: mapS3Error(err)}
	}
	return req.URL, nil
}

// Exists reports whether an object is present at key, via HeadObject.
func (s *R2Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, &StorageError{Op: "Exists", Key: key, Err: err}
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(mapS3Error(err), ErrNotFound) {
			return false, nil
		}
		return false, &StorageError{Op: "Exists", Key: key, Err: mapS3Error(err)}
	}
	return true, nil
}

func checkKey(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

// readCapped buffers the reader, enforcing max when it is positive.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}

// mapS3Error folds SDK error shapes into the package sentinels.
func mapS3Error(err error) error {
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return ErrNotFound
		case "AccessDenied", "Forbidden":
			return ErrAccessDenied
		}
	}

	return err
}
