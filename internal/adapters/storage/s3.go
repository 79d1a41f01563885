package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3Backend. EndpointURL supports S3-compatible
// stores (MinIO, etc.), mirroring original_source's endpoint_url option.
type S3Config struct {
	Bucket      string
	Region      string
	AccessKey   string
	SecretKey   string
	EndpointURL string
}

// S3Backend stores evidence blobs in an S3-compatible bucket, grounded 1:1
// on original_source's adapters/storage/s3.py.
type S3Backend struct {
	cfg        S3Config
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	presigner  *s3.PresignClient
}

// NewS3Backend constructs an S3Backend. Call Connect before use.
func NewS3Backend(cfg S3Config) *S3Backend {
	return &S3Backend{cfg: cfg}
}

func (s *S3Backend) Connect(ctx context.Context) error {
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.cfg.Region)}
	if s.cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(staticCredentials(s.cfg.AccessKey, s.cfg.SecretKey)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s.cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	s.uploader = manager.NewUploader(s.client)
	s.downloader = manager.NewDownloader(s.client)
	s.presigner = s3.NewPresignClient(s.client)
	return nil
}

func (s *S3Backend) Disconnect(_ context.Context) error { return nil }

func (s *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %q: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *S3Backend) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (FileMetadata, error) {
	sha256Hex, sha1Hex, md5Hex := ComputeHashes(data)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"sha256": sha256Hex,
			"sha1":   sha1Hex,
			"md5":    md5Hex,
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("upload %q to s3: %w", key, err)
	}
	etag := ""
	if out.ETag != nil {
		etag = *out.ETag
	}
	return FileMetadata{
		Key: key, Size: int64(len(data)), ContentType: contentType, ETag: etag,
		LastModified: time.Now().UTC(), SHA256: sha256Hex, SHA1: sha1Hex, MD5: md5Hex,
	}, nil
}

func (s *S3Backend) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download %q from s3: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object %q: %w", key, err)
	}
	return true, nil
}

func (s *S3Backend) GetMetadata(ctx context.Context, key string) (FileMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return FileMetadata{}, ErrNotFound
		}
		return FileMetadata{}, fmt.Errorf("head object %q: %w", key, err)
	}
	meta := FileMetadata{Key: key}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return meta, nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("delete %q from s3: %w", key, err)
	}
	return nil
}

func (s *S3Backend) DeleteMany(ctx context.Context, keys []string) error {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return fmt.Errorf("batch delete from s3: %w", err)
	}
	return nil
}

func (s *S3Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.cfg.Bucket + "/" + srcKey),
	})
	if err != nil {
		return fmt.Errorf("copy %q to %q: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *S3Backend) Move(ctx context.Context, srcKey, dstKey string) error {
	if err := s.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	return s.Delete(ctx, srcKey)
}

func (s *S3Backend) ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var files []FileMetadata
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects with prefix %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			meta := FileMetadata{}
			if obj.Key != nil {
				meta.Key = *obj.Key
			}
			if obj.Size != nil {
				meta.Size = *obj.Size
			}
			if obj.ETag != nil {
				meta.ETag = *obj.ETag
			}
			if obj.LastModified != nil {
				meta.LastModified = *obj.LastModified
			}
			files = append(files, meta)
		}
	}
	return files, nil
}

func (s *S3Backend) GetStats(ctx context.Context, prefix string) (Stats, error) {
	files, err := s.ListFiles(ctx, prefix)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Bucket: s.cfg.Bucket, Prefix: prefix}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size
	}
	return stats, nil
}

func (s *S3Backend) GetDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return req.URL, nil
}

type staticCredentialsProvider struct {
	accessKey, secretKey string
}

func staticCredentials(accessKey, secretKey string) staticCredentialsProvider {
	return staticCredentialsProvider{accessKey: accessKey, secretKey: secretKey}
}

func (p staticCredentialsProvider) Retrieve(_ context.Context) (aws.Credentials, error) {
	return aws.Credentials{AccessKeyID: p.accessKey, SecretAccessKey: p.secretKey}, nil
}
