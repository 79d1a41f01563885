// Package storage implements the response.StorageAdapter role for
// collected-evidence blobs, grounded 1:1 on original_source's
// adapters/storage/{base,local,s3}.py StorageAdapter ABC.
package storage

import (
	"bytes"
	"context"
	"crypto/md5"  //nolint:gosec // recorded alongside sha1/sha256 for legacy evidence-integrity tooling, not security use
	"crypto/sha1" //nolint:gosec // same as above
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// FileMetadata describes a stored evidence blob, mirroring the Python
// StorageFile dataclass's field set.
type FileMetadata struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	SHA256       string
	SHA1         string
	MD5          string
}

// Stats summarizes usage for a storage prefix, mirroring StorageStats.
type Stats struct {
	TotalFiles int
	TotalSize  int64
	Bucket     string
	Prefix     string
}

// Backend is the full storage role interface: content-addressed upload/
// download, existence/metadata/listing, and copy/move/delete — the
// operations base.py's StorageAdapter ABC enumerates. response.StorageAdapter
// is the reduced subset the response executor actually dispatches against.
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (FileMetadata, error)
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetMetadata(ctx context.Context, key string) (FileMetadata, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	Move(ctx context.Context, srcKey, dstKey string) error
	ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error)
	GetStats(ctx context.Context, prefix string) (Stats, error)
	GetDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ResponseAdapter narrows a Backend to the response.StorageAdapter role
// interface used by internal/response.Executor for collect_evidence results.
type ResponseAdapter struct {
	Backend Backend
}

func (a ResponseAdapter) Upload(ctx context.Context, key string, data []byte) error {
	_, err := a.Backend.UploadBytes(ctx, key, data, "application/octet-stream")
	return err
}

func (a ResponseAdapter) Download(ctx context.Context, key string) ([]byte, error) {
	return a.Backend.DownloadBytes(ctx, key)
}

func (a ResponseAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.Backend.Exists(ctx, key)
}

func (a ResponseAdapter) Delete(ctx context.Context, key string) error {
	return a.Backend.Delete(ctx, key)
}

// ComputeHashes computes sha256/sha1/md5 over data, matching base.py's
// compute_hashes helper used to fill in FileMetadata on upload.
func ComputeHashes(data []byte) (sha256Hex, sha1Hex, md5Hex string) {
	sum256 := sha256.Sum256(data)
	sum1 := sha1.Sum(data) //nolint:gosec // integrity fingerprint, not a security signature
	sumMD5 := md5.Sum(data) //nolint:gosec // same as above
	return hex.EncodeToString(sum256[:]), hex.EncodeToString(sum1[:]), hex.EncodeToString(sumMD5[:])
}

// ErrNotFound indicates a key does not exist in the backend.
var ErrNotFound = fmt.Errorf("storage: key not found")

// BackendFetcher adapts a Backend into the jobs.EvidenceFetcher interface,
// so parsing jobs can stream evidence straight out of whichever backend the
// deployment configured (local disk or S3-compatible object storage).
type BackendFetcher struct {
	Backend Backend
}

// Fetch implements jobs.EvidenceFetcher.
func (f BackendFetcher) Fetch(ctx context.Context, sourceURI string) (io.ReadCloser, error) {
	data, err := f.Backend.DownloadBytes(ctx, sourceURI)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
