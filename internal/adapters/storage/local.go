package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalBackend stores evidence blobs on a local (or mounted network) filesystem,
// grounded on original_source's adapters/storage/local.py.
type LocalBackend struct {
	RootDir string
}

// NewLocalBackend constructs a LocalBackend rooted at dir.
func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{RootDir: dir}
}

func (l *LocalBackend) Connect(_ context.Context) error {
	return os.MkdirAll(l.RootDir, 0o750)
}

func (l *LocalBackend) Disconnect(_ context.Context) error { return nil }

func (l *LocalBackend) HealthCheck(_ context.Context) error {
	info, err := os.Stat(l.RootDir)
	if err != nil {
		return fmt.Errorf("stat evidence root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("evidence root %q is not a directory", l.RootDir)
	}
	return nil
}

func (l *LocalBackend) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	full := filepath.Join(l.RootDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(l.RootDir)+string(os.PathSeparator)) && full != filepath.Clean(l.RootDir) {
		return "", fmt.Errorf("storage key %q escapes evidence root", key)
	}
	return full, nil
}

func (l *LocalBackend) UploadBytes(_ context.Context, key string, data []byte, contentType string) (FileMetadata, error) {
	full, err := l.path(key)
	if err != nil {
		return FileMetadata{}, err
	}
	if mkErr := os.MkdirAll(filepath.Dir(full), 0o750); mkErr != nil {
		return FileMetadata{}, fmt.Errorf("create evidence directory: %w", mkErr)
	}
	if writeErr := os.WriteFile(full, data, 0o640); writeErr != nil {
		return FileMetadata{}, fmt.Errorf("write evidence file: %w", writeErr)
	}

	sha256Hex, sha1Hex, md5Hex := ComputeHashes(data)
	return FileMetadata{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
		SHA256:       sha256Hex,
		SHA1:         sha1Hex,
		MD5:          md5Hex,
	}, nil
}

func (l *LocalBackend) DownloadBytes(_ context.Context, key string) ([]byte, error) {
	full, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read evidence file: %w", err)
	}
	return data, nil
}

func (l *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	full, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(full)
	if errors.Is(statErr, fs.ErrNotExist) {
		return false, nil
	}
	if statErr != nil {
		return false, fmt.Errorf("stat evidence file: %w", statErr)
	}
	return true, nil
}

func (l *LocalBackend) GetMetadata(_ context.Context, key string) (FileMetadata, error) {
	full, err := l.path(key)
	if err != nil {
		return FileMetadata{}, err
	}
	info, statErr := os.Stat(full)
	if errors.Is(statErr, fs.ErrNotExist) {
		return FileMetadata{}, ErrNotFound
	}
	if statErr != nil {
		return FileMetadata{}, fmt.Errorf("stat evidence file: %w", statErr)
	}
	return FileMetadata{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (l *LocalBackend) Delete(_ context.Context, key string) error {
	full, err := l.path(key)
	if err != nil {
		return err
	}
	if rmErr := os.Remove(full); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return fmt.Errorf("delete evidence file: %w", rmErr)
	}
	return nil
}

func (l *LocalBackend) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := l.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalBackend) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := l.DownloadBytes(ctx, srcKey)
	if err != nil {
		return err
	}
	_, err = l.UploadBytes(ctx, dstKey, data, "")
	return err
}

func (l *LocalBackend) Move(ctx context.Context, srcKey, dstKey string) error {
	if err := l.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	return l.Delete(ctx, srcKey)
}

func (l *LocalBackend) ListFiles(_ context.Context, prefix string) ([]FileMetadata, error) {
	root, err := l.path(prefix)
	if err != nil {
		return nil, err
	}

	var files []FileMetadata
	walkErr := filepath.WalkDir(filepath.Dir(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasPrefix(path, root) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		rel, relErr := filepath.Rel(l.RootDir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, FileMetadata{Key: rel, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("list evidence files: %w", walkErr)
	}
	return files, nil
}

func (l *LocalBackend) GetStats(ctx context.Context, prefix string) (Stats, error) {
	files, err := l.ListFiles(ctx, prefix)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Prefix: prefix}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size
	}
	return stats, nil
}

func (l *LocalBackend) GetDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	full, err := l.path(key)
	if err != nil {
		return "", err
	}
	return "file://" + full, nil
}
