package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps screenshots and thumbnails on the local filesystem.
// Intended for development; production runs on R2.
type LocalStorage struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewLocalStorage creates the base directory if needed and returns a
// filesystem-backed Storage.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	root, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	logger.Info("local storage ready", "path", root)

	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}, nil
}

var _ Storage = (*LocalStorage)(nil)

// Put writes data under key. The object is written to a temp file in the
// destination directory and renamed in, so readers never observe a partial
// write.
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.keyPath(key)
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return &StorageError{Op: "Put", Key: key, Err: ErrKeyExists}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	src := data
	if opts.MaxSize > 0 {
		// Read one extra byte so an exactly-at-limit object still passes.
		src = io.LimitReader(data, opts.MaxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	if opts.MaxSize > 0 && n > opts.MaxSize {
		return &StorageError{Op: "Put", Key: key, Err: ErrTooLarge}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	s.logger.Debug("object stored", "key", key, "bytes", n)
	return nil
}

// Get opens the object at key. The caller closes the reader.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}

	path, err := s.keyPath(key)
	if err != nil {
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: ErrNotFound}
		}
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: err}
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: err}
	}

	info := ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		ContentType:  DetectContentType("", key, nil),
		LastModified: stat.ModTime(),
	}
	return f, info, nil
}

// Delete removes the object at key. Deleting a missing object is not an
// error, which lets cleanup sweeps retry safely.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.keyPath(key)
	if err != nil {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}
	return nil
}

// URL returns the public URL for key. Local objects are served by the app
// itself, so expires is ignored.
func (s *LocalStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.keyPath(key); err != nil {
		return "", &StorageError{Op: "URL", Key: key, Err: err}
	}
	return s.baseURL + "/" + key, nil
}

// Exists reports whether an object is present at key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := s.keyPath(key)
	if err != nil {
		return false, &StorageError{Op: "Exists", Key: key, Err: err}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "Exists", Key: key, Err: err}
	}
	return true, nil
}

// keyPath maps a storage key onto the filesystem and rejects anything that
// would escape the root directory.
func (s *LocalStorage) keyPath(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	clean := filepath.Clean(key)
	if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidKey
	}

	path := filepath.Join(s.root, clean)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}
