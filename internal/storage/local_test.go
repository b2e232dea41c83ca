package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files",
	}, logger)
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGetRoundtrip(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	err := s.Put(ctx, "screenshots/u1/a.png", strings.NewReader("png-bytes"), PutOptions{ContentType: "image/png"})
	require.NoError(t, err)

	rc, info, err := s.Get(ctx, "screenshots/u1/a.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, int64(len("png-bytes")), info.Size)
	assert.Equal(t, "image/png", info.ContentType)
}

func TestLocalStorage_PutWithoutOverwriteRejectsExisting(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("one"), PutOptions{}))

	err := s.Put(ctx, "k", strings.NewReader("two"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("two"), PutOptions{Overwrite: true}))
}

func TestLocalStorage_PutEnforcesMaxSize(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	err := s.Put(ctx, "big", strings.NewReader("123456"), PutOptions{MaxSize: 5})
	assert.ErrorIs(t, err, ErrTooLarge)

	// Nothing left behind
	exists, err := s.Exists(ctx, "big")
	require.NoError(t, err)
	assert.False(t, exists)

	// Exactly at the limit is fine
	require.NoError(t, s.Put(ctx, "fits", strings.NewReader("12345"), PutOptions{MaxSize: 5}))
}

func TestLocalStorage_RejectsTraversalKeys(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b", "/abs/path"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestLocalStorage_DeleteIsIdempotent(t *testing.T) {
	s := newTestLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", strings.NewReader("x"), PutOptions{}))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_URL(t *testing.T) {
	s := newTestLocalStorage(t)

	url, err := s.URL(context.Background(), "thumbnails/u1/t.jpg", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/thumbnails/u1/t.jpg", url)
}

func TestDetectContentType(t *testing.T) {
	pngHeader := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16)

	tests := []struct {
		name     string
		provided string
		filename string
		data     string
		want     string
	}{
		{name: "provided wins", provided: "image/heic", filename: "a.png", want: "image/heic"},
		{name: "extension", filename: "shot.png", want: "image/png"},
		{name: "sniffed", filename: "noext", data: pngHeader, want: "image/png"},
		{name: "fallback", filename: "noext", want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r io.Reader
			if tt.data != "" {
				r = strings.NewReader(tt.data)
			}
			assert.Equal(t, tt.want, DetectContentType(tt.provided, tt.filename, r))
		})
	}
}

func TestIsAllowedScreenshotType(t *testing.T) {
	assert.True(t, IsAllowedScreenshotType("image/png"))
	assert.True(t, IsAllowedScreenshotType("image/heic"))
	assert.True(t, IsAllowedScreenshotType("IMAGE/JPEG; charset=binary"))
	assert.False(t, IsAllowedScreenshotType("image/gif"))
	assert.False(t, IsAllowedScreenshotType("application/pdf"))
}
