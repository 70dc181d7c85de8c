package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalProvider {
	t.Helper()
	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	p := newLocal(t)
	ctx := context.Background()

	f, err := p.UploadFile(ctx, []byte("lease text"), "/u1/docs", "lease.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "/u1/docs/lease.txt", f.Path)
	assert.Equal(t, int64(10), f.Size)
	assert.False(t, f.IsFolder)
	assert.NotEmpty(t, f.Mime)

	data, err := p.DownloadFile(ctx, f.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("lease text"), data)
}

func TestLocalDownloadMissing(t *testing.T) {
	p := newLocal(t)
	_, err := p.DownloadFile(context.Background(), "/nope.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDeleteFile(t *testing.T) {
	p := newLocal(t)
	ctx := context.Background()

	f, err := p.UploadFile(ctx, []byte("x"), "/u1", "a.txt", "text/plain")
	require.NoError(t, err)

	ok, err := p.DeleteFile(ctx, f.Path)
	require.NoError(t, err)
	assert.True(t, ok)

	// Deleting again reports false, not an error.
	ok, err = p.DeleteFile(ctx, f.Path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalListFiles(t *testing.T) {
	p := newLocal(t)
	ctx := context.Background()

	_, err := p.UploadFile(ctx, []byte("1"), "/u1", "a.txt", "text/plain")
	require.NoError(t, err)
	_, err = p.UploadFile(ctx, []byte("2"), "/u1/sub", "b.txt", "text/plain")
	require.NoError(t, err)

	flat, err := p.ListFiles(ctx, "/u1", false)
	require.NoError(t, err)
	assert.Len(t, flat, 2) // a.txt and the sub folder

	all, err := p.ListFiles(ctx, "/u1", true)
	require.NoError(t, err)
	assert.Len(t, all, 3) // a.txt, sub, sub/b.txt
}

func TestLocalFileExists(t *testing.T) {
	p := newLocal(t)
	ctx := context.Background()

	ok, err := p.FileExists(ctx, "/ghost.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.UploadFile(ctx, []byte("x"), "/", "real.txt", "text/plain")
	require.NoError(t, err)
	ok, err = p.FileExists(ctx, "/real.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalCreateFolderIdempotent(t *testing.T) {
	p := newLocal(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := p.CreateFolder(ctx, "/u1/photos")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLocalPathEscapeRejected(t *testing.T) {
	p := newLocal(t)
	// Path traversal is cleaned against the root, never the host filesystem.
	_, err := p.DownloadFile(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestLocalMisconfigured(t *testing.T) {
	_, err := NewLocalProvider("")
	assert.ErrorIs(t, err, ErrMisconfigured)
}
