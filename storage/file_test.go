package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore("", dir, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "file-"+filepath.Base(dir), store.Name())
	assert.Equal(t, interfaces.StorageIdentity{Scheme: "file", Bucket: dir}, store.Identity())

	ctx := context.Background()
	res, err := store.Import(ctx, bytes.NewReader([]byte("file content")), "docs")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeDigest([]byte("file content")), res.Digest)

	again, err := store.Import(ctx, bytes.NewReader([]byte("file content")), "docs")
	require.NoError(t, err)
	assert.Equal(t, res.Digest, again.Digest)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must be cleaned up")
	assert.Equal(t, res.Digest.String(), entries[0].Name())

	rc, err := store.FetchStream(ctx, *res)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))

	require.NoError(t, store.Delete(ctx, *res))
	rc, err = store.FetchStream(ctx, *res)
	assert.NoError(t, err)
	assert.Nil(t, rc)
	assert.NoError(t, store.Delete(ctx, *res))
}

func TestFileStore_RejectsInvalidDigest(t *testing.T) {
	store, err := NewFileStore("test", t.TempDir(), nil, nil)
	require.NoError(t, err)

	bad := interfaces.Resource{Digest: "../../etc/passwd"}
	_, err = store.FetchStream(context.Background(), bad)
	assert.Error(t, err)
	assert.Error(t, store.Delete(context.Background(), bad))
}

func TestImportFile(t *testing.T) {
	store, err := NewFileStore("test", t.TempDir(), nil, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o644))

	res, err := ImportFile(context.Background(), store, path, "site")
	require.NoError(t, err)
	assert.Equal(t, "index.html", res.Filename)
	assert.Equal(t, "text/html; charset=utf-8", res.MediaType)
	assert.Equal(t, "site", res.Collection)

	_, err = ImportFile(context.Background(), store, filepath.Join(t.TempDir(), "missing"), "site")
	assert.ErrorIs(t, err, interfaces.ErrImportFailure)
}
