package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/ruteri/s3-resource-publisher/catalog"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/s3mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "resources-test"

func newTestS3Store(t *testing.T, fake *s3mock.FakeS3, cat interfaces.Catalog) *S3Store {
	store, err := NewS3Store(S3StoreConfig{
		Name:       "test",
		BucketName: testBucket,
		Prefix:     "/blobs/",
		TempDir:    t.TempDir(),
	}, fake, fake.Uploader(), cat, slog.Default())
	require.NoError(t, err)
	return store
}

func TestS3Store_ImportIsIdempotent(t *testing.T) {
	fake := s3mock.New(testBucket)
	store := newTestS3Store(t, fake, nil)
	ctx := context.Background()
	data := []byte("hello world")

	first, err := store.Import(ctx, bytes.NewReader(data), "docs")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Digest("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"), first.Digest)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", first.MD5)
	assert.Equal(t, int64(len(data)), first.Size)
	assert.Equal(t, "docs", first.Collection)

	second, err := store.Import(ctx, bytes.NewReader(data), "other")
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, "other", second.Collection)

	assert.Equal(t, 1, fake.CallCount("Upload"))
	assert.Equal(t, []string{"blobs/" + first.Digest.String()}, fake.Keys(testBucket))

	obj := fake.Object(testBucket, "blobs/"+first.Digest.String())
	require.NotNil(t, obj)
	assert.Equal(t, first.Digest.String(), *obj.Metadata["Sha1"])
	assert.Equal(t, first.MD5, *obj.Metadata["Md5"])
}

func TestS3Store_FetchStream(t *testing.T) {
	fake := s3mock.New(testBucket)
	store := newTestS3Store(t, fake, nil)
	ctx := context.Background()

	res, err := store.Import(ctx, bytes.NewReader([]byte("payload")), "docs")
	require.NoError(t, err)

	rc, err := store.FetchStream(ctx, *res)
	require.NoError(t, err)
	require.NotNil(t, rc)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	missing := interfaces.Resource{Digest: interfaces.ComputeDigest([]byte("absent"))}
	rc, err = store.FetchStream(ctx, missing)
	assert.NoError(t, err)
	assert.Nil(t, rc)
}

func TestS3Store_Errors(t *testing.T) {
	ctx := context.Background()
	transport := awserr.New("RequestError", "connection reset", nil)

	t.Run("upload failure", func(t *testing.T) {
		fake := s3mock.New(testBucket)
		fake.Errors["Upload"] = transport
		store := newTestS3Store(t, fake, nil)

		_, err := store.Import(ctx, bytes.NewReader([]byte("x")), "docs")
		assert.ErrorIs(t, err, interfaces.ErrImportFailure)
		assert.Empty(t, fake.Keys(testBucket))
	})

	t.Run("unreadable source", func(t *testing.T) {
		fake := s3mock.New(testBucket)
		store := newTestS3Store(t, fake, nil)

		_, err := store.Import(ctx, io.MultiReader(bytes.NewReader([]byte("x")), errReader{}), "docs")
		assert.ErrorIs(t, err, interfaces.ErrImportFailure)
		assert.Zero(t, fake.CallCount("Upload"))
	})

	t.Run("fetch transport fault", func(t *testing.T) {
		fake := s3mock.New(testBucket)
		fake.Errors["GetObject"] = transport
		store := newTestS3Store(t, fake, nil)

		_, err := store.FetchStream(ctx, interfaces.Resource{Digest: interfaces.ComputeDigest([]byte("x"))})
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})

	t.Run("delete transport fault", func(t *testing.T) {
		fake := s3mock.New(testBucket)
		fake.Errors["DeleteObject"] = transport
		store := newTestS3Store(t, fake, nil)

		err := store.Delete(ctx, interfaces.Resource{Digest: interfaces.ComputeDigest([]byte("x"))})
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestS3Store_Delete(t *testing.T) {
	fake := s3mock.New(testBucket)
	store := newTestS3Store(t, fake, nil)
	ctx := context.Background()

	res, err := store.Import(ctx, bytes.NewReader([]byte("to delete")), "docs")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, *res))
	assert.Empty(t, fake.Keys(testBucket))

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, *res))
}

func TestS3Store_ListObjects(t *testing.T) {
	fake := s3mock.New(testBucket)
	cat := catalog.NewMemory()
	store := newTestS3Store(t, fake, cat)
	ctx := context.Background()

	for _, s := range []string{"one", "two"} {
		res, err := store.Import(ctx, bytes.NewReader([]byte(s)), "docs")
		require.NoError(t, err)
		require.NoError(t, cat.Add(ctx, *res))
	}

	var contents []string
	for obj, err := range store.ListObjects(ctx, "docs") {
		require.NoError(t, err)
		rc, err := obj.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents = append(contents, string(data))
	}
	assert.ElementsMatch(t, []string{"one", "two"}, contents)

	// A store without a catalog cannot enumerate.
	bare := newTestS3Store(t, fake, nil)
	for _, err := range bare.ListObjects(ctx, "docs") {
		assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	}
}

func TestS3Store_Identity(t *testing.T) {
	store := newTestS3Store(t, s3mock.New(testBucket), nil)
	id := store.Identity()
	assert.Equal(t, interfaces.StorageIdentity{Scheme: "s3", Bucket: testBucket, Prefix: "blobs"}, id)
	assert.True(t, id.SameBucket(testBucket))
	assert.False(t, id.SameBucket("other-bucket"))
	assert.Equal(t, "s3://resources-test/blobs", id.String())
}

func TestNewS3Store_Validation(t *testing.T) {
	fake := s3mock.New()
	_, err := NewS3Store(S3StoreConfig{BucketName: "Bad_Bucket"}, fake, fake.Uploader(), nil, nil)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)

	_, err = NewS3Store(S3StoreConfig{BucketName: "good-bucket"}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}
