package manager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/s3-resource-publisher/catalog"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/metrics"
	"github.com/ruteri/s3-resource-publisher/s3mock"
	"github.com/ruteri/s3-resource-publisher/storage"
	"github.com/ruteri/s3-resource-publisher/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const webBucket = "web-bucket"

// MockTarget implements interfaces.PublicationTarget for testing
type MockTarget struct {
	mock.Mock
}

func (m *MockTarget) PublishResource(ctx context.Context, res interfaces.Resource, collection interfaces.Collection) (interfaces.PublishOutcome, error) {
	args := m.Called(ctx, res, collection)
	return args.Get(0).(interfaces.PublishOutcome), args.Error(1)
}

func (m *MockTarget) PublishCollection(ctx context.Context, collection interfaces.Collection) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}

func (m *MockTarget) UnpublishResource(ctx context.Context, res interfaces.Resource, storage interfaces.StorageIdentity) (interfaces.PublishOutcome, error) {
	args := m.Called(ctx, res, storage)
	return args.Get(0).(interfaces.PublishOutcome), args.Error(1)
}

func (m *MockTarget) PublishDirectory(ctx context.Context, dir, prefix string) error {
	args := m.Called(ctx, dir, prefix)
	return args.Error(0)
}

func (m *MockTarget) PublicURI(res interfaces.Resource, storage interfaces.StorageIdentity) string {
	args := m.Called(res, storage)
	return args.String(0)
}

func (m *MockTarget) Name() string {
	return "mock"
}

type env struct {
	manager *Manager
	catalog *catalog.Memory
	store   *storage.FileStore
	fake    *s3mock.FakeS3
	target  *target.S3Target
}

func newEnv(t *testing.T) *env {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemory()
	store, err := storage.NewFileStore("local", t.TempDir(), cat, logger)
	require.NoError(t, err)

	fake := s3mock.New(webBucket)
	tgt, err := target.New(context.Background(), target.Config{Name: "web", BucketName: webBucket}, fake, fake.Uploader(), nil, cat, logger)
	require.NoError(t, err)

	m, err := metrics.NewMetrics("test")
	require.NoError(t, err)

	mgr := New(cat, m, logger)
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "docs", Storage: store}, tgt))
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "images", Storage: store}, tgt))
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "private", Storage: store}, nil))

	return &env{manager: mgr, catalog: cat, store: store, fake: fake, target: tgt}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, []string{"docs", "images", "private"}, e.manager.Collections())

	err := e.manager.Register(interfaces.Collection{Name: "docs", Storage: e.store}, nil)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	err = e.manager.Register(interfaces.Collection{Name: "empty"}, nil)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)

	_, err = e.manager.Binding("nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestImportAndFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.manager.Import(ctx, "docs", strings.NewReader("hello"), "uploads/hello.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", res.Filename)
	assert.Equal(t, "text/plain; charset=utf-8", res.MediaType)

	rc, found, err := e.manager.Fetch(ctx, "docs", res.Digest)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, *res, *found)

	_, _, err = e.manager.Fetch(ctx, "images", res.Digest)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = e.manager.Import(ctx, "unknown", strings.NewReader("x"), "", "")
	assert.ErrorIs(t, err, ErrUnknownCollection)

	list, err := e.manager.List(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Resource{*res}, list)
}

func TestImportFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>hi</p>"), 0o644))

	res, err := e.manager.ImportFile(context.Background(), "docs", path)
	require.NoError(t, err)
	assert.Equal(t, "page.html", res.Filename)

	found, err := e.manager.Find(context.Background(), "docs", res.Digest)
	require.NoError(t, err)
	assert.Equal(t, *res, *found)
}

func TestDelete_ReferenceCounted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inDocs, err := e.manager.Import(ctx, "docs", strings.NewReader("shared bytes"), "a.txt", "")
	require.NoError(t, err)
	inImages, err := e.manager.Import(ctx, "images", strings.NewReader("shared bytes"), "b.txt", "")
	require.NoError(t, err)
	require.Equal(t, inDocs.Digest, inImages.Digest)

	_, err = e.manager.Publish(ctx, "docs", inDocs.Digest)
	require.NoError(t, err)
	publishedKey := inDocs.Digest.String() + "/a.txt"
	require.NotNil(t, e.fake.Object(webBucket, publishedKey))

	// First delete keeps bytes and publication for the other reference.
	require.NoError(t, e.manager.Delete(ctx, "docs", inDocs.Digest))
	rc, err := e.store.FetchStream(ctx, *inImages)
	require.NoError(t, err)
	require.NotNil(t, rc)
	rc.Close()
	assert.NotNil(t, e.fake.Object(webBucket, publishedKey))

	_, err = e.manager.Find(ctx, "docs", inDocs.Digest)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// Last reference removes the stored bytes.
	require.NoError(t, e.manager.Delete(ctx, "images", inImages.Digest))
	rc, err = e.store.FetchStream(ctx, *inImages)
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestDelete_UnpublishFailureKeepsRecord(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemory()
	store, err := storage.NewFileStore("local", t.TempDir(), cat, logger)
	require.NoError(t, err)

	tgt := new(MockTarget)
	mgr := New(cat, nil, logger)
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "docs", Storage: store}, tgt))

	ctx := context.Background()
	res, err := mgr.Import(ctx, "docs", bytes.NewReader([]byte("data")), "d.bin", "")
	require.NoError(t, err)

	tgt.On("UnpublishResource", mock.Anything, *res, store.Identity()).
		Return(interfaces.OutcomeUnchanged, interfaces.ErrBackendUnavailable).Once()

	err = mgr.Delete(ctx, "docs", res.Digest)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = mgr.Find(ctx, "docs", res.Digest)
	assert.NoError(t, err)
	tgt.AssertExpectations(t)
}

func TestPublishUnpublish(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.manager.Import(ctx, "docs", strings.NewReader("page"), "index.html", "")
	require.NoError(t, err)

	outcome, err := e.manager.Publish(ctx, "docs", res.Digest)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeUploadedBytes, outcome)

	uri, err := e.manager.PublicURI(ctx, "docs", res.Digest)
	require.NoError(t, err)
	assert.Equal(t, "https://web-bucket.s3.amazonaws.com/"+res.Digest.String()+"/index.html", uri)

	outcome, err = e.manager.Unpublish(ctx, "docs", res.Digest)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeDeleted, outcome)
	assert.Empty(t, e.fake.Keys(webBucket))

	_, err = e.manager.Publish(ctx, "private", res.Digest)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)

	_, err = e.manager.Publish(ctx, "docs", interfaces.Digest("not-a-digest"))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestPublishAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.manager.Import(ctx, "docs", strings.NewReader("a"), "a.txt", "")
	require.NoError(t, err)
	b, err := e.manager.Import(ctx, "images", strings.NewReader("b"), "b.png", "")
	require.NoError(t, err)
	_, err = e.manager.Import(ctx, "private", strings.NewReader("secret"), "c.txt", "")
	require.NoError(t, err)

	require.NoError(t, e.manager.PublishAll(ctx))
	assert.ElementsMatch(t, []string{
		a.Digest.String() + "/a.txt",
		b.Digest.String() + "/b.png",
	}, e.fake.Keys(webBucket))
}

func TestPublishCollection_ReportsErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemory()
	store, err := storage.NewFileStore("local", t.TempDir(), cat, logger)
	require.NoError(t, err)
	tgt := new(MockTarget)
	mgr := New(cat, nil, logger)
	collection := interfaces.Collection{Name: "docs", Storage: store}
	require.NoError(t, mgr.Register(collection, tgt))

	failure := errors.Join(interfaces.ErrSourceDataMissing)
	tgt.On("PublishCollection", mock.Anything, collection).Return(failure)

	err = mgr.PublishAll(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrSourceDataMissing)
}

func TestStaticCollection(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.css"), []byte("a{}"), 0o644))
	require.NoError(t, e.manager.Register(interfaces.Collection{Name: "static", StaticPaths: map[string]string{"Site": dir}}, e.target))

	require.NoError(t, e.manager.PublishCollection(context.Background(), "static"))
	assert.Equal(t, []string{"Site/app.css"}, e.fake.Keys(webBucket))

	uri, err := e.manager.PublicStaticURI("static", "Site/app.css")
	require.NoError(t, err)
	assert.Equal(t, "https://web-bucket.s3.amazonaws.com/Site/app.css", uri)

	_, err = e.manager.Import(context.Background(), "static", strings.NewReader("x"), "", "")
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
}

func TestDelete_SameContentInSeparateStores(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemory()
	storeA, err := storage.NewFileStore("a", t.TempDir(), cat, logger)
	require.NoError(t, err)
	storeB, err := storage.NewFileStore("b", t.TempDir(), cat, logger)
	require.NoError(t, err)

	mgr := New(cat, nil, logger)
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "a", Storage: storeA}, nil))
	require.NoError(t, mgr.Register(interfaces.Collection{Name: "b", Storage: storeB}, nil))

	ctx := context.Background()
	inA, err := mgr.Import(ctx, "a", strings.NewReader("same bytes"), "x.txt", "")
	require.NoError(t, err)
	inB, err := mgr.Import(ctx, "b", strings.NewReader("same bytes"), "x.txt", "")
	require.NoError(t, err)
	require.Equal(t, inA.Digest, inB.Digest)

	// The record in b lives in another store and keeps nothing alive in a.
	require.NoError(t, mgr.Delete(ctx, "a", inA.Digest))
	rc, err := storeA.FetchStream(ctx, *inA)
	require.NoError(t, err)
	assert.Nil(t, rc)

	rc, err = storeB.FetchStream(ctx, *inB)
	require.NoError(t, err)
	require.NotNil(t, rc)
	rc.Close()

	require.NoError(t, mgr.Delete(ctx, "b", inB.Digest))
	rc, err = storeB.FetchStream(ctx, *inB)
	require.NoError(t, err)
	assert.Nil(t, rc)
}
