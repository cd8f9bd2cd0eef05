package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// FileStore implements a content-addressable store on the local file
// system. Blobs are kept flat under the base directory, named by digest.
type FileStore struct {
	baseDir string
	catalog interfaces.Catalog
	name    string
	log     *slog.Logger
}

// NewFileStore creates a file store using the specified base directory,
// creating it if it doesn't exist.
func NewFileStore(name, baseDir string, catalog interfaces.Catalog, log *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty base directory", interfaces.ErrConfiguration)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	if name == "" {
		name = fmt.Sprintf("file-%s", filepath.Base(baseDir))
	}

	return &FileStore{
		baseDir: baseDir,
		catalog: catalog,
		name:    name,
		log:     log.With(slog.String("store", name)),
	}, nil
}

// Import writes r to a temporary file in the base directory while hashing
// it and renames it to its digest. Existing blobs are left in place.
func (b *FileStore) Import(ctx context.Context, r io.Reader, collection string) (*interfaces.Resource, error) {
	tmp, err := os.CreateTemp(b.baseDir, ".import-*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create temporary file: %v", interfaces.ErrImportFailure, err)
	}
	defer os.Remove(tmp.Name())

	sha1Hash, md5Hash := sha1.New(), md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, sha1Hash, md5Hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: could not read source: %v", interfaces.ErrImportFailure, err)
	}

	res := &interfaces.Resource{
		Digest:     interfaces.Digest(hex.EncodeToString(sha1Hash.Sum(nil))),
		MD5:        hex.EncodeToString(md5Hash.Sum(nil)),
		Size:       size,
		Collection: collection,
	}

	filePath := b.getFilePath(res.Digest)
	if _, err := os.Stat(filePath); err == nil {
		b.log.Debug("Content already stored, skipping write", slog.String("digest", res.Digest.Short()))
		return res, nil
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, fmt.Errorf("%w: could not move blob into place: %v", interfaces.ErrImportFailure, err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.String("digest", res.Digest.Short()),
		slog.Int64("size", size))

	return res, nil
}

// FetchStream opens the blob of res, or returns nil if it doesn't exist.
func (b *FileStore) FetchStream(ctx context.Context, res interfaces.Resource) (io.ReadCloser, error) {
	if err := res.Digest.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.getFilePath(res.Digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file: %v", interfaces.ErrBackendUnavailable, err)
	}
	return f, nil
}

// ListObjects enumerates the collection's resources as recorded in the catalog.
func (b *FileStore) ListObjects(ctx context.Context, collection string) iter.Seq2[interfaces.StorageObject, error] {
	return listFromCatalog(ctx, b.catalog, collection, func(res interfaces.Resource) (io.ReadCloser, error) {
		return b.FetchStream(ctx, res)
	})
}

// Delete removes the blob of res. A missing file is not an error.
func (b *FileStore) Delete(ctx context.Context, res interfaces.Resource) error {
	if err := res.Digest.Validate(); err != nil {
		return err
	}
	err := os.Remove(b.getFilePath(res.Digest))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete file: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Identity returns the base directory of this store.
func (b *FileStore) Identity() interfaces.StorageIdentity {
	return interfaces.StorageIdentity{Scheme: "file", Bucket: b.baseDir}
}

// Name returns a unique identifier for this store.
func (b *FileStore) Name() string {
	return b.name
}

// getFilePath generates a file path for a digest.
func (b *FileStore) getFilePath(digest interfaces.Digest) string {
	return filepath.Join(b.baseDir, digest.String())
}
