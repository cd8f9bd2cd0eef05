package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// DefaultIPFSDirectory is the MFS directory used when the URI has no path.
const DefaultIPFSDirectory = "/resources"

// IPFSStore keeps blobs in the mutable file system (MFS) of an IPFS node,
// one file per digest under a base directory. IPFS deduplicates the blocks
// itself; the SHA-1 file names make the blobs addressable by digest.
type IPFSStore struct {
	shell   *shell.Shell
	host    string
	dir     string
	catalog interfaces.Catalog
	tempDir string
	name    string
	log     *slog.Logger
}

// NewIPFSStore creates a store talking to the IPFS API at host
// (e.g. "127.0.0.1:5001" or "http://ipfs:5001").
func NewIPFSStore(name, host, dir, tempDir string, catalog interfaces.Catalog, log *slog.Logger) (*IPFSStore, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: IPFS store %q has no API host", interfaces.ErrConfiguration, name)
	}
	dir = "/" + strings.Trim(dir, "/")
	if dir == "/" {
		dir = DefaultIPFSDirectory
	}
	if log == nil {
		log = slog.Default()
	}
	if name == "" {
		name = fmt.Sprintf("ipfs-%s", host)
	}

	return &IPFSStore{
		shell:   shell.NewShell(host),
		host:    host,
		dir:     dir,
		catalog: catalog,
		tempDir: tempDir,
		name:    name,
		log:     log.With(slog.String("store", name)),
	}, nil
}

// Import spools r to a temporary file while hashing it, then writes it to
// MFS unless a file for the digest already exists.
func (b *IPFSStore) Import(ctx context.Context, r io.Reader, collection string) (*interfaces.Resource, error) {
	start := time.Now()
	tmp, err := os.CreateTemp(b.tempDir, "ipfs-import-*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create spool file: %v", interfaces.ErrImportFailure, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	sha1Hash, md5Hash := sha1.New(), md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, sha1Hash, md5Hash), r)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read source: %v", interfaces.ErrImportFailure, err)
	}
	res := &interfaces.Resource{
		Digest:     interfaces.Digest(hex.EncodeToString(sha1Hash.Sum(nil))),
		MD5:        hex.EncodeToString(md5Hash.Sum(nil)),
		Size:       size,
		Collection: collection,
	}

	p := b.filePath(res.Digest)
	exists, err := b.exists(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrImportFailure, err)
	}
	if exists {
		b.log.Debug("Content already stored, skipping write", slog.String("digest", res.Digest.Short()))
		return res, nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: could not rewind spool file: %v", interfaces.ErrImportFailure, err)
	}
	err = b.shell.FilesWrite(ctx, p, tmp,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write %s to IPFS: %v", interfaces.ErrImportFailure, p, err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("path", p),
		slog.String("digest", res.Digest.Short()),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// FetchStream reads the blob of res from MFS, or returns nil if it doesn't exist.
func (b *IPFSStore) FetchStream(ctx context.Context, res interfaces.Resource) (io.ReadCloser, error) {
	if err := res.Digest.Validate(); err != nil {
		return nil, err
	}
	p := b.filePath(res.Digest)
	exists, err := b.exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rc, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s from IPFS: %v", interfaces.ErrBackendUnavailable, p, err)
	}
	return rc, nil
}

// ListObjects enumerates the collection's resources as recorded in the catalog.
func (b *IPFSStore) ListObjects(ctx context.Context, collection string) iter.Seq2[interfaces.StorageObject, error] {
	return listFromCatalog(ctx, b.catalog, collection, func(res interfaces.Resource) (io.ReadCloser, error) {
		return b.FetchStream(ctx, res)
	})
}

// Delete unlinks the blob from MFS. Unreferenced blocks are reclaimed by the
// node's garbage collector.
func (b *IPFSStore) Delete(ctx context.Context, res interfaces.Resource) error {
	if err := res.Digest.Validate(); err != nil {
		return err
	}
	err := b.shell.FilesRm(ctx, b.filePath(res.Digest), true)
	if err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("%w: failed to remove from IPFS: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *IPFSStore) Identity() interfaces.StorageIdentity {
	return interfaces.StorageIdentity{Scheme: "ipfs", Bucket: b.host, Prefix: strings.TrimPrefix(b.dir, "/")}
}

func (b *IPFSStore) Name() string {
	return b.name
}

func (b *IPFSStore) exists(ctx context.Context, p string) (bool, error) {
	_, err := b.shell.FilesStat(ctx, p)
	if err == nil {
		return true, nil
	}
	if isIPFSNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: failed to stat %s on IPFS: %v", interfaces.ErrBackendUnavailable, p, err)
}

func (b *IPFSStore) filePath(digest interfaces.Digest) string {
	return path.Join(b.dir, digest.String())
}

func isIPFSNotFound(err error) bool {
	var shellErr *shell.Error
	if errors.As(err, &shellErr) {
		return strings.Contains(shellErr.Message, "does not exist") || strings.Contains(shellErr.Message, "not found")
	}
	return strings.Contains(err.Error(), "does not exist")
}
