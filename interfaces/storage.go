package interfaces

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"
)

// Digest is the lowercase hex SHA-1 of a resource's bytes. It is the
// storage key of the resource in every content-addressable store.
type Digest string

// DigestLength is the length of a hex encoded SHA-1 digest.
const DigestLength = 2 * sha1.Size

// NewDigestFromHex validates and normalizes a hex digest string.
func NewDigestFromHex(source string) (Digest, error) {
	clean := strings.ToLower(strings.TrimPrefix(source, "0x"))
	if len(clean) != DigestLength {
		return "", fmt.Errorf("invalid digest length: hex string must be %d characters", DigestLength)
	}
	if _, err := hex.DecodeString(clean); err != nil {
		return "", fmt.Errorf("invalid hex format: %w", err)
	}
	return Digest(clean), nil
}

// ComputeDigest calculates the digest of data held in memory.
func ComputeDigest(data []byte) Digest {
	sum := sha1.Sum(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// String returns the hex representation.
func (d Digest) String() string {
	return string(d)
}

// Short returns an abbreviated form for logging.
func (d Digest) Short() string {
	if len(d) > 12 {
		return string(d[:12])
	}
	return string(d)
}

// Validate checks that d is a well formed digest.
func (d Digest) Validate() error {
	_, err := NewDigestFromHex(string(d))
	return err
}

// Resource is an immutable content record. Two resources with the same
// Digest refer to the same bytes, whatever their collection or filename.
type Resource struct {
	Digest     Digest `json:"sha1"`
	MD5        string `json:"md5"`
	Size       int64  `json:"size"`
	Collection string `json:"collection"`
	Filename   string `json:"filename,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
}

// StorageObject is a view of a Resource inside one store. The byte
// stream is opened lazily by Open; the caller must close it.
type StorageObject struct {
	Resource
	Open func() (io.ReadCloser, error)
}

// StorageIdentity describes where a store physically keeps its bytes.
type StorageIdentity struct {
	Scheme string // "s3", "file" or "ipfs"
	Bucket string // bucket name or base directory
	Prefix string // key prefix inside the bucket, may be empty
}

// SameBucket reports whether both identities are S3 stores on the same bucket.
func (id StorageIdentity) SameBucket(bucket string) bool {
	return id.Scheme == "s3" && bucket != "" && id.Bucket == bucket
}

// Key returns the object key under which the store keeps digest.
func (id StorageIdentity) Key(digest Digest) string {
	if id.Prefix == "" {
		return digest.String()
	}
	return path.Join(id.Prefix, digest.String())
}

// String returns a URI-like representation.
func (id StorageIdentity) String() string {
	if id.Prefix == "" {
		return fmt.Sprintf("%s://%s", id.Scheme, id.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", id.Scheme, id.Bucket, id.Prefix)
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned on transport-level faults talking to the
	// object store or the CDN. It is never retried internally.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrConfiguration is returned for a bad or missing bucket name or CDN
	// distribution identifier. Fatal at construction.
	ErrConfiguration = errors.New("configuration error")

	// ErrOriginNotFound is returned when CDN mode is requested but the bucket
	// is not an origin of the given distribution.
	ErrOriginNotFound = errors.New("bucket is not an origin of the distribution")

	// ErrSourceDataMissing is returned when the source storage cannot supply
	// the bytes of a resource being published.
	ErrSourceDataMissing = errors.New("source data missing")

	// ErrImportFailure is returned when reading, hashing or uploading
	// content during import fails.
	ErrImportFailure = errors.New("import failed")
)

// ContentAddressableStore provides deduplicated blob storage keyed by digest.
type ContentAddressableStore interface {
	// Import reads r to the end, stores it under its digest and returns the
	// resulting resource. Importing identical bytes twice stores them once.
	Import(ctx context.Context, r io.Reader, collection string) (*Resource, error)

	// FetchStream returns the bytes of res, or nil and no error if the store
	// does not hold them.
	FetchStream(ctx context.Context, res Resource) (io.ReadCloser, error)

	// ListObjects enumerates the resources of one collection, or of all
	// collections when collection is empty.
	ListObjects(ctx context.Context, collection string) iter.Seq2[StorageObject, error]

	// Delete physically removes the blob of res. A missing blob is not an error.
	Delete(ctx context.Context, res Resource) error

	// Identity describes where the store keeps its bytes.
	Identity() StorageIdentity

	// Name returns identifier for logging.
	Name() string
}

// Catalog is the authoritative list of resources and the collections they
// belong to. Several records may share one digest.
type Catalog interface {
	// Add records res.
	Add(ctx context.Context, res Resource) error

	// Remove drops one record matching res' digest and collection.
	Remove(ctx context.Context, res Resource) error

	// FindByCollection returns the records of one collection, or all records
	// when collection is empty.
	FindByCollection(ctx context.Context, collection string) ([]Resource, error)

	// CountByDigest returns how many records reference digest.
	CountByDigest(ctx context.Context, digest Digest) (int, error)
}
