package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// Object metadata written on import.
const (
	metaSHA1 = "Sha1"
	metaMD5  = "Md5"
)

// S3StoreConfig is the immutable configuration of an S3Store.
type S3StoreConfig struct {
	Name       string
	BucketName string
	Prefix     string
	// TempDir holds import spool files; empty means os.TempDir().
	TempDir string
}

// S3Store is a content-addressable store on an S3 bucket. Every blob is
// kept under the key <prefix>/<sha1>.
type S3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	catalog  interfaces.Catalog
	name     string
	bucket   string
	prefix   string
	tempDir  string
	log      *slog.Logger
}

// NewS3Store creates an S3 store. The catalog is used to enumerate objects
// and may be nil if ListObjects is never called.
func NewS3Store(cfg S3StoreConfig, client s3iface.S3API, uploader s3manageriface.UploaderAPI, catalog interfaces.Catalog, log *slog.Logger) (*S3Store, error) {
	if err := ValidateBucketName(cfg.BucketName); err != nil {
		return nil, err
	}
	if client == nil || uploader == nil {
		return nil, fmt.Errorf("%w: S3 store %q needs an S3 client and an uploader", interfaces.ErrConfiguration, cfg.Name)
	}
	if log == nil {
		log = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("s3-%s", cfg.BucketName)
	}

	return &S3Store{
		client:   client,
		uploader: uploader,
		catalog:  catalog,
		name:     name,
		bucket:   cfg.BucketName,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		tempDir:  cfg.TempDir,
		log:      log.With(slog.String("store", name)),
	}, nil
}

// Initialize makes sure the bucket exists, creating it if needed.
func (s *S3Store) Initialize(ctx context.Context, timeout time.Duration) error {
	return EnsureBucket(ctx, s.client, s.bucket, timeout, s.log)
}

// Import spools r to a temporary file while hashing it, then uploads the
// file under its SHA-1 unless an object with that key already exists.
func (s *S3Store) Import(ctx context.Context, r io.Reader, collection string) (*interfaces.Resource, error) {
	start := time.Now()

	tmp, err := os.CreateTemp(s.tempDir, "resource-import-*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create temporary file: %v", interfaces.ErrImportFailure, err)
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
	key := s.Identity().Key(res.Digest)

	exists, err := s.exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrImportFailure, err)
	}
	if exists {
		s.log.Debug("Content already stored, skipping upload",
			slog.String("digest", res.Digest.Short()),
			slog.String("key", key))
		return res, nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: could not rewind temporary file: %v", interfaces.ErrImportFailure, err)
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   tmp,
		Metadata: map[string]*string{
			metaSHA1: aws.String(res.Digest.String()),
			metaMD5:  aws.String(res.MD5),
		},
	})
	if err != nil {
		s.log.Error("Failed to upload content",
			slog.String("digest", res.Digest.Short()),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("%w: upload to s3://%s/%s: %v", interfaces.ErrImportFailure, s.bucket, key, err)
	}

	s.log.Debug("Stored content in S3",
		slog.String("digest", res.Digest.Short()),
		slog.String("key", key),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)))

	return res, nil
}

// FetchStream returns the object body of res, or nil if there is none.
func (s *S3Store) FetchStream(ctx context.Context, res interfaces.Resource) (io.ReadCloser, error) {
	key := s.Identity().Key(res.Digest)
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			s.log.Debug("Content not found in S3",
				slog.String("digest", res.Digest.Short()),
				slog.String("key", key))
			return nil, nil
		}
		s.log.Error("Failed to get object from S3",
			slog.String("digest", res.Digest.Short()),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", interfaces.ErrBackendUnavailable, s.bucket, key, err)
	}
	return out.Body, nil
}

// ListObjects enumerates the collection's resources as recorded in the catalog.
func (s *S3Store) ListObjects(ctx context.Context, collection string) iter.Seq2[interfaces.StorageObject, error] {
	return listFromCatalog(ctx, s.catalog, collection, func(res interfaces.Resource) (io.ReadCloser, error) {
		return s.FetchStream(ctx, res)
	})
}

// Delete removes the blob of res. Deleting a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, res interfaces.Resource) error {
	key := s.Identity().Key(res.Digest)
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("%w: delete s3://%s/%s: %v", interfaces.ErrBackendUnavailable, s.bucket, key, err)
	}

	s.log.Debug("Deleted content from S3",
		slog.String("digest", res.Digest.Short()),
		slog.String("key", key))
	return nil
}

// Identity returns the bucket and prefix of this store.
func (s *S3Store) Identity() interfaces.StorageIdentity {
	return interfaces.StorageIdentity{Scheme: "s3", Bucket: s.bucket, Prefix: s.prefix}
}

// Name returns a unique identifier for this store.
func (s *S3Store) Name() string {
	return s.name
}

// BucketName returns the bucket this store uses.
func (s *S3Store) BucketName() string {
	return s.bucket
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", s.bucket, key, err)
}
