// Package storage provides content-addressable stores for resources.
//
// A store keeps every blob once, under the hex SHA-1 of its bytes. Importing
// the same bytes again returns the existing resource without writing:
//
//   - S3Store keeps blobs in a bucket under <prefix>/<sha1>, with the SHA-1
//     and MD5 recorded as object metadata
//   - FileStore keeps blobs flat in a local directory
//   - IPFSStore keeps blobs in an MFS directory of an IPFS node
//   - MirrorStore copies every blob of a primary store to secondary stores
//     and reads from them when the primary cannot answer
//
// Stores do not know which collections exist. Enumeration goes through the
// resource catalog passed at construction.
//
// # Location URIs
//
// StoreFactory creates stores from URIs:
//
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=http://minio:9000
//	file:///var/lib/publisher/blobs
//	ipfs://localhost:5001/resources
//
// S3 stores share the factory's AWS configuration. The region and endpoint
// query parameters and embedded credentials override it for one store.
//
// # Buckets
//
// ValidateBucketName enforces the DNS compatible bucket naming rules and
// EnsureBucket creates a missing bucket and waits for it:
//
//	store, err := factory.StoreFor("persistent", "s3://resources-store/blobs")
//	if err != nil {
//	    return err
//	}
//	res, err := store.Import(ctx, file, "docs")
package storage
