// Package interfaces defines core interfaces and types for the resource
// publisher, separating interface definitions from implementations.
//
// # Storage Interfaces
//
// ContentAddressableStore: Imports, fetches, enumerates and deletes blobs keyed
// by the SHA-1 digest of their content (S3, IPFS, local filesystem and mirrored
// implementations).
//
// Catalog: The authoritative list of resources per collection. Several records
// may share one digest, which is what makes physical deletion reference-counted.
//
// # Publication Interfaces
//
// PublicationTarget: Decides per resource whether publishing means uploading
// bytes or flipping the access policy of an object already in the target bucket.
//
// # Access Control Types
//
// - Grantee: CanonicalUser or Group principal, compared structurally
// - AccessGrant / AccessPolicy: an object's owner and grant list
// - CdnResolution: whether a CDN fronts the target bucket and which principal reads through it
//
// # Errors
//
// ErrConfiguration and ErrOriginNotFound are fatal at construction.
// ErrBackendUnavailable, ErrSourceDataMissing and ErrImportFailure are reported
// per operation and never retried internally.
package interfaces
