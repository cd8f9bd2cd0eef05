// Package policy computes minimal, non-destructive edits to S3 object
// access-control lists.
//
// All functions are pure: they take an AccessPolicy and return a new one.
// Grants unrelated to the edited grantee and the Owner field always
// survive an edit. Grantees fetched from S3 without a type tag are
// normalized first (ID means CanonicalUser, URI means Group) so that
// structural equality works regardless of the source representation.
package policy
