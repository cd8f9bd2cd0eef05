package interfaces

import (
	"context"
	"fmt"
)

// GranteeKind tags the principal variant of a Grantee.
type GranteeKind string

const (
	// CanonicalUser identifies an individual principal by its canonical ID.
	CanonicalUser GranteeKind = "CanonicalUser"
	// Group identifies a predefined group by URI.
	Group GranteeKind = "Group"
)

// Permission values used by this module.
const (
	PermissionRead        = "READ"
	PermissionFullControl = "FULL_CONTROL"
)

// AllUsersGroupURI is the group granting anonymous access to everyone.
const AllUsersGroupURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// Grantee is a principal eligible to receive a permission.
type Grantee struct {
	Kind GranteeKind `json:"type" yaml:"type"`
	ID   string      `json:"id,omitempty" yaml:"id,omitempty"`
	URI  string      `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// NewCanonicalUser returns a CanonicalUser grantee.
func NewCanonicalUser(id string) Grantee {
	return Grantee{Kind: CanonicalUser, ID: id}
}

// NewGroup returns a Group grantee.
func NewGroup(uri string) Grantee {
	return Grantee{Kind: Group, URI: uri}
}

// AllUsers is the public-everyone group.
func AllUsers() Grantee {
	return NewGroup(AllUsersGroupURI)
}

// Identifier returns the ID of a canonical user or the URI of a group.
func (g Grantee) Identifier() string {
	if g.Kind == Group {
		return g.URI
	}
	return g.ID
}

// Equal compares kind and identifier.
func (g Grantee) Equal(other Grantee) bool {
	return g.Kind == other.Kind && g.Identifier() == other.Identifier()
}

// String returns "kind:identifier".
func (g Grantee) String() string {
	return fmt.Sprintf("%s:%s", g.Kind, g.Identifier())
}

// AccessGrant gives one permission to one grantee.
type AccessGrant struct {
	Grantee    Grantee `json:"grantee"`
	Permission string  `json:"permission"`
}

// AccessPolicy is the access-control list of one object. It is always
// fetched fresh and written back wholesale.
type AccessPolicy struct {
	Owner  Grantee       `json:"owner"`
	Grants []AccessGrant `json:"grants"`
}

// CdnResolution describes how a bucket is fronted by a CDN distribution.
// It is computed once per target and treated as plain data afterwards.
type CdnResolution struct {
	Enabled    bool   `json:"enabled"`
	DomainName string `json:"domain_name,omitempty"`
	// OriginPrincipal is the origin access identity's canonical user, or
	// nil when the origin reads objects anonymously.
	OriginPrincipal *Grantee `json:"origin_principal,omitempty"`
}

// ReadGrantee returns the principal that must hold READ for published
// objects to be reachable.
func (r CdnResolution) ReadGrantee() Grantee {
	if r.OriginPrincipal != nil {
		return *r.OriginPrincipal
	}
	return AllUsers()
}

// PublishOutcome tells which path a publish or unpublish call took.
type PublishOutcome int

const (
	// OutcomeUnchanged means the object was already in the desired state.
	OutcomeUnchanged PublishOutcome = iota
	// OutcomeUploadedBytes means the bytes were streamed to the target bucket.
	OutcomeUploadedBytes
	// OutcomeChangedACLOnly means only the object's access policy was rewritten.
	OutcomeChangedACLOnly
	// OutcomeDeleted means the published copy was removed.
	OutcomeDeleted
	// OutcomeSkippedShared means other resources still reference the content.
	OutcomeSkippedShared
)

// String returns outcome name.
func (o PublishOutcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUploadedBytes:
		return "uploaded_bytes"
	case OutcomeChangedACLOnly:
		return "changed_acl_only"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeSkippedShared:
		return "skipped_shared"
	default:
		return "unknown"
	}
}

// Collection groups resources kept in one store. A collection with
// StaticPaths publishes plain directory trees instead of stored resources.
type Collection struct {
	Name        string
	Storage     ContentAddressableStore
	StaticPaths map[string]string // publication prefix -> local directory
}

// PublicationTarget makes resources externally readable.
type PublicationTarget interface {
	// PublishResource makes res readable through this target.
	PublishResource(ctx context.Context, res Resource, collection Collection) (PublishOutcome, error)

	// PublishCollection publishes every resource of collection. Failures of
	// single resources do not stop the batch.
	PublishCollection(ctx context.Context, collection Collection) error

	// UnpublishResource revokes what PublishResource granted.
	UnpublishResource(ctx context.Context, res Resource, storage StorageIdentity) (PublishOutcome, error)

	// PublishDirectory replaces everything under prefix with the tree at dir.
	PublishDirectory(ctx context.Context, dir, prefix string) error

	// PublicURI returns the web address of a published resource.
	PublicURI(res Resource, storage StorageIdentity) string

	// Name returns identifier for logging.
	Name() string
}
