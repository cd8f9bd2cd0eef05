package policy

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// Normalize fills in the kind of every grantee that arrived without one:
// CanonicalUser when an ID is present, Group when a URI is present.
// It returns a copy; the input is not modified.
func Normalize(p interfaces.AccessPolicy) interfaces.AccessPolicy {
	out := interfaces.AccessPolicy{
		Owner:  normalizeGrantee(p.Owner),
		Grants: make([]interfaces.AccessGrant, 0, len(p.Grants)),
	}
	for _, g := range p.Grants {
		out.Grants = append(out.Grants, interfaces.AccessGrant{
			Grantee:    normalizeGrantee(g.Grantee),
			Permission: g.Permission,
		})
	}
	return out
}

func normalizeGrantee(g interfaces.Grantee) interfaces.Grantee {
	if g.Kind != "" {
		return g
	}
	switch {
	case g.ID != "":
		g.Kind = interfaces.CanonicalUser
	case g.URI != "":
		g.Kind = interfaces.Group
	}
	return g
}

// HasGrant reports whether p already grants permission to grantee.
// Grantees without a kind are matched after normalization.
func HasGrant(p interfaces.AccessPolicy, grantee interfaces.Grantee, permission string) bool {
	grantee = normalizeGrantee(grantee)
	for _, g := range p.Grants {
		if g.Permission == permission && normalizeGrantee(g.Grantee).Equal(grantee) {
			return true
		}
	}
	return false
}

// AddGrant returns p with one grant per permission for grantee appended.
// Grants already present are not duplicated, so the call is idempotent.
// The owner is kept as is.
func AddGrant(p interfaces.AccessPolicy, grantee interfaces.Grantee, permissions ...string) interfaces.AccessPolicy {
	out := Normalize(p)
	grantee = normalizeGrantee(grantee)
	for _, permission := range permissions {
		if HasGrant(out, grantee, permission) {
			continue
		}
		out.Grants = append(out.Grants, interfaces.AccessGrant{
			Grantee:    grantee,
			Permission: permission,
		})
	}
	return out
}

// RemoveGrant returns p without any grant held by grantee. Every other
// grant and the owner survive untouched.
func RemoveGrant(p interfaces.AccessPolicy, grantee interfaces.Grantee) interfaces.AccessPolicy {
	norm := Normalize(p)
	grantee = normalizeGrantee(grantee)
	out := interfaces.AccessPolicy{
		Owner:  norm.Owner,
		Grants: make([]interfaces.AccessGrant, 0, len(norm.Grants)),
	}
	for _, g := range norm.Grants {
		if g.Grantee.Equal(grantee) {
			continue
		}
		out.Grants = append(out.Grants, g)
	}
	return out
}

// FromS3 converts an object ACL as returned by GetObjectAcl and normalizes it.
func FromS3(out *s3.GetObjectAclOutput) interfaces.AccessPolicy {
	if out == nil {
		return interfaces.AccessPolicy{}
	}
	p := interfaces.AccessPolicy{Grants: make([]interfaces.AccessGrant, 0, len(out.Grants))}
	if out.Owner != nil {
		p.Owner = interfaces.Grantee{ID: aws.StringValue(out.Owner.ID)}
	}
	for _, g := range out.Grants {
		if g == nil || g.Grantee == nil {
			continue
		}
		p.Grants = append(p.Grants, interfaces.AccessGrant{
			Grantee: interfaces.Grantee{
				Kind: interfaces.GranteeKind(aws.StringValue(g.Grantee.Type)),
				ID:   aws.StringValue(g.Grantee.ID),
				URI:  aws.StringValue(g.Grantee.URI),
			},
			Permission: aws.StringValue(g.Permission),
		})
	}
	return Normalize(p)
}

// ToS3 converts p into the document accepted by PutObjectAcl.
func ToS3(p interfaces.AccessPolicy) *s3.AccessControlPolicy {
	acp := &s3.AccessControlPolicy{
		Grants: make([]*s3.Grant, 0, len(p.Grants)),
	}
	if p.Owner.ID != "" {
		acp.Owner = &s3.Owner{ID: aws.String(p.Owner.ID)}
	}
	for _, g := range p.Grants {
		grantee := &s3.Grantee{Type: aws.String(string(g.Grantee.Kind))}
		if g.Grantee.ID != "" {
			grantee.ID = aws.String(g.Grantee.ID)
		}
		if g.Grantee.URI != "" {
			grantee.URI = aws.String(g.Grantee.URI)
		}
		acp.Grants = append(acp.Grants, &s3.Grant{
			Grantee:    grantee,
			Permission: aws.String(g.Permission),
		})
	}
	return acp
}

// GrantHeader formats grantee for the x-amz-grant-* upload headers.
func GrantHeader(grantee interfaces.Grantee) string {
	if grantee.Kind == interfaces.Group {
		return fmt.Sprintf("uri=%q", grantee.URI)
	}
	return fmt.Sprintf("id=%q", grantee.ID)
}
