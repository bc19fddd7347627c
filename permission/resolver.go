package permission

import (
	"context"
	"fmt"
)

// Grants is what the durable store knows about a user's authorization.
type Grants struct {
	Roles    []string
	Verified bool
}

// RoleSource loads stored grants for a user.
type RoleSource interface {
	Grants(ctx context.Context, userID string) (Grants, error)
}

// Resolver turns stored grants into a permission [Set].
type Resolver struct {
	roles          *RoleManager
	source         RoleSource
	verifiedRole   string
	unverifiedRole string
}

// NewResolver returns a resolver that adds [RoleMember] for users with a
// verified primary email and [RoleUnverified] otherwise.
func NewResolver(roles *RoleManager, source RoleSource) *Resolver {
	return &Resolver{
		roles:          roles,
		source:         source,
		verifiedRole:   RoleMember,
		unverifiedRole: RoleUnverified,
	}
}

// Resolve loads userID's roles and flattens them into a set.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Set, error) {
	grants, err := r.source.Grants(ctx, userID)
	if err != nil {
		return Set{}, err
	}

	roles := make([]string, 0, len(grants.Roles)+1)
	roles = append(roles, grants.Roles...)
	if grants.Verified {
		roles = append(roles, r.verifiedRole)
	} else {
		roles = append(roles, r.unverifiedRole)
	}

	set, err := r.roles.Expand(roles...)
	if err != nil {
		return Set{}, fmt.Errorf("resolve %s: %w", userID, err)
	}
	return set, nil
}

// Parse decodes a scope string against the resolver's registry.
func (r *Resolver) Parse(scope string) (Set, error) {
	return r.roles.Registry().ParseScope(scope)
}
