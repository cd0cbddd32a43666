// Package security implements principal resolution and the permission
// engine: ACL checks with hierarchy inheritance, and the user-principal
// index kept consistent with group membership.
package security

import (
	"context"
	"fmt"

	"shelfstore/internal/domain"
)

// Resolver expands an authenticated identity into its effective principal
// set. Resolution always reads the live user-principal index: group
// membership can change mid-request, so results are never cached.
type Resolver struct {
	perms domain.PermissionStore
}

// NewResolver creates a new Resolver.
func NewResolver(perms domain.PermissionStore) *Resolver {
	return &Resolver{perms: perms}
}

// Resolve returns the identity's own principal, system.Everyone,
// system.Authenticated for non-anonymous callers, and every group principal
// the identity currently holds. An empty identity is anonymous.
func (r *Resolver) Resolve(ctx context.Context, identity string) ([]string, error) {
	if identity == "" {
		return []string{domain.Everyone}, nil
	}
	groups, err := r.perms.UserPrincipals(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve principals for %s: %w", identity, err)
	}
	out := make([]string, 0, len(groups)+3)
	out = append(out, identity, domain.Everyone, domain.Authenticated)
	out = append(out, groups...)
	return out, nil
}
