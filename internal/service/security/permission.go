package security

import (
	"context"
	"fmt"

	"shelfstore/internal/domain"
)

// PermissionService is the permission engine. It answers authorization
// queries against per-object ACLs (expanding the static inheritance table)
// and maintains the user-principal index through group mutations.
type PermissionService struct {
	perms domain.PermissionStore
}

// NewPermissionService creates a new PermissionService.
func NewPermissionService(perms domain.PermissionStore) *PermissionService {
	return &PermissionService{perms: perms}
}

// Check reports whether any of the caller's principals holds the permission
// on the object, directly or through an implied grant up the hierarchy.
func (s *PermissionService) Check(ctx context.Context, principals []string, t domain.ResourceType, objectURI, permission string) (bool, error) {
	for _, ace := range domain.InheritedACEs(t, objectURI, permission) {
		ok, err := s.perms.HasAnyPrincipal(ctx, ace.ObjectURI, ace.Permission, principals)
		if err != nil {
			return false, fmt.Errorf("check %s on %s: %w", ace.Permission, ace.ObjectURI, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// SeedACL stores the ACL of a freshly created object: the requested
// permissions plus write for the creator.
func (s *PermissionService) SeedACL(ctx context.Context, objectURI, creator string, requested domain.ACL) error {
	acl := requested.Clone()
	if creator != "" {
		acl.Grant("write", creator)
	}
	if err := s.perms.ReplaceACL(ctx, objectURI, acl); err != nil {
		return fmt.Errorf("seed acl for %s: %w", objectURI, err)
	}
	return nil
}

// memberDiff is the symmetric difference of two member lists.
type memberDiff struct {
	added   []string
	removed []string
}

func diffMembers(old, new []string) memberDiff {
	oldSet := domain.NewPrincipalSet(old...)
	newSet := domain.NewPrincipalSet(new...)
	var d memberDiff
	for _, m := range new {
		if !oldSet.Has(m) {
			d.added = append(d.added, m)
		}
	}
	for _, m := range old {
		if !newSet.Has(m) {
			d.removed = append(d.removed, m)
		}
	}
	return d
}

// ReconcileGroup updates the user-principal index after a group's members
// field is replaced wholesale. Only the symmetric difference is touched, so
// adding then removing the same member restores the exact prior state. On a
// partial failure the already-applied entries are rolled back before the
// error is returned, so a failed reconciliation never leaves stale grants.
func (s *PermissionService) ReconcileGroup(ctx context.Context, groupURI string, oldMembers, newMembers []string) error {
	d := diffMembers(oldMembers, newMembers)

	var done memberDiff
	rollback := func() {
		for _, m := range done.added {
			_ = s.perms.RemoveUserPrincipal(ctx, m, groupURI)
		}
		for _, m := range done.removed {
			_ = s.perms.AddUserPrincipal(ctx, m, groupURI)
		}
	}

	for _, m := range d.added {
		if err := s.perms.AddUserPrincipal(ctx, m, groupURI); err != nil {
			rollback()
			return fmt.Errorf("index member %s of %s: %w", m, groupURI, err)
		}
		done.added = append(done.added, m)
	}
	for _, m := range d.removed {
		if err := s.perms.RemoveUserPrincipal(ctx, m, groupURI); err != nil {
			rollback()
			return fmt.Errorf("unindex member %s of %s: %w", m, groupURI, err)
		}
		done.removed = append(done.removed, m)
	}
	return nil
}

// RevokeGroup cascades a group deletion: every remaining member loses the
// group principal from its index entry, and the group principal is stripped
// from every ACL entry in the system, since a group can be granted permission on
// resources far outside its own bucket.
func (s *PermissionService) RevokeGroup(ctx context.Context, group *domain.Object) error {
	groupURI := group.URI()
	members, err := domain.MemberList(group.Data)
	if err != nil {
		// Tolerate malformed stored groups: nothing was ever indexed.
		members = nil
	}
	for _, m := range members {
		if err := s.perms.RemoveUserPrincipal(ctx, m, groupURI); err != nil {
			return fmt.Errorf("unindex member %s of %s: %w", m, groupURI, err)
		}
	}
	if err := s.perms.PurgePrincipal(ctx, groupURI); err != nil {
		return fmt.Errorf("revoke grants of %s: %w", groupURI, err)
	}
	return nil
}

// DropACLs removes the ACLs of an object and all of its descendants, as part
// of a cascading delete.
func (s *PermissionService) DropACLs(ctx context.Context, objectURI string) error {
	if err := s.perms.DeleteACLs(ctx, objectURI); err != nil {
		return fmt.Errorf("drop acls under %s: %w", objectURI, err)
	}
	return nil
}

// GetACL returns the object's current ACL.
func (s *PermissionService) GetACL(ctx context.Context, objectURI string) (domain.ACL, error) {
	return s.perms.GetACL(ctx, objectURI)
}

// ReplaceACL stores an object's ACL wholesale.
func (s *PermissionService) ReplaceACL(ctx context.Context, objectURI string, acl domain.ACL) error {
	return s.perms.ReplaceACL(ctx, objectURI, acl)
}
