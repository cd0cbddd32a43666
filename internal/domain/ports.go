package domain

import "context"

// ObjectStore is the storage engine contract for object CRUD and timestamp
// generation. Implementations must make each write atomic with its timestamp
// bump: a committed object and its assigned last_modified are observed
// together by subsequent reads, or not at all.
type ObjectStore interface {
	// Get returns a live object. Tombstoned or absent objects yield
	// NotFoundError.
	Get(ctx context.Context, t ResourceType, parentID, id string) (*Object, error)

	// Create persists a new object and stamps it with a fresh scope
	// timestamp. A live object with the same id yields ConflictError;
	// creating over a tombstone succeeds and revives the id.
	Create(ctx context.Context, obj *Object) (*Object, error)

	// Update replaces an object's data (creating it if absent) and stamps
	// it with a fresh scope timestamp.
	Update(ctx context.Context, obj *Object) (*Object, error)

	// Delete tombstones a live object, stamping the tombstone with a fresh
	// scope timestamp. Absent or already-deleted objects yield
	// NotFoundError. The returned object carries Deleted=true.
	Delete(ctx context.Context, t ResourceType, parentID, id string) (*Object, error)

	// List returns objects in the scope ordered by last_modified ascending.
	// Tombstones are included when the filter's Since bound is set.
	List(ctx context.Context, t ResourceType, parentID string, f Filter) ([]*Object, error)

	// DeleteAll tombstones every live object matching the filter and
	// returns the tombstones, each stamped with a fresh scope timestamp.
	DeleteAll(ctx context.Context, t ResourceType, parentID string, f Filter) ([]*Object, error)

	// ScopeTimestamp returns the current timestamp of a listing scope
	// without advancing it. A scope that has never been written reports the
	// timestamp it would have been created at.
	ScopeTimestamp(ctx context.Context, scopeURI string) (int64, error)

	// BumpTimestamp advances a scope's timestamp and returns the new value.
	// The result is strictly greater than every previously issued value for
	// the scope and than the max last_modified already stored in it.
	BumpTimestamp(ctx context.Context, scopeURI string) (int64, error)
}

// PermissionStore persists per-object ACLs and the user-principal index.
type PermissionStore interface {
	// GetACL returns the object's ACL. Unknown objects yield an empty ACL,
	// not an error: permission checks on absent objects fall through to
	// ancestor grants.
	GetACL(ctx context.Context, objectURI string) (ACL, error)

	// ReplaceACL stores the object's ACL wholesale.
	ReplaceACL(ctx context.Context, objectURI string, acl ACL) error

	// DeleteACLs removes the ACLs of the object and of every descendant
	// (URIs strictly under objectURI + "/").
	DeleteACLs(ctx context.Context, objectURI string) error

	// HasAnyPrincipal reports whether the ACL entry (objectURI, permission)
	// intersects the given principal set.
	HasAnyPrincipal(ctx context.Context, objectURI, permission string, principals []string) (bool, error)

	// PurgePrincipal removes a principal as a grantee from every ACL entry
	// in the system. Used when a group is deleted: the group principal may
	// have been granted permission on unrelated objects.
	PurgePrincipal(ctx context.Context, principal string) error

	// AddUserPrincipal records that user holds the given group principal.
	AddUserPrincipal(ctx context.Context, user, groupPrincipal string) error

	// RemoveUserPrincipal drops a group principal from a user's entry.
	RemoveUserPrincipal(ctx context.Context, user, groupPrincipal string) error

	// UserPrincipals returns the group principals a user currently holds.
	UserPrincipals(ctx context.Context, user string) ([]string, error)
}
