// Package resource orchestrates the object hierarchy (buckets, collections,
// records, groups): permission-gated CRUD, conditional-write semantics, and
// cascading deletes that keep ACLs and the user-principal index consistent.
package resource

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"shelfstore/internal/domain"
	"shelfstore/internal/service/security"
)

// Conditions carries the parsed conditional-write headers of a request.
type Conditions struct {
	// IfMatch is the timestamp from an If-Match header, nil when absent.
	IfMatch *int64
	// IfNoneMatchAny is set for "If-None-Match: *".
	IfNoneMatchAny bool
}

// Service is the object hierarchy manager. All mutations of a scope are
// serialized behind a per-scope lock; reads and listings are lock-free.
type Service struct {
	store    domain.ObjectStore
	engine   *security.PermissionService
	resolver *security.Resolver
	locks    *scopeLocks
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(store domain.ObjectStore, engine *security.PermissionService, resolver *security.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		engine:   engine,
		resolver: resolver,
		locks:    newScopeLocks(),
		logger:   logger,
	}
}

// authorize resolves the caller's principals against the live index and
// checks the permission. Principals are resolved at every check, not once
// per request: a group PATCH earlier in the same request must be visible.
func (s *Service) authorize(ctx context.Context, identity string, t domain.ResourceType, objectURI, permission string) error {
	principals, err := s.resolver.Resolve(ctx, identity)
	if err != nil {
		return domain.ErrBackend(err, "resolve principals")
	}
	ok, err := s.engine.Check(ctx, principals, t, objectURI, permission)
	if err != nil {
		return domain.ErrBackend(err, "authorize %s on %s", permission, objectURI)
	}
	if !ok {
		return domain.ErrAccessDenied("%s permission on %s required", permission, objectURI)
	}
	return nil
}

// parseObjectURI splits a canonical object URI into its type, parent scope,
// and id. "/buckets/blog/collections/posts" yields (collection,
// "/buckets/blog", "posts").
func parseObjectURI(uri string) (domain.ResourceType, string, string) {
	parts := strings.Split(strings.TrimPrefix(uri, "/"), "/")
	id := parts[len(parts)-1]
	segment := parts[len(parts)-2]
	parent := ""
	if len(parts) > 2 {
		parent = "/" + strings.Join(parts[:len(parts)-2], "/")
	}
	return domain.ResourceType(strings.TrimSuffix(segment, "s")), parent, id
}

// checkParent verifies the caller may create a child of type t under the
// parent, and that the parent exists. Buckets sit at the root: any
// authenticated caller may create one.
func (s *Service) checkParent(ctx context.Context, identity string, t domain.ResourceType, parentID string) error {
	if t == domain.ResourceBucket {
		principals, err := s.resolver.Resolve(ctx, identity)
		if err != nil {
			return domain.ErrBackend(err, "resolve principals")
		}
		if !domain.NewPrincipalSet(principals...).Has(domain.Authenticated) {
			return domain.ErrAccessDenied("authentication required to create a bucket")
		}
		return nil
	}

	parentType, grandParent, parentObjID := parseObjectURI(parentID)
	if err := s.authorize(ctx, identity, parentType, parentID, domain.ChildCreatePermission(t)); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, parentType, grandParent, parentObjID); err != nil {
		return err
	}
	return nil
}

// checkConditions enforces If-Match / If-None-Match against the object's
// current state. current is nil when the object does not exist. Failures
// carry the object's current ETag so the client can reconcile.
func checkConditions(current *domain.Object, cond Conditions) error {
	if cond.IfNoneMatchAny && current != nil {
		return domain.ErrPrecondition(domain.ETag(current.LastModified), "resource already exists")
	}
	if cond.IfMatch != nil {
		if current == nil {
			return domain.ErrPrecondition("", "resource does not exist")
		}
		if current.LastModified != *cond.IfMatch {
			return domain.ErrPrecondition(domain.ETag(current.LastModified), "resource was modified meanwhile")
		}
	}
	return nil
}

// Get returns a live object and its ACL. Permission is checked before
// existence: callers without read access get 403 whether or not the object
// exists, so nothing about an invisible scope is leaked.
func (s *Service) Get(ctx context.Context, identity string, t domain.ResourceType, parentID, id string) (*domain.Object, domain.ACL, error) {
	uri := domain.ObjectURI(t, parentID, id)
	if err := s.authorize(ctx, identity, t, uri, "read"); err != nil {
		return nil, nil, err
	}
	obj, err := s.store.Get(ctx, t, parentID, id)
	if err != nil {
		return nil, nil, err
	}
	acl, err := s.engine.GetACL(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return obj, acl, nil
}

// List returns the objects in a scope ordered by last_modified ascending,
// plus the scope timestamp for the listing ETag. Requires read on the parent
// object. Tombstones are included when the filter carries a Since bound.
func (s *Service) List(ctx context.Context, identity string, t domain.ResourceType, parentID string, f domain.Filter) ([]*domain.Object, int64, error) {
	parentType, grandParent, parentObjID := parseObjectURI(parentID)
	if err := s.authorize(ctx, identity, parentType, parentID, "read"); err != nil {
		return nil, 0, err
	}
	if _, err := s.store.Get(ctx, parentType, grandParent, parentObjID); err != nil {
		return nil, 0, err
	}
	objs, err := s.store.List(ctx, t, parentID, f)
	if err != nil {
		return nil, 0, err
	}
	ts, err := s.store.ScopeTimestamp(ctx, domain.ScopeURI(t, parentID))
	if err != nil {
		return nil, 0, err
	}
	return objs, ts, nil
}

// Put creates or replaces an object under a client-chosen id. Returns the
// stored object, its ACL, and whether it was created.
func (s *Service) Put(ctx context.Context, identity string, t domain.ResourceType, parentID, id string, data map[string]interface{}, requested domain.ACL, cond Conditions) (*domain.Object, domain.ACL, bool, error) {
	if err := domain.ValidateObjectID(id); err != nil {
		return nil, nil, false, err
	}
	if err := validateData(t, data); err != nil {
		return nil, nil, false, err
	}

	unlock := s.locks.lock(domain.ScopeURI(t, parentID))
	defer unlock()

	current, err := s.store.Get(ctx, t, parentID, id)
	if err != nil {
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, false, err
		}
		current = nil
	}

	uri := domain.ObjectURI(t, parentID, id)
	if current != nil {
		if err := s.authorize(ctx, identity, t, uri, "write"); err != nil {
			return nil, nil, false, err
		}
	} else {
		if err := s.checkParent(ctx, identity, t, parentID); err != nil {
			return nil, nil, false, err
		}
	}

	if err := checkConditions(current, cond); err != nil {
		return nil, nil, false, err
	}

	obj := &domain.Object{Type: t, ParentID: parentID, ID: id, Data: data}
	stored, err := s.writeObject(ctx, identity, obj, current, requested)
	if err != nil {
		return nil, nil, false, err
	}
	acl, err := s.engine.GetACL(ctx, uri)
	if err != nil {
		return nil, nil, false, err
	}
	return stored, acl, current == nil, nil
}

// Create stores a new object under a server-generated id (POST).
func (s *Service) Create(ctx context.Context, identity string, t domain.ResourceType, parentID string, data map[string]interface{}, requested domain.ACL) (*domain.Object, domain.ACL, error) {
	if err := validateData(t, data); err != nil {
		return nil, nil, err
	}
	if err := s.checkParent(ctx, identity, t, parentID); err != nil {
		return nil, nil, err
	}

	unlock := s.locks.lock(domain.ScopeURI(t, parentID))
	defer unlock()

	obj := &domain.Object{Type: t, ParentID: parentID, ID: domain.NewID(), Data: data}
	stored, err := s.writeObject(ctx, identity, obj, nil, requested)
	if err != nil {
		return nil, nil, err
	}
	acl, err := s.engine.GetACL(ctx, stored.URI())
	if err != nil {
		return nil, nil, err
	}
	return stored, acl, nil
}

// writeObject commits an object write together with its ACL seeding and, for
// groups, the user-principal index reconciliation. Ordering keeps error
// paths on the safe side: the index is reconciled before the object commit
// and rolled back if the commit fails, so no failure leaves a grant pointing
// at state that was never written.
func (s *Service) writeObject(ctx context.Context, identity string, obj *domain.Object, current *domain.Object, requested domain.ACL) (*domain.Object, error) {
	uri := obj.URI()

	var oldMembers, newMembers []string
	if obj.Type == domain.ResourceGroup {
		newMembers, _ = domain.MemberList(obj.Data)
		if current != nil {
			oldMembers, _ = domain.MemberList(current.Data)
		}
		if err := s.engine.ReconcileGroup(ctx, uri, oldMembers, newMembers); err != nil {
			return nil, domain.ErrBackend(err, "reconcile group %s", uri)
		}
	}

	var stored *domain.Object
	var err error
	if current == nil {
		stored, err = s.store.Create(ctx, obj)
	} else {
		stored, err = s.store.Update(ctx, obj)
	}
	if err != nil {
		if obj.Type == domain.ResourceGroup {
			// Undo the index delta; the object mutation never committed.
			if rbErr := s.engine.ReconcileGroup(ctx, uri, newMembers, oldMembers); rbErr != nil {
				s.logger.Error("group index rollback failed", "group", uri, "error", rbErr)
			}
		}
		return nil, err
	}

	if current == nil {
		if err := s.engine.SeedACL(ctx, uri, identity, requested); err != nil {
			return nil, domain.ErrBackend(err, "seed acl for %s", uri)
		}
	} else if len(requested) > 0 {
		acl, err := s.engine.GetACL(ctx, uri)
		if err != nil {
			return nil, err
		}
		for perm, principals := range requested.Clone() {
			acl[perm] = principals
		}
		if err := s.engine.ReplaceACL(ctx, uri, acl); err != nil {
			return nil, domain.ErrBackend(err, "update acl for %s", uri)
		}
	}

	return stored, nil
}

// Patch merges the given top-level data keys into an existing object. The
// members field of a group is replaced wholesale, never merged, and triggers
// reconciliation. Permission entries named in requested are replaced.
func (s *Service) Patch(ctx context.Context, identity string, t domain.ResourceType, parentID, id string, data map[string]interface{}, requested domain.ACL, cond Conditions) (*domain.Object, domain.ACL, error) {
	uri := domain.ObjectURI(t, parentID, id)
	if err := s.authorize(ctx, identity, t, uri, "write"); err != nil {
		return nil, nil, err
	}

	unlock := s.locks.lock(domain.ScopeURI(t, parentID))
	defer unlock()

	current, err := s.store.Get(ctx, t, parentID, id)
	if err != nil {
		return nil, nil, err
	}
	if err := checkConditions(current, cond); err != nil {
		return nil, nil, err
	}

	merged := make(map[string]interface{}, len(current.Data)+len(data))
	for k, v := range current.Data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	if err := validateData(t, merged); err != nil {
		return nil, nil, err
	}

	obj := &domain.Object{Type: t, ParentID: parentID, ID: id, Data: merged}
	stored, err := s.writeObject(ctx, identity, obj, current, requested)
	if err != nil {
		return nil, nil, err
	}
	acl, err := s.engine.GetACL(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return stored, acl, nil
}

// Delete tombstones an object and cascades: descendants are tombstoned,
// their ACLs dropped, and deleted groups revoked from the user-principal
// index. Returns the object's tombstone.
func (s *Service) Delete(ctx context.Context, identity string, t domain.ResourceType, parentID, id string, cond Conditions) (*domain.Object, error) {
	uri := domain.ObjectURI(t, parentID, id)
	if err := s.authorize(ctx, identity, t, uri, "write"); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(domain.ScopeURI(t, parentID))
	defer unlock()

	current, err := s.store.Get(ctx, t, parentID, id)
	if err != nil {
		return nil, err
	}
	if err := checkConditions(current, cond); err != nil {
		return nil, err
	}

	// Child scope locks stay held until the tombstone lands, so no child
	// write can slip in after the cascade swept its scope.
	release, err := s.cascade(ctx, current)
	defer release()
	if err != nil {
		return nil, err
	}

	tomb, err := s.store.Delete(ctx, t, parentID, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("object deleted", "uri", uri, "last_modified", tomb.LastModified)
	return tomb, nil
}

// cascade revokes and removes everything below an object about to be
// deleted, plus the object's own ACL. Index cleanup runs before tombstoning
// so an aborted cascade can only under-grant, never leave a grant that
// references a deleted object. Every child scope the cascade sweeps is
// locked first, parent scopes before child scopes, and the returned release
// function keeps those locks held until the caller has tombstoned the
// object itself. Without that, a group or record created in a child scope
// between the sweep and the parent tombstone would survive with its index
// entries and ACL pointing at a deleted parent.
func (s *Service) cascade(ctx context.Context, obj *domain.Object) (func(), error) {
	uri := obj.URI()

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	lock := func(scope string) {
		unlocks = append(unlocks, s.locks.lock(scope))
	}

	switch obj.Type {
	case domain.ResourceGroup:
		if err := s.engine.RevokeGroup(ctx, obj); err != nil {
			return release, domain.ErrBackend(err, "revoke group %s", uri)
		}
	case domain.ResourceBucket:
		lock(domain.ScopeURI(domain.ResourceGroup, uri))
		lock(domain.ScopeURI(domain.ResourceCollection, uri))
		collections, err := s.store.List(ctx, domain.ResourceCollection, uri, domain.Filter{})
		if err != nil {
			return release, err
		}
		for _, c := range collections {
			lock(domain.ScopeURI(domain.ResourceRecord, c.URI()))
		}
		groups, err := s.store.List(ctx, domain.ResourceGroup, uri, domain.Filter{})
		if err != nil {
			return release, err
		}
		for _, g := range groups {
			if err := s.engine.RevokeGroup(ctx, g); err != nil {
				return release, domain.ErrBackend(err, "revoke group %s", g.URI())
			}
		}
		if err := s.engine.DropACLs(ctx, uri); err != nil {
			return release, domain.ErrBackend(err, "drop acls under %s", uri)
		}
		if _, err := s.store.DeleteAll(ctx, domain.ResourceGroup, uri, domain.Filter{}); err != nil {
			return release, err
		}
		for _, c := range collections {
			if _, err := s.store.DeleteAll(ctx, domain.ResourceRecord, c.URI(), domain.Filter{}); err != nil {
				return release, err
			}
		}
		if _, err := s.store.DeleteAll(ctx, domain.ResourceCollection, uri, domain.Filter{}); err != nil {
			return release, err
		}
		return release, nil
	case domain.ResourceCollection:
		lock(domain.ScopeURI(domain.ResourceRecord, uri))
		if err := s.engine.DropACLs(ctx, uri); err != nil {
			return release, domain.ErrBackend(err, "drop acls under %s", uri)
		}
		if _, err := s.store.DeleteAll(ctx, domain.ResourceRecord, uri, domain.Filter{}); err != nil {
			return release, err
		}
		return release, nil
	}

	if err := s.engine.DropACLs(ctx, uri); err != nil {
		return release, domain.ErrBackend(err, "drop acls under %s", uri)
	}
	return release, nil
}

// DeleteAll tombstones every object in a scope matching the filter (bulk
// DELETE on a plural endpoint). Requires write on the parent object. The net
// effect on the user-principal index is identical to deleting each object
// individually in any order.
func (s *Service) DeleteAll(ctx context.Context, identity string, t domain.ResourceType, parentID string, f domain.Filter) ([]domain.DeletedObject, error) {
	parentType, grandParent, parentObjID := parseObjectURI(parentID)
	if err := s.authorize(ctx, identity, parentType, parentID, "write"); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, parentType, grandParent, parentObjID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(domain.ScopeURI(t, parentID))
	defer unlock()

	victims, err := s.store.List(ctx, t, parentID, f)
	if err != nil {
		return nil, err
	}

	for _, v := range victims {
		if t == domain.ResourceGroup {
			if err := s.engine.RevokeGroup(ctx, v); err != nil {
				return nil, domain.ErrBackend(err, "revoke group %s", v.URI())
			}
		}
		if t == domain.ResourceCollection {
			// Held until the collections themselves are tombstoned below.
			unlockRecords := s.locks.lock(domain.ScopeURI(domain.ResourceRecord, v.URI()))
			defer unlockRecords()
		}
		if err := s.engine.DropACLs(ctx, v.URI()); err != nil {
			return nil, domain.ErrBackend(err, "drop acls under %s", v.URI())
		}
		if t == domain.ResourceCollection {
			if _, err := s.store.DeleteAll(ctx, domain.ResourceRecord, v.URI(), domain.Filter{}); err != nil {
				return nil, err
			}
		}
	}

	tombs, err := s.store.DeleteAll(ctx, t, parentID, f)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DeletedObject, len(tombs))
	for i, tomb := range tombs {
		out[i] = domain.DeletedObject{ID: tomb.ID, LastModified: tomb.LastModified}
	}
	s.logger.Info("bulk delete", "scope", domain.ScopeURI(t, parentID), "count", len(out))
	return out, nil
}

// validateData applies per-resource body validation: groups must carry a
// well-formed members list.
func validateData(t domain.ResourceType, data map[string]interface{}) error {
	if t == domain.ResourceGroup {
		if _, err := domain.MemberList(data); err != nil {
			return err
		}
	}
	return nil
}
