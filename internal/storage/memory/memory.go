// Package memory provides an in-process storage engine implementing the
// domain ObjectStore and PermissionStore ports. It backs unit tests and the
// zero-configuration development server.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shelfstore/internal/domain"
)

type objectKey struct {
	t      domain.ResourceType
	parent string
	id     string
}

// Store keeps objects, ACLs, the user-principal index, and per-scope
// timestamp counters in maps guarded by a single RWMutex. Timestamps are
// millisecond epoch values, bumped past the last issued value on collision.
type Store struct {
	mu         sync.RWMutex
	objects    map[objectKey]*domain.Object
	timestamps map[string]int64
	acls       map[string]domain.ACL
	userIndex  map[string]map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects:    make(map[objectKey]*domain.Object),
		timestamps: make(map[string]int64),
		acls:       make(map[string]domain.ACL),
		userIndex:  make(map[string]map[string]struct{}),
	}
}

var _ domain.ObjectStore = (*Store)(nil)
var _ domain.PermissionStore = (*Store)(nil)

// bump advances the scope counter under the write lock.
func (s *Store) bump(scopeURI string) int64 {
	now := time.Now().UnixMilli()
	if last := s.timestamps[scopeURI]; now <= last {
		now = last + 1
	}
	s.timestamps[scopeURI] = now
	return now
}

func cloneObject(o *domain.Object) *domain.Object {
	out := *o
	if o.Data != nil {
		out.Data = make(map[string]interface{}, len(o.Data))
		for k, v := range o.Data {
			out.Data[k] = v
		}
	}
	return &out
}

// Get implements domain.ObjectStore.
func (s *Store) Get(_ context.Context, t domain.ResourceType, parentID, id string) (*domain.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[objectKey{t, parentID, id}]
	if !ok || o.Deleted {
		return nil, domain.ErrNotFound("%s %q not found", t, id)
	}
	return cloneObject(o), nil
}

// Create implements domain.ObjectStore.
func (s *Store) Create(_ context.Context, obj *domain.Object) (*domain.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey{obj.Type, obj.ParentID, obj.ID}
	if existing, ok := s.objects[key]; ok && !existing.Deleted {
		return nil, domain.ErrConflict("%s %q already exists", obj.Type, obj.ID)
	}
	stored := cloneObject(obj)
	stored.Deleted = false
	stored.LastModified = s.bump(obj.ScopeURI())
	s.objects[key] = stored
	return cloneObject(stored), nil
}

// Update implements domain.ObjectStore.
func (s *Store) Update(_ context.Context, obj *domain.Object) (*domain.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneObject(obj)
	stored.Deleted = false
	stored.LastModified = s.bump(obj.ScopeURI())
	s.objects[objectKey{obj.Type, obj.ParentID, obj.ID}] = stored
	return cloneObject(stored), nil
}

// Delete implements domain.ObjectStore.
func (s *Store) Delete(_ context.Context, t domain.ResourceType, parentID, id string) (*domain.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey{t, parentID, id}
	o, ok := s.objects[key]
	if !ok || o.Deleted {
		return nil, domain.ErrNotFound("%s %q not found", t, id)
	}
	tomb := &domain.Object{
		Type:         t,
		ParentID:     parentID,
		ID:           id,
		Deleted:      true,
		LastModified: s.bump(domain.ScopeURI(t, parentID)),
	}
	s.objects[key] = tomb
	return cloneObject(tomb), nil
}

// List implements domain.ObjectStore.
func (s *Store) List(_ context.Context, t domain.ResourceType, parentID string, f domain.Filter) ([]*domain.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Object
	for key, o := range s.objects {
		if key.t != t || key.parent != parentID {
			continue
		}
		if o.Deleted && !f.IncludeDeleted() {
			continue
		}
		if !f.Matches(o) {
			continue
		}
		out = append(out, cloneObject(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified < out[j].LastModified })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteAll implements domain.ObjectStore.
func (s *Store) DeleteAll(_ context.Context, t domain.ResourceType, parentID string, f domain.Filter) ([]*domain.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := domain.ScopeURI(t, parentID)
	var keys []objectKey
	for key, o := range s.objects {
		if key.t != t || key.parent != parentID || o.Deleted {
			continue
		}
		if !f.Matches(o) {
			continue
		}
		keys = append(keys, key)
	}
	// Deterministic stamping order keeps timestamps unique and ascending.
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	tombs := make([]*domain.Object, 0, len(keys))
	for _, key := range keys {
		tomb := &domain.Object{
			Type:         t,
			ParentID:     parentID,
			ID:           key.id,
			Deleted:      true,
			LastModified: s.bump(scope),
		}
		s.objects[key] = tomb
		tombs = append(tombs, cloneObject(tomb))
	}
	return tombs, nil
}

// ScopeTimestamp implements domain.ObjectStore.
func (s *Store) ScopeTimestamp(_ context.Context, scopeURI string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.timestamps[scopeURI]; ok {
		return ts, nil
	}
	return s.bump(scopeURI), nil
}

// BumpTimestamp implements domain.ObjectStore.
func (s *Store) BumpTimestamp(_ context.Context, scopeURI string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bump(scopeURI), nil
}

// --- PermissionStore ---

// GetACL implements domain.PermissionStore.
func (s *Store) GetACL(_ context.Context, objectURI string) (domain.ACL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acl, ok := s.acls[objectURI]
	if !ok {
		return domain.ACL{}, nil
	}
	return acl.Clone(), nil
}

// ReplaceACL implements domain.PermissionStore.
func (s *Store) ReplaceACL(_ context.Context, objectURI string, acl domain.ACL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean := acl.Clone()
	for perm, principals := range clean {
		if len(principals) == 0 {
			delete(clean, perm)
		}
	}
	if len(clean) == 0 {
		delete(s.acls, objectURI)
		return nil
	}
	s.acls[objectURI] = clean
	return nil
}

// DeleteACLs implements domain.PermissionStore.
func (s *Store) DeleteACLs(_ context.Context, objectURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := objectURI + "/"
	for uri := range s.acls {
		if uri == objectURI || strings.HasPrefix(uri, prefix) {
			delete(s.acls, uri)
		}
	}
	return nil
}

// HasAnyPrincipal implements domain.PermissionStore.
func (s *Store) HasAnyPrincipal(_ context.Context, objectURI, permission string, principals []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	granted := s.acls[objectURI][permission]
	if len(granted) == 0 {
		return false, nil
	}
	want := domain.NewPrincipalSet(principals...)
	for _, p := range granted {
		if want.Has(p) {
			return true, nil
		}
	}
	return false, nil
}

// PurgePrincipal implements domain.PermissionStore.
func (s *Store) PurgePrincipal(_ context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri, acl := range s.acls {
		changed := false
		for perm, principals := range acl {
			kept := principals[:0]
			for _, p := range principals {
				if p != principal {
					kept = append(kept, p)
				} else {
					changed = true
				}
			}
			if len(kept) == 0 {
				delete(acl, perm)
			} else {
				acl[perm] = kept
			}
		}
		if changed && len(acl) == 0 {
			delete(s.acls, uri)
		}
	}
	return nil
}

// AddUserPrincipal implements domain.PermissionStore.
func (s *Store) AddUserPrincipal(_ context.Context, user, groupPrincipal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.userIndex[user]
	if !ok {
		entry = make(map[string]struct{})
		s.userIndex[user] = entry
	}
	entry[groupPrincipal] = struct{}{}
	return nil
}

// RemoveUserPrincipal implements domain.PermissionStore.
func (s *Store) RemoveUserPrincipal(_ context.Context, user, groupPrincipal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.userIndex[user]
	if !ok {
		return nil
	}
	delete(entry, groupPrincipal)
	if len(entry) == 0 {
		delete(s.userIndex, user)
	}
	return nil
}

// UserPrincipals implements domain.PermissionStore.
func (s *Store) UserPrincipals(_ context.Context, user string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.userIndex[user]
	out := make([]string, 0, len(entry))
	for g := range entry {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}
