package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfstore/internal/domain"
)

func newRecord(id string, data map[string]interface{}) *domain.Object {
	return &domain.Object{
		Type:     domain.ResourceRecord,
		ParentID: "/buckets/blog/collections/posts",
		ID:       id,
		Data:     data,
	}
}

func TestCreateGetConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	stored, err := s.Create(ctx, newRecord("a", map[string]interface{}{"title": "one"}))
	require.NoError(t, err)
	assert.Greater(t, stored.LastModified, int64(0))

	got, err := s.Get(ctx, domain.ResourceRecord, "/buckets/blog/collections/posts", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Data["title"])

	_, err = s.Create(ctx, newRecord("a", nil))
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	s := New()

	var last int64
	for i := 0; i < 50; i++ {
		obj, err := s.Update(ctx, newRecord("a", nil))
		require.NoError(t, err)
		assert.Greater(t, obj.LastModified, last)
		last = obj.LastModified
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	s := New()
	parent := "/buckets/blog/collections/posts"

	created, err := s.Create(ctx, newRecord("a", map[string]interface{}{"title": "one"}))
	require.NoError(t, err)

	tomb, err := s.Delete(ctx, domain.ResourceRecord, parent, "a")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Greater(t, tomb.LastModified, created.LastModified)
	assert.Empty(t, tomb.Data, "tombstones carry no attributes")

	_, err = s.Get(ctx, domain.ResourceRecord, parent, "a")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	// Double delete is NotFound too.
	_, err = s.Delete(ctx, domain.ResourceRecord, parent, "a")
	assert.ErrorAs(t, err, &notFound)

	// Re-creating under the same id revives the object.
	revived, err := s.Create(ctx, newRecord("a", map[string]interface{}{"title": "two"}))
	require.NoError(t, err)
	assert.Greater(t, revived.LastModified, tomb.LastModified)
}

func TestListFiltersAndTombstones(t *testing.T) {
	ctx := context.Background()
	s := New()
	parent := "/buckets/blog/collections/posts"

	a, err := s.Create(ctx, newRecord("a", map[string]interface{}{"status": "draft"}))
	require.NoError(t, err)
	_, err = s.Create(ctx, newRecord("b", map[string]interface{}{"status": "published"}))
	require.NoError(t, err)
	tomb, err := s.Delete(ctx, domain.ResourceRecord, parent, "b")
	require.NoError(t, err)

	// Plain listing skips tombstones.
	objs, err := s.List(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)

	// _since includes tombstones and returns ascending order.
	since := a.LastModified - 1
	objs, err = s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Since: &since})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a", objs[0].ID)
	assert.Equal(t, "b", objs[1].ID)
	assert.True(t, objs[1].Deleted)

	// _since is exclusive.
	since = tomb.LastModified
	objs, err = s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Since: &since})
	require.NoError(t, err)
	assert.Empty(t, objs)

	// Field filters match live objects only.
	objs, err = s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Fields: map[string]interface{}{"status": "draft"}})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)
}

func TestListBeforeBound(t *testing.T) {
	ctx := context.Background()
	s := New()
	parent := "/buckets/blog/collections/posts"

	a, err := s.Create(ctx, newRecord("a", nil))
	require.NoError(t, err)
	b, err := s.Create(ctx, newRecord("b", nil))
	require.NoError(t, err)

	// _before is an exclusive upper bound.
	before := b.LastModified
	objs, err := s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)

	before = a.LastModified
	objs, err = s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	assert.Empty(t, objs)

	// A bounded page does not grow when later writes land in the scope.
	before = b.LastModified + 1
	page, err := s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	require.Len(t, page, 2)

	_, err = s.Create(ctx, newRecord("c", nil))
	require.NoError(t, err)
	again, err := s.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	assert.Equal(t, page, again)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := New()
	parent := "/buckets/blog/collections/posts"

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Create(ctx, newRecord(id, nil))
		require.NoError(t, err)
	}

	tombs, err := s.DeleteAll(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, tombs, 3)
	for i := 1; i < len(tombs); i++ {
		assert.Greater(t, tombs[i].LastModified, tombs[i-1].LastModified)
	}

	objs, err := s.List(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestScopeTimestampMaterializes(t *testing.T) {
	ctx := context.Background()
	s := New()

	ts1, err := s.ScopeTimestamp(ctx, "/buckets/blog/collections/posts/records")
	require.NoError(t, err)
	assert.Greater(t, ts1, int64(0))

	// Stable until something changes in the scope.
	ts2, err := s.ScopeTimestamp(ctx, "/buckets/blog/collections/posts/records")
	require.NoError(t, err)
	assert.Equal(t, ts1, ts2)

	ts3, err := s.BumpTimestamp(ctx, "/buckets/blog/collections/posts/records")
	require.NoError(t, err)
	assert.Greater(t, ts3, ts2)
}

func TestACLLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	acl, err := s.GetACL(ctx, "/buckets/blog")
	require.NoError(t, err)
	assert.Empty(t, acl, "unknown object has an empty ACL")

	err = s.ReplaceACL(ctx, "/buckets/blog", domain.ACL{"write": {"account:alexis"}})
	require.NoError(t, err)

	ok, err := s.HasAnyPrincipal(ctx, "/buckets/blog", "write", []string{"account:alexis", domain.Everyone})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasAnyPrincipal(ctx, "/buckets/blog", "write", []string{"account:natim"})
	require.NoError(t, err)
	assert.False(t, ok)

	// DeleteACLs drops the object and everything below it.
	err = s.ReplaceACL(ctx, "/buckets/blog/collections/posts", domain.ACL{"read": {domain.Everyone}})
	require.NoError(t, err)
	err = s.DeleteACLs(ctx, "/buckets/blog")
	require.NoError(t, err)

	for _, uri := range []string{"/buckets/blog", "/buckets/blog/collections/posts"} {
		acl, err = s.GetACL(ctx, uri)
		require.NoError(t, err)
		assert.Empty(t, acl)
	}
}

func TestPurgePrincipal(t *testing.T) {
	ctx := context.Background()
	s := New()
	group := "/buckets/blog/groups/moderators"

	require.NoError(t, s.ReplaceACL(ctx, "/buckets/blog", domain.ACL{"write": {group, "account:alexis"}}))
	require.NoError(t, s.ReplaceACL(ctx, "/buckets/other", domain.ACL{"read": {group}}))

	require.NoError(t, s.PurgePrincipal(ctx, group))

	acl, err := s.GetACL(ctx, "/buckets/blog")
	require.NoError(t, err)
	assert.Equal(t, domain.ACL{"write": {"account:alexis"}}, acl)

	acl, err = s.GetACL(ctx, "/buckets/other")
	require.NoError(t, err)
	assert.Empty(t, acl)
}

func TestUserPrincipalIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	mods := "/buckets/blog/groups/moderators"
	admins := "/buckets/blog/groups/admins"

	require.NoError(t, s.AddUserPrincipal(ctx, "account:alexis", mods))
	require.NoError(t, s.AddUserPrincipal(ctx, "account:alexis", admins))
	require.NoError(t, s.AddUserPrincipal(ctx, "account:alexis", mods)) // idempotent

	got, err := s.UserPrincipals(ctx, "account:alexis")
	require.NoError(t, err)
	assert.Equal(t, []string{admins, mods}, got)

	require.NoError(t, s.RemoveUserPrincipal(ctx, "account:alexis", mods))
	require.NoError(t, s.RemoveUserPrincipal(ctx, "account:alexis", mods)) // idempotent

	got, err = s.UserPrincipals(ctx, "account:alexis")
	require.NoError(t, err)
	assert.Equal(t, []string{admins}, got)

	got, err = s.UserPrincipals(ctx, "account:unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}
