package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "shelfstore/internal/db"
	"shelfstore/internal/domain"
)

func setupObjectRepo(t *testing.T) *ObjectRepo {
	t.Helper()
	return NewObjectRepo(internaldb.OpenTestSQLite(t))
}

func record(id string, data map[string]interface{}) *domain.Object {
	return &domain.Object{
		Type:     domain.ResourceRecord,
		ParentID: "/buckets/blog/collections/posts",
		ID:       id,
		Data:     data,
	}
}

func TestObjectRepoCreateGet(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)

	stored, err := repo.Create(ctx, record("a", map[string]interface{}{"title": "one"}))
	require.NoError(t, err)
	assert.Greater(t, stored.LastModified, int64(0))

	got, err := repo.Get(ctx, domain.ResourceRecord, "/buckets/blog/collections/posts", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Data["title"])
	assert.Equal(t, stored.LastModified, got.LastModified)

	_, err = repo.Get(ctx, domain.ResourceRecord, "/buckets/blog/collections/posts", "missing")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = repo.Create(ctx, record("a", nil))
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestObjectRepoScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)

	_, err := repo.Create(ctx, record("a", nil))
	require.NoError(t, err)

	// Same id in a sibling collection does not collide.
	other := &domain.Object{
		Type:     domain.ResourceRecord,
		ParentID: "/buckets/blog/collections/drafts",
		ID:       "a",
		Data:     map[string]interface{}{},
	}
	_, err = repo.Create(ctx, other)
	require.NoError(t, err)
}

func TestObjectRepoDeleteAndRevive(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)
	parent := "/buckets/blog/collections/posts"

	created, err := repo.Create(ctx, record("a", map[string]interface{}{"title": "one"}))
	require.NoError(t, err)

	tomb, err := repo.Delete(ctx, domain.ResourceRecord, parent, "a")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Greater(t, tomb.LastModified, created.LastModified)

	var notFound *domain.NotFoundError
	_, err = repo.Get(ctx, domain.ResourceRecord, parent, "a")
	assert.ErrorAs(t, err, &notFound)
	_, err = repo.Delete(ctx, domain.ResourceRecord, parent, "a")
	assert.ErrorAs(t, err, &notFound)

	// Create over a tombstone revives the id with a fresh timestamp.
	revived, err := repo.Create(ctx, record("a", map[string]interface{}{"title": "two"}))
	require.NoError(t, err)
	assert.Greater(t, revived.LastModified, tomb.LastModified)
}

func TestObjectRepoListSinceIncludesTombstones(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)
	parent := "/buckets/blog/collections/posts"

	a, err := repo.Create(ctx, record("a", map[string]interface{}{"status": "draft"}))
	require.NoError(t, err)
	_, err = repo.Create(ctx, record("b", map[string]interface{}{"status": "published"}))
	require.NoError(t, err)
	_, err = repo.Delete(ctx, domain.ResourceRecord, parent, "b")
	require.NoError(t, err)

	objs, err := repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)

	since := a.LastModified - 1
	objs, err = repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Since: &since})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.False(t, objs[0].Deleted)
	assert.True(t, objs[1].Deleted)

	// Field filter runs on decoded data.
	objs, err = repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Fields: map[string]interface{}{"status": "draft"}})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)
}

func TestObjectRepoListBeforeBound(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)
	parent := "/buckets/blog/collections/posts"

	a, err := repo.Create(ctx, record("a", nil))
	require.NoError(t, err)
	b, err := repo.Create(ctx, record("b", nil))
	require.NoError(t, err)

	// The upper bound is exclusive.
	before := b.LastModified
	objs, err := repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)

	before = a.LastModified
	objs, err = repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	assert.Empty(t, objs)

	// A bounded page stays stable while later writes land in the scope.
	before = b.LastModified + 1
	page, err := repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	require.Len(t, page, 2)

	_, err = repo.Create(ctx, record("c", nil))
	require.NoError(t, err)
	again, err := repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{Before: &before})
	require.NoError(t, err)
	assert.Equal(t, page, again)
}

func TestObjectRepoDeleteAllStampsAscending(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)
	parent := "/buckets/blog/collections/posts"

	for _, id := range []string{"c", "a", "b"} {
		_, err := repo.Create(ctx, record(id, nil))
		require.NoError(t, err)
	}

	tombs, err := repo.DeleteAll(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, tombs, 3)
	for i := 1; i < len(tombs); i++ {
		assert.Greater(t, tombs[i].LastModified, tombs[i-1].LastModified)
	}

	objs, err := repo.List(ctx, domain.ResourceRecord, parent, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestObjectRepoScopeTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := setupObjectRepo(t)
	scope := "/buckets/blog/collections/posts/records"

	ts1, err := repo.ScopeTimestamp(ctx, scope)
	require.NoError(t, err)
	assert.Greater(t, ts1, int64(0))

	ts2, err := repo.ScopeTimestamp(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ts1, ts2, "stable until the scope changes")

	obj, err := repo.Create(ctx, record("a", nil))
	require.NoError(t, err)
	assert.Greater(t, obj.LastModified, ts2)

	ts3, err := repo.ScopeTimestamp(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, obj.LastModified, ts3)
}

func TestSplitScopeURI(t *testing.T) {
	typ, parent := splitScopeURI("/buckets/blog/groups")
	assert.Equal(t, domain.ResourceGroup, typ)
	assert.Equal(t, "/buckets/blog", parent)

	typ, parent = splitScopeURI("/buckets")
	assert.Equal(t, domain.ResourceBucket, typ)
	assert.Equal(t, "", parent)
}
