package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfstore/internal/domain"
	"shelfstore/internal/storage/memory"
)

func setupEngine(t *testing.T) (*PermissionService, *Resolver, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewPermissionService(store), NewResolver(store), store
}

func TestCheckDirectAndInheritedGrants(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setupEngine(t)

	require.NoError(t, store.ReplaceACL(ctx, "/buckets/blog", domain.ACL{"write": {"account:alexis"}}))

	// write on the bucket implies everything below it.
	record := "/buckets/blog/collections/posts/records/42"
	ok, err := engine.Check(ctx, []string{"account:alexis"}, domain.ResourceRecord, record, "read")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = engine.Check(ctx, []string{"account:alexis"}, domain.ResourceRecord, record, "write")
	require.NoError(t, err)
	assert.True(t, ok)

	// read on the bucket does not imply write on a record.
	require.NoError(t, store.ReplaceACL(ctx, "/buckets/blog", domain.ACL{"read": {"account:natim"}}))
	ok, err = engine.Check(ctx, []string{"account:natim"}, domain.ResourceRecord, record, "write")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = engine.Check(ctx, []string{"account:natim"}, domain.ResourceRecord, record, "read")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckGroupPrincipalGrant(t *testing.T) {
	ctx := context.Background()
	engine, resolver, store := setupEngine(t)
	mods := "/buckets/blog/groups/moderators"

	require.NoError(t, store.ReplaceACL(ctx, "/buckets/blog/collections/posts", domain.ACL{"write": {mods}}))
	require.NoError(t, store.AddUserPrincipal(ctx, "account:alexis", mods))

	principals, err := resolver.Resolve(ctx, "account:alexis")
	require.NoError(t, err)

	ok, err := engine.Check(ctx, principals, domain.ResourceCollection, "/buckets/blog/collections/posts", "write")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolvePrincipals(t *testing.T) {
	ctx := context.Background()
	_, resolver, store := setupEngine(t)

	// Anonymous callers only carry Everyone.
	principals, err := resolver.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.Everyone}, principals)

	mods := "/buckets/blog/groups/moderators"
	require.NoError(t, store.AddUserPrincipal(ctx, "account:alexis", mods))

	principals, err = resolver.Resolve(ctx, "account:alexis")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"account:alexis", domain.Everyone, domain.Authenticated, mods}, principals)
}

func TestSeedACLGrantsCreatorWrite(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setupEngine(t)

	require.NoError(t, engine.SeedACL(ctx, "/buckets/blog", "account:alexis", domain.ACL{"read": {domain.Everyone}}))

	acl, err := store.GetACL(ctx, "/buckets/blog")
	require.NoError(t, err)
	assert.Equal(t, domain.ACL{
		"read":  {domain.Everyone},
		"write": {"account:alexis"},
	}, acl)

	// Anonymous creation seeds only the requested entries.
	require.NoError(t, engine.SeedACL(ctx, "/buckets/open", "", domain.ACL{"write": {domain.Everyone}}))
	acl, err = store.GetACL(ctx, "/buckets/open")
	require.NoError(t, err)
	assert.Equal(t, domain.ACL{"write": {domain.Everyone}}, acl)
}

func TestReconcileGroupSymmetricDifference(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setupEngine(t)
	mods := "/buckets/blog/groups/moderators"

	require.NoError(t, engine.ReconcileGroup(ctx, mods, nil, []string{"account:a", "account:b"}))
	got, err := store.UserPrincipals(ctx, "account:a")
	require.NoError(t, err)
	assert.Equal(t, []string{mods}, got)

	// Replace b with c.
	require.NoError(t, engine.ReconcileGroup(ctx, mods, []string{"account:a", "account:b"}, []string{"account:a", "account:c"}))
	got, err = store.UserPrincipals(ctx, "account:b")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = store.UserPrincipals(ctx, "account:c")
	require.NoError(t, err)
	assert.Equal(t, []string{mods}, got)

	// Applying the same change twice is a no-op.
	require.NoError(t, engine.ReconcileGroup(ctx, mods, []string{"account:a", "account:c"}, []string{"account:a", "account:c"}))
	got, err = store.UserPrincipals(ctx, "account:a")
	require.NoError(t, err)
	assert.Equal(t, []string{mods}, got)
}

func TestRevokeGroup(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setupEngine(t)
	mods := "/buckets/blog/groups/moderators"

	group := &domain.Object{
		Type:     domain.ResourceGroup,
		ParentID: "/buckets/blog",
		ID:       "moderators",
		Data:     map[string]interface{}{"members": []interface{}{"account:alexis"}},
	}
	require.NoError(t, engine.ReconcileGroup(ctx, mods, nil, []string{"account:alexis"}))
	// The group principal holds grants in two different buckets.
	require.NoError(t, store.ReplaceACL(ctx, "/buckets/blog/collections/posts", domain.ACL{"write": {mods}}))
	require.NoError(t, store.ReplaceACL(ctx, "/buckets/other", domain.ACL{"read": {mods, "account:natim"}}))

	require.NoError(t, engine.RevokeGroup(ctx, group))

	got, err := store.UserPrincipals(ctx, "account:alexis")
	require.NoError(t, err)
	assert.Empty(t, got)

	acl, err := store.GetACL(ctx, "/buckets/blog/collections/posts")
	require.NoError(t, err)
	assert.Empty(t, acl)
	acl, err = store.GetACL(ctx, "/buckets/other")
	require.NoError(t, err)
	assert.Equal(t, domain.ACL{"read": {"account:natim"}}, acl)
}

func TestDiffMembers(t *testing.T) {
	d := diffMembers([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, d.added)
	assert.Equal(t, []string{"a"}, d.removed)

	d = diffMembers(nil, nil)
	assert.Empty(t, d.added)
	assert.Empty(t, d.removed)
}
