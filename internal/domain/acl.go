package domain

import "sort"

// ACL maps a permission name to the principals it is granted to.
type ACL map[string][]string

// Clone returns a deep copy with each principal list sorted and deduplicated.
func (a ACL) Clone() ACL {
	out := make(ACL, len(a))
	for perm, principals := range a {
		seen := make(map[string]struct{}, len(principals))
		var list []string
		for _, p := range principals {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				list = append(list, p)
			}
		}
		sort.Strings(list)
		out[perm] = list
	}
	return out
}

// Grant adds a principal to a permission entry if not already present.
func (a ACL) Grant(permission, principal string) {
	for _, p := range a[permission] {
		if p == principal {
			return
		}
	}
	a[permission] = append(a[permission], principal)
	sort.Strings(a[permission])
}

// Principals returns every principal named anywhere in the ACL.
func (a ACL) Principals() PrincipalSet {
	s := make(PrincipalSet)
	for _, principals := range a {
		for _, p := range principals {
			s.Add(p)
		}
	}
	return s
}

// ancestorLevel addresses an object or one of its ancestors in the
// inheritance table: 0 is the object itself, 1 its immediate parent object,
// 2 the enclosing bucket.
type ancestorLevel int

const (
	onSelf ancestorLevel = iota
	onParent
	onBucket
)

// InheritedACE is one (object, permission) pair to test when authorizing.
type InheritedACE struct {
	ObjectURI  string
	Permission string
}

// aclRef is a row of the static inheritance table.
type aclRef struct {
	level      ancestorLevel
	permission string
}

// inheritanceTable is the fixed per-resource-type permission implication
// table. For each requested permission it lists which permission on which
// level of the hierarchy grants it. Write always implies read; write on an
// ancestor implies write below it; the ":create" permissions on a parent are
// implied by write on that parent or above.
var inheritanceTable = map[ResourceType]map[string][]aclRef{
	ResourceBucket: {
		"write":             {{onSelf, "write"}},
		"read":              {{onSelf, "read"}, {onSelf, "write"}},
		"collection:create": {{onSelf, "collection:create"}, {onSelf, "write"}},
		"group:create":      {{onSelf, "group:create"}, {onSelf, "write"}},
	},
	ResourceGroup: {
		"write": {{onSelf, "write"}, {onParent, "write"}},
		"read":  {{onSelf, "read"}, {onSelf, "write"}, {onParent, "read"}, {onParent, "write"}},
	},
	ResourceCollection: {
		"write":         {{onSelf, "write"}, {onParent, "write"}},
		"read":          {{onSelf, "read"}, {onSelf, "write"}, {onParent, "read"}, {onParent, "write"}},
		"record:create": {{onSelf, "record:create"}, {onSelf, "write"}, {onParent, "write"}},
	},
	ResourceRecord: {
		"write": {{onSelf, "write"}, {onParent, "write"}, {onBucket, "write"}},
		"read": {
			{onSelf, "read"}, {onSelf, "write"},
			{onParent, "read"}, {onParent, "write"},
			{onBucket, "read"}, {onBucket, "write"},
		},
	},
}

// InheritedACEs expands a permission check on an object into the bounded list
// of (object URI, permission) pairs whose ACL entries grant it. The list is
// ordered nearest-first so direct grants short-circuit.
func InheritedACEs(t ResourceType, objectURI, permission string) []InheritedACE {
	refs, ok := inheritanceTable[t][permission]
	if !ok {
		// Unknown permission names only match a direct grant.
		return []InheritedACE{{ObjectURI: objectURI, Permission: permission}}
	}
	ancestors := AncestorURIs(objectURI)
	out := make([]InheritedACE, 0, len(refs))
	for _, ref := range refs {
		switch ref.level {
		case onSelf:
			out = append(out, InheritedACE{ObjectURI: objectURI, Permission: ref.permission})
		case onParent:
			if len(ancestors) > 0 {
				out = append(out, InheritedACE{ObjectURI: ancestors[0], Permission: ref.permission})
			}
		case onBucket:
			if len(ancestors) > 1 {
				out = append(out, InheritedACE{ObjectURI: ancestors[len(ancestors)-1], Permission: ref.permission})
			}
		}
	}
	return out
}

// ChildCreatePermission names the permission required on a parent object to
// create a child of the given type under it ("collection:create" on a bucket,
// "record:create" on a collection, ...).
func ChildCreatePermission(child ResourceType) string {
	return string(child) + ":create"
}
