package domain

import "strings"

// Well-known system principals.
const (
	Everyone      = "system.Everyone"
	Authenticated = "system.Authenticated"
)

// PrincipalKind distinguishes the three principal variants.
type PrincipalKind int

const (
	PrincipalUser PrincipalKind = iota
	PrincipalGroup
	PrincipalSystem
)

// KindOfPrincipal classifies a principal string. Group principals use the
// stable "/buckets/{b}/groups/{g}" URI form; everything else that is not a
// system principal is a user.
func KindOfPrincipal(p string) PrincipalKind {
	switch {
	case p == Everyone || p == Authenticated:
		return PrincipalSystem
	case isGroupPrincipal(p):
		return PrincipalGroup
	default:
		return PrincipalUser
	}
}

// GroupPrincipal returns the principal granted by membership in a group,
// which is the group object's own URI.
func GroupPrincipal(bucketID, groupID string) string {
	return "/buckets/" + bucketID + "/groups/" + groupID
}

func isGroupPrincipal(p string) bool {
	if !strings.HasPrefix(p, "/buckets/") {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	return len(parts) == 4 && parts[0] == "buckets" && parts[2] == "groups"
}

// PrincipalSet is an ordered-irrelevant set of principal strings.
type PrincipalSet map[string]struct{}

// NewPrincipalSet builds a set from the given principals.
func NewPrincipalSet(principals ...string) PrincipalSet {
	s := make(PrincipalSet, len(principals))
	for _, p := range principals {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts a principal.
func (s PrincipalSet) Add(p string) { s[p] = struct{}{} }

// Has reports membership.
func (s PrincipalSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the set as a slice. Order is unspecified.
func (s PrincipalSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}
