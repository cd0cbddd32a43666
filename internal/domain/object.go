package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ResourceType identifies the kind of stored object.
type ResourceType string

const (
	ResourceBucket     ResourceType = "bucket"
	ResourceCollection ResourceType = "collection"
	ResourceGroup      ResourceType = "group"
	ResourceRecord     ResourceType = "record"
)

// PathSegment returns the URI path segment for the resource type
// ("buckets", "collections", "groups", "records").
func (t ResourceType) PathSegment() string {
	return string(t) + "s"
}

// Object is a stored entity: bucket, collection, group, or record.
// ParentID is the URI of the enclosing scope ("" for buckets,
// "/buckets/blog" for a group or collection, "/buckets/blog/collections/posts"
// for a record).
type Object struct {
	Type         ResourceType
	ParentID     string
	ID           string
	Data         map[string]interface{}
	LastModified int64
	Deleted      bool
}

// URI returns the canonical object identifier, e.g.
// "/buckets/blog/groups/moderators". ACLs and the user-principal index key
// on this value.
func (o *Object) URI() string {
	return ObjectURI(o.Type, o.ParentID, o.ID)
}

// ScopeURI returns the listing scope the object belongs to, e.g.
// "/buckets/blog/groups". Scope timestamps are partitioned on this value.
func (o *Object) ScopeURI() string {
	return ScopeURI(o.Type, o.ParentID)
}

// ObjectURI builds the canonical URI for an object identified by type,
// parent scope, and id.
func ObjectURI(t ResourceType, parentID, id string) string {
	return ScopeURI(t, parentID) + "/" + id
}

// ScopeURI builds the listing-scope URI for a resource type under a parent.
func ScopeURI(t ResourceType, parentID string) string {
	return parentID + "/" + t.PathSegment()
}

// AncestorURIs returns the URIs of the object's ancestors, nearest first.
// "/buckets/b/collections/c/records/r" yields
// ["/buckets/b/collections/c", "/buckets/b"].
func AncestorURIs(uri string) []string {
	var out []string
	parts := strings.Split(strings.TrimPrefix(uri, "/"), "/")
	// URI alternates segment/id pairs; drop one pair at a time.
	for len(parts) > 2 {
		parts = parts[:len(parts)-2]
		out = append(out, "/"+strings.Join(parts, "/"))
	}
	return out
}

// simpleName matches client-chosen object ids: alphanumeric plus "-"/"_",
// starting and ending with an alphanumeric. This rejects reserved markers
// such as "__id__".
var simpleName = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9_-]*[a-zA-Z0-9])?$`)

// ValidateObjectID rejects ids that are not simple names.
func ValidateObjectID(id string) error {
	if !simpleName.MatchString(id) {
		return ErrValidation("invalid object id %q", id)
	}
	return nil
}

// ETag renders a timestamp as a quoted decimal, the wire form used by the
// ETag response header and If-Match request header.
func ETag(timestamp int64) string {
	return `"` + strconv.FormatInt(timestamp, 10) + `"`
}

// ParseETag parses a quoted decimal ETag back into a timestamp.
func ParseETag(etag string) (int64, error) {
	s := strings.TrimSpace(etag)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return 0, fmt.Errorf("malformed etag %q", etag)
	}
	ts, err := strconv.ParseInt(s[1:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed etag %q", etag)
	}
	return ts, nil
}

// MemberList extracts the group's members field. Returns a ValidationError
// when the field is missing or not a list of strings.
func MemberList(data map[string]interface{}) ([]string, error) {
	raw, ok := data["members"]
	if !ok {
		return nil, ErrValidation("groups must have a members attribute")
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		members := make([]string, len(v))
		for i, m := range v {
			s, ok := m.(string)
			if !ok {
				return nil, ErrValidation("group members must be strings")
			}
			members[i] = s
		}
		return members, nil
	default:
		return nil, ErrValidation("group members must be a list")
	}
}
