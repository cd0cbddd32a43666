package domain

// Filter narrows a listing. Since/Before are exclusive bounds on
// last_modified; Since additionally pulls tombstones into the result so
// clients can observe deletions. Fields holds simple equality filters
// against top-level data keys.
type Filter struct {
	Since  *int64
	Before *int64
	Fields map[string]interface{}
	Limit  int
}

// IncludeDeleted reports whether tombstones belong in the result.
func (f Filter) IncludeDeleted() bool {
	return f.Since != nil
}

// Matches applies the field equality filters to an object's data.
func (f Filter) Matches(o *Object) bool {
	if f.Since != nil && o.LastModified <= *f.Since {
		return false
	}
	if f.Before != nil && o.LastModified >= *f.Before {
		return false
	}
	if o.Deleted {
		// Tombstones carry no data; they only match timestamp bounds.
		return f.IncludeDeleted() && len(f.Fields) == 0
	}
	for k, want := range f.Fields {
		if o.Data[k] != want {
			return false
		}
	}
	return true
}

// DeletedObject summarizes a tombstoned object for cascade-delete responses
// and incremental sync reconciliation.
type DeletedObject struct {
	ID           string `json:"id"`
	LastModified int64  `json:"last_modified"`
}
