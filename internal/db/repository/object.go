// Package repository implements the domain storage ports on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"shelfstore/internal/domain"
)

// ObjectRepo implements domain.ObjectStore on SQLite. Every write runs in a
// transaction with its timestamp bump so a committed object and its stamp are
// observed together or not at all.
type ObjectRepo struct {
	db *sql.DB
}

// NewObjectRepo creates a new ObjectRepo.
func NewObjectRepo(db *sql.DB) *ObjectRepo {
	return &ObjectRepo{db: db}
}

var _ domain.ObjectStore = (*ObjectRepo)(nil)

// splitScopeURI breaks "/buckets/blog/groups" into the resource type
// ("group") and parent id ("/buckets/blog").
func splitScopeURI(scopeURI string) (domain.ResourceType, string) {
	idx := strings.LastIndex(scopeURI, "/")
	segment := scopeURI[idx+1:]
	return domain.ResourceType(strings.TrimSuffix(segment, "s")), scopeURI[:idx]
}

// bumpTx advances the scope timestamp inside tx. The new value is strictly
// greater than the last issued value and than any last_modified already
// stored in the scope, which also covers backend clock skew.
func bumpTx(ctx context.Context, tx *sql.Tx, scopeURI string) (int64, error) {
	t, parentID := splitScopeURI(scopeURI)

	var maxStored int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_modified), 0) FROM objects WHERE resource_type = ? AND parent_id = ?`,
		string(t), parentID).Scan(&maxStored)
	if err != nil {
		return 0, fmt.Errorf("max stored timestamp for %s: %w", scopeURI, err)
	}

	var last int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_modified FROM timestamps WHERE scope_uri = ?`, scopeURI).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("scope timestamp for %s: %w", scopeURI, err)
	}

	ts := time.Now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	if ts <= maxStored {
		ts = maxStored + 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO timestamps (scope_uri, last_modified) VALUES (?, ?)
		 ON CONFLICT (scope_uri) DO UPDATE SET last_modified = excluded.last_modified`,
		scopeURI, ts)
	if err != nil {
		return 0, fmt.Errorf("store scope timestamp for %s: %w", scopeURI, err)
	}
	return ts, nil
}

func scanObject(t domain.ResourceType, parentID string, row interface {
	Scan(dest ...interface{}) error
}) (*domain.Object, error) {
	var (
		id      string
		rawData string
		ts      int64
		deleted int64
	)
	if err := row.Scan(&id, &rawData, &ts, &deleted); err != nil {
		return nil, err
	}
	obj := &domain.Object{
		Type:         t,
		ParentID:     parentID,
		ID:           id,
		LastModified: ts,
		Deleted:      deleted != 0,
	}
	if !obj.Deleted {
		if err := json.Unmarshal([]byte(rawData), &obj.Data); err != nil {
			return nil, fmt.Errorf("decode object data for %s: %w", obj.URI(), err)
		}
	}
	return obj, nil
}

// Get implements domain.ObjectStore.
func (r *ObjectRepo) Get(ctx context.Context, t domain.ResourceType, parentID, id string) (*domain.Object, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, data, last_modified, deleted FROM objects
		 WHERE resource_type = ? AND parent_id = ? AND id = ? AND deleted = 0`,
		string(t), parentID, id)
	obj, err := scanObject(t, parentID, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("%s %q not found", t, id)
		}
		return nil, domain.ErrBackend(err, "get %s %q", t, id)
	}
	return obj, nil
}

// Create implements domain.ObjectStore.
func (r *ObjectRepo) Create(ctx context.Context, obj *domain.Object) (*domain.Object, error) {
	out, err := r.write(ctx, obj, true)
	return out, err
}

// Update implements domain.ObjectStore.
func (r *ObjectRepo) Update(ctx context.Context, obj *domain.Object) (*domain.Object, error) {
	return r.write(ctx, obj, false)
}

// write inserts or replaces an object row. When mustNotExist is set, a live
// row with the same key aborts with ConflictError.
func (r *ObjectRepo) write(ctx context.Context, obj *domain.Object, mustNotExist bool) (*domain.Object, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.ErrBackend(err, "begin write for %s", obj.URI())
	}
	defer tx.Rollback()

	if mustNotExist {
		var deleted int64
		err := tx.QueryRowContext(ctx,
			`SELECT deleted FROM objects WHERE resource_type = ? AND parent_id = ? AND id = ?`,
			string(obj.Type), obj.ParentID, obj.ID).Scan(&deleted)
		switch {
		case err == nil && deleted == 0:
			return nil, domain.ErrConflict("%s %q already exists", obj.Type, obj.ID)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, domain.ErrBackend(err, "check existing %s", obj.URI())
		}
	}

	ts, err := bumpTx(ctx, tx, obj.ScopeURI())
	if err != nil {
		return nil, domain.ErrBackend(err, "bump timestamp for %s", obj.ScopeURI())
	}

	rawData, err := json.Marshal(obj.Data)
	if err != nil {
		return nil, domain.ErrValidation("unencodable object data: %v", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO objects (resource_type, parent_id, id, data, last_modified, deleted)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT (resource_type, parent_id, id)
		 DO UPDATE SET data = excluded.data, last_modified = excluded.last_modified, deleted = 0`,
		string(obj.Type), obj.ParentID, obj.ID, string(rawData), ts)
	if err != nil {
		return nil, domain.ErrBackend(err, "store %s", obj.URI())
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.ErrBackend(err, "commit %s", obj.URI())
	}

	out := *obj
	out.LastModified = ts
	out.Deleted = false
	return &out, nil
}

// Delete implements domain.ObjectStore.
func (r *ObjectRepo) Delete(ctx context.Context, t domain.ResourceType, parentID, id string) (*domain.Object, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.ErrBackend(err, "begin delete for %s %q", t, id)
	}
	defer tx.Rollback()

	var deleted int64
	err = tx.QueryRowContext(ctx,
		`SELECT deleted FROM objects WHERE resource_type = ? AND parent_id = ? AND id = ?`,
		string(t), parentID, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted != 0) {
		return nil, domain.ErrNotFound("%s %q not found", t, id)
	}
	if err != nil {
		return nil, domain.ErrBackend(err, "check %s %q", t, id)
	}

	ts, err := bumpTx(ctx, tx, domain.ScopeURI(t, parentID))
	if err != nil {
		return nil, domain.ErrBackend(err, "bump timestamp for %s", domain.ScopeURI(t, parentID))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE objects SET deleted = 1, data = '{}', last_modified = ?
		 WHERE resource_type = ? AND parent_id = ? AND id = ?`,
		ts, string(t), parentID, id)
	if err != nil {
		return nil, domain.ErrBackend(err, "tombstone %s %q", t, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.ErrBackend(err, "commit delete %s %q", t, id)
	}

	return &domain.Object{Type: t, ParentID: parentID, ID: id, LastModified: ts, Deleted: true}, nil
}

// List implements domain.ObjectStore. Timestamp bounds and tombstone
// inclusion are pushed into SQL; field equality filters run on the decoded
// data to match the memory engine exactly.
func (r *ObjectRepo) List(ctx context.Context, t domain.ResourceType, parentID string, f domain.Filter) ([]*domain.Object, error) {
	query := `SELECT id, data, last_modified, deleted FROM objects
		WHERE resource_type = ? AND parent_id = ?`
	args := []interface{}{string(t), parentID}
	if !f.IncludeDeleted() {
		query += ` AND deleted = 0`
	}
	if f.Since != nil {
		query += ` AND last_modified > ?`
		args = append(args, *f.Since)
	}
	if f.Before != nil {
		query += ` AND last_modified < ?`
		args = append(args, *f.Before)
	}
	query += ` ORDER BY last_modified ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.ErrBackend(err, "list %s under %q", t, parentID)
	}
	defer rows.Close()

	var out []*domain.Object
	for rows.Next() {
		obj, err := scanObject(t, parentID, rows)
		if err != nil {
			return nil, domain.ErrBackend(err, "scan %s row", t)
		}
		if !f.Matches(obj) {
			continue
		}
		out = append(out, obj)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrBackend(err, "list %s under %q", t, parentID)
	}
	return out, nil
}

// DeleteAll implements domain.ObjectStore. All tombstones are written in one
// transaction; each gets its own strictly increasing timestamp.
func (r *ObjectRepo) DeleteAll(ctx context.Context, t domain.ResourceType, parentID string, f domain.Filter) ([]*domain.Object, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.ErrBackend(err, "begin bulk delete for %s under %q", t, parentID)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, data, last_modified, deleted FROM objects
		 WHERE resource_type = ? AND parent_id = ? AND deleted = 0`,
		string(t), parentID)
	if err != nil {
		return nil, domain.ErrBackend(err, "select %s under %q", t, parentID)
	}

	var victims []string
	for rows.Next() {
		obj, err := scanObject(t, parentID, rows)
		if err != nil {
			rows.Close()
			return nil, domain.ErrBackend(err, "scan %s row", t)
		}
		if f.Matches(obj) {
			victims = append(victims, obj.ID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, domain.ErrBackend(err, "select %s under %q", t, parentID)
	}
	rows.Close()

	sort.Strings(victims)
	scope := domain.ScopeURI(t, parentID)
	tombs := make([]*domain.Object, 0, len(victims))
	for _, id := range victims {
		ts, err := bumpTx(ctx, tx, scope)
		if err != nil {
			return nil, domain.ErrBackend(err, "bump timestamp for %s", scope)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE objects SET deleted = 1, data = '{}', last_modified = ?
			 WHERE resource_type = ? AND parent_id = ? AND id = ?`,
			ts, string(t), parentID, id)
		if err != nil {
			return nil, domain.ErrBackend(err, "tombstone %s %q", t, id)
		}
		tombs = append(tombs, &domain.Object{Type: t, ParentID: parentID, ID: id, LastModified: ts, Deleted: true})
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.ErrBackend(err, "commit bulk delete for %s under %q", t, parentID)
	}
	return tombs, nil
}

// ScopeTimestamp implements domain.ObjectStore.
func (r *ObjectRepo) ScopeTimestamp(ctx context.Context, scopeURI string) (int64, error) {
	var ts int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_modified FROM timestamps WHERE scope_uri = ?`, scopeURI).Scan(&ts)
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrBackend(err, "scope timestamp for %s", scopeURI)
	}
	// First touch of the scope: materialize its initial timestamp.
	return r.BumpTimestamp(ctx, scopeURI)
}

// BumpTimestamp implements domain.ObjectStore.
func (r *ObjectRepo) BumpTimestamp(ctx context.Context, scopeURI string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.ErrBackend(err, "begin bump for %s", scopeURI)
	}
	defer tx.Rollback()

	ts, err := bumpTx(ctx, tx, scopeURI)
	if err != nil {
		return 0, domain.ErrBackend(err, "bump timestamp for %s", scopeURI)
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.ErrBackend(err, "commit bump for %s", scopeURI)
	}
	return ts, nil
}
