package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shelfstore/internal/domain"
)

// PermissionRepo implements domain.PermissionStore on SQLite. ACEs are rows
// of (object_uri, permission, principal); the principal column is indexed so
// cascading revocation is a bounded lookup, not a scan.
type PermissionRepo struct {
	db *sql.DB
}

// NewPermissionRepo creates a new PermissionRepo.
func NewPermissionRepo(db *sql.DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

var _ domain.PermissionStore = (*PermissionRepo)(nil)

// GetACL implements domain.PermissionStore.
func (r *PermissionRepo) GetACL(ctx context.Context, objectURI string) (domain.ACL, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission, principal FROM access_control_entries
		 WHERE object_uri = ? ORDER BY permission, principal`, objectURI)
	if err != nil {
		return nil, domain.ErrBackend(err, "load acl for %s", objectURI)
	}
	defer rows.Close()

	acl := domain.ACL{}
	for rows.Next() {
		var perm, principal string
		if err := rows.Scan(&perm, &principal); err != nil {
			return nil, domain.ErrBackend(err, "scan ace for %s", objectURI)
		}
		acl[perm] = append(acl[perm], principal)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrBackend(err, "load acl for %s", objectURI)
	}
	return acl, nil
}

// ReplaceACL implements domain.PermissionStore.
func (r *PermissionRepo) ReplaceACL(ctx context.Context, objectURI string, acl domain.ACL) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrBackend(err, "begin acl replace for %s", objectURI)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM access_control_entries WHERE object_uri = ?`, objectURI); err != nil {
		return domain.ErrBackend(err, "clear acl for %s", objectURI)
	}
	for perm, principals := range acl.Clone() {
		for _, p := range principals {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO access_control_entries (object_uri, permission, principal) VALUES (?, ?, ?)`,
				objectURI, perm, p); err != nil {
				return domain.ErrBackend(err, "store ace %s/%s for %s", perm, p, objectURI)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrBackend(err, "commit acl replace for %s", objectURI)
	}
	return nil
}

// DeleteACLs implements domain.PermissionStore.
func (r *PermissionRepo) DeleteACLs(ctx context.Context, objectURI string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM access_control_entries WHERE object_uri = ? OR object_uri LIKE ? ESCAPE '\'`,
		objectURI, likePrefix(objectURI)+"/%")
	if err != nil {
		return domain.ErrBackend(err, "delete acls under %s", objectURI)
	}
	return nil
}

// HasAnyPrincipal implements domain.PermissionStore.
func (r *PermissionRepo) HasAnyPrincipal(ctx context.Context, objectURI, permission string, principals []string) (bool, error) {
	if len(principals) == 0 {
		return false, nil
	}
	placeholders := strings.Repeat("?,", len(principals))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(principals)+2)
	args = append(args, objectURI, permission)
	for _, p := range principals {
		args = append(args, p)
	}

	var one int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT 1 FROM access_control_entries
		 WHERE object_uri = ? AND permission = ? AND principal IN (%s) LIMIT 1`, placeholders),
		args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.ErrBackend(err, "check %s on %s", permission, objectURI)
	}
	return true, nil
}

// PurgePrincipal implements domain.PermissionStore.
func (r *PermissionRepo) PurgePrincipal(ctx context.Context, principal string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM access_control_entries WHERE principal = ?`, principal)
	if err != nil {
		return domain.ErrBackend(err, "purge principal %s", principal)
	}
	return nil
}

// AddUserPrincipal implements domain.PermissionStore.
func (r *PermissionRepo) AddUserPrincipal(ctx context.Context, user, groupPrincipal string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_principals (user_id, group_principal) VALUES (?, ?)`,
		user, groupPrincipal)
	if err != nil {
		return domain.ErrBackend(err, "index %s for %s", groupPrincipal, user)
	}
	return nil
}

// RemoveUserPrincipal implements domain.PermissionStore.
func (r *PermissionRepo) RemoveUserPrincipal(ctx context.Context, user, groupPrincipal string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_principals WHERE user_id = ? AND group_principal = ?`,
		user, groupPrincipal)
	if err != nil {
		return domain.ErrBackend(err, "unindex %s for %s", groupPrincipal, user)
	}
	return nil
}

// UserPrincipals implements domain.PermissionStore.
func (r *PermissionRepo) UserPrincipals(ctx context.Context, user string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_principal FROM user_principals WHERE user_id = ? ORDER BY group_principal`,
		user)
	if err != nil {
		return nil, domain.ErrBackend(err, "user principals for %s", user)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, domain.ErrBackend(err, "scan user principal for %s", user)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrBackend(err, "user principals for %s", user)
	}
	return out, nil
}

// likePrefix escapes LIKE metacharacters in a literal prefix. Object URIs
// can contain underscores, which LIKE treats as a wildcard.
func likePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
