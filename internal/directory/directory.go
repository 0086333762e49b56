package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"osline/internal/domain"
)

// Service maps roles to users within an organization, backed by SQL.
type Service struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrInvalidRole = errors.New("invalid role")

// ResolveUserForRole picks the user holding role in orgID with the fewest
// active orders, ties broken by user id. ok is false when nobody holds the role.
func (s Service) ResolveUserForRole(ctx context.Context, role domain.Role, orgID string) (string, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT ur.user_id
FROM user_roles ur
LEFT JOIN service_orders so
  ON so.responsible_user=ur.user_id AND so.org_id=ur.org_id AND so.stage<>?
WHERE ur.org_id=? AND ur.role=?
GROUP BY ur.user_id
ORDER BY COUNT(so.id), ur.user_id
LIMIT 1`, domain.StagePostado, orgID, role)
	var user string
	err := row.Scan(&user)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return user, true, nil
}

// ListAdmins returns the ADMIN users of orgID ordered by id.
func (s Service) ListAdmins(ctx context.Context, orgID string) ([]string, error) {
	assignments, err := s.List(ctx, orgID, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a.UserID)
	}
	return out, nil
}

func (s Service) Grant(ctx context.Context, orgID, userID string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if orgID == "" || userID == "" {
		return errors.New("org_id and user_id required")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(org_id, user_id, role, created_at) VALUES (?,?,?,?)`,
		orgID, userID, role, now().UTC().Format(time.RFC3339))
	return err
}

// Revoke reports whether an assignment was removed.
func (s Service) Revoke(ctx context.Context, orgID, userID string, role domain.Role) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM user_roles WHERE org_id=? AND user_id=? AND role=?`, orgID, userID, role)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns assignments in orgID, optionally narrowed to one role.
func (s Service) List(ctx context.Context, orgID string, role domain.Role) ([]domain.RoleAssignment, error) {
	query := `SELECT org_id, user_id, role, created_at FROM user_roles WHERE org_id=?`
	args := []any{orgID}
	if role != "" {
		query += ` AND role=?`
		args = append(args, role)
	}
	query += ` ORDER BY role, user_id`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleAssignment
	for rows.Next() {
		var (
			a  domain.RoleAssignment
			ts string
		)
		if err := rows.Scan(&a.OrgID, &a.UserID, &a.Role, &ts); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
