package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

func (s *Store) CreateRole(ctx context.Context, role *iam.Role) error {
	role.CreatedAt = s.timestamp(role.CreatedAt)
	role.UpdatedAt = s.timestamp(role.UpdatedAt)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureRestaurant(ctx, tx, role.RestaurantID, role.CreatedAt); err != nil {
			return err
		}

		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM iam_roles WHERE restaurant_id = $1 AND key = $2", role.RestaurantID, role.Key).Scan(&one)
		if err == nil {
			return iam.BadRequestf("Role with key %q already exists", role.Key)
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up role key: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO iam_roles (id, restaurant_id, key, name, is_system, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, role.ID, role.RestaurantID, role.Key, role.Name, role.IsSystem, role.CreatedAt, role.UpdatedAt)
		if err != nil {
			return constraintError(err, "create role")
		}
		return nil
	})
}

const roleColumns = "id, restaurant_id, key, name, is_system, created_at, updated_at"

func scanRole(row interface{ Scan(...interface{}) error }) (iam.Role, error) {
	var r iam.Role
	err := row.Scan(&r.ID, &r.RestaurantID, &r.Key, &r.Name, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*iam.Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM iam_roles WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, iam.NotFoundf("Role not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context, restaurantID uuid.UUID) ([]iam.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+roleColumns+" FROM iam_roles WHERE restaurant_id = $1 ORDER BY created_at, id",
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]iam.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) UpdateRoleName(ctx context.Context, id uuid.UUID, name string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE iam_roles SET name = $1, updated_at = $2 WHERE id = $3",
		name, s.timestamp(updatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n == 0 {
		return iam.NotFoundf("Role not found")
	}
	return nil
}

// DeleteRole removes the role with its permissions and assignments
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			"DELETE FROM iam_role_permissions WHERE role_id = $1",
			"DELETE FROM iam_user_roles WHERE role_id = $1",
			"DELETE FROM iam_roles WHERE id = $1",
		} {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return fmt.Errorf("failed to delete role: %w", err)
			}
		}
		return nil
	})
}

// checkGrants verifies every grant references an existing feature and action
func checkGrants(ctx context.Context, tx *sql.Tx, grants []iam.Grant) error {
	var one int
	for _, g := range grants {
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM iam_features WHERE id = $1", g.FeatureID).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("feature %s: %w", g.FeatureID, iam.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("failed to look up feature: %w", err)
		}

		err = tx.QueryRowContext(ctx, "SELECT 1 FROM iam_actions WHERE id = $1", g.ActionID).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("action %d: %w", g.ActionID, iam.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("failed to look up action: %w", err)
		}
	}
	return nil
}

// ReplaceRolePermissions swaps the role's whole permission set in one
// transaction
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, grants []iam.Grant) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM iam_roles WHERE id = $1", roleID).Scan(&one)
		if err == sql.ErrNoRows {
			return iam.NotFoundf("Role not found")
		} else if err != nil {
			return fmt.Errorf("failed to look up role: %w", err)
		}

		if err := checkGrants(ctx, tx, grants); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM iam_role_permissions WHERE role_id = $1", roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}

		for _, g := range grants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO iam_role_permissions (role_id, feature_id, action_id, allowed)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (role_id, feature_id, action_id) DO UPDATE SET allowed = excluded.allowed
			`, roleID, g.FeatureID, g.ActionID, g.Allowed)
			if err != nil {
				return constraintError(err, "insert role permission")
			}
		}
		return nil
	})
}

// scanGrantViews reads (feature_id, action_id, allowed, feature key, feature name, action key) rows
func scanGrantViews(rows *sql.Rows) ([]iam.GrantView, error) {
	defer rows.Close()

	views := make([]iam.GrantView, 0)
	for rows.Next() {
		var v iam.GrantView
		if err := rows.Scan(&v.FeatureID, &v.ActionID, &v.Allowed, &v.FeatureKey, &v.FeatureName, &v.ActionKey); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]iam.GrantView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.feature_id, rp.action_id, rp.allowed, f.key, f.name, a.key
		FROM iam_role_permissions rp
		JOIN iam_features f ON f.id = rp.feature_id
		JOIN iam_actions a ON a.id = rp.action_id
		WHERE rp.role_id = $1
		ORDER BY f.key, a.id
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	return scanGrantViews(rows)
}

func (s *Store) AssignUserRole(ctx context.Context, ur iam.UserRole) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM iam_roles WHERE id = $1", ur.RoleID).Scan(&one)
		if err == sql.ErrNoRows {
			return iam.NotFoundf("Role not found")
		} else if err != nil {
			return fmt.Errorf("failed to look up role: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO iam_user_roles (user_id, restaurant_id, role_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, restaurant_id, role_id) DO NOTHING
		`, ur.UserID, ur.RestaurantID, ur.RoleID, s.timestamp(time.Time{}))
		if err != nil {
			return constraintError(err, "assign user role")
		}
		return nil
	})
}

func (s *Store) RemoveUserRole(ctx context.Context, ur iam.UserRole) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM iam_user_roles WHERE user_id = $1 AND restaurant_id = $2 AND role_id = $3",
		ur.UserID, ur.RestaurantID, ur.RoleID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove user role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove user role: %w", err)
	}
	return n > 0, nil
}

// ListUserRoleGrants returns grants of every role the user holds, roles
// ordered by creation time then id
func (s *Store) ListUserRoleGrants(ctx context.Context, restaurantID, userID uuid.UUID) ([]iam.RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, f.key, a.key, rp.allowed
		FROM iam_user_roles ur
		JOIN iam_roles r ON r.id = ur.role_id AND r.restaurant_id = ur.restaurant_id
		JOIN iam_role_permissions rp ON rp.role_id = r.id
		JOIN iam_features f ON f.id = rp.feature_id
		JOIN iam_actions a ON a.id = rp.action_id
		WHERE ur.restaurant_id = $1 AND ur.user_id = $2
		ORDER BY r.created_at, r.id, f.key, a.id
	`, restaurantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user role grants: %w", err)
	}
	defer rows.Close()

	var grants []iam.RoleGrant
	for rows.Next() {
		var g iam.RoleGrant
		if err := rows.Scan(&g.RoleID, &g.FeatureKey, &g.ActionKey, &g.Allowed); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
