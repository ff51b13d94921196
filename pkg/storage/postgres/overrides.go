package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

func (s *Store) ListOverrides(ctx context.Context, restaurantID, userID uuid.UUID) ([]iam.GrantView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.feature_id, o.action_id, o.allowed, f.key, f.name, a.key
		FROM iam_user_permission_overrides o
		JOIN iam_features f ON f.id = o.feature_id
		JOIN iam_actions a ON a.id = o.action_id
		WHERE o.restaurant_id = $1 AND o.user_id = $2
		ORDER BY f.key, a.id
	`, restaurantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	return scanGrantViews(rows)
}

// ReplaceOverrides swaps the user's overrides in one transaction
func (s *Store) ReplaceOverrides(ctx context.Context, restaurantID, userID uuid.UUID, grants []iam.Grant) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkGrants(ctx, tx, grants); err != nil {
			return err
		}
		if len(grants) > 0 {
			if err := ensureRestaurant(ctx, tx, restaurantID, s.timestamp(time.Time{})); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			"DELETE FROM iam_user_permission_overrides WHERE restaurant_id = $1 AND user_id = $2",
			restaurantID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to clear overrides: %w", err)
		}

		for _, g := range grants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO iam_user_permission_overrides (user_id, restaurant_id, feature_id, action_id, allowed)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id, restaurant_id, feature_id, action_id) DO UPDATE SET allowed = excluded.allowed
			`, userID, restaurantID, g.FeatureID, g.ActionID, g.Allowed)
			if err != nil {
				return constraintError(err, "insert override")
			}
		}
		return nil
	})
}

func (s *Store) DeleteOverride(ctx context.Context, restaurantID, userID, featureID uuid.UUID, actionID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM iam_user_permission_overrides
		WHERE restaurant_id = $1 AND user_id = $2 AND feature_id = $3 AND action_id = $4
	`, restaurantID, userID, featureID, actionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete override: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete override: %w", err)
	}
	return n > 0, nil
}
