package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

const entitlementColumns = "restaurant_id, entity_type, entity_id, status, source, metadata, created_at, updated_at"

func scanEntitlements(rows *sql.Rows) ([]iam.Entitlement, error) {
	defer rows.Close()

	entitlements := make([]iam.Entitlement, 0)
	for rows.Next() {
		var e iam.Entitlement
		var entityType, status string
		var metadata []byte

		err := rows.Scan(&e.RestaurantID, &entityType, &e.EntityID, &status, &e.Source, &metadata, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		e.EntityType = iam.EntityType(entityType)
		e.Status = iam.EntitlementStatus(status)

		if e.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		entitlements = append(entitlements, e)
	}
	return entitlements, rows.Err()
}

func decodeMetadata(raw []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var md map[string]interface{}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if len(md) == 0 {
		return nil, nil
	}
	return md, nil
}

// encodeMetadata renders metadata the way it is stored. Map keys are sorted,
// so equal maps encode identically.
func encodeMetadata(md map[string]interface{}) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func (s *Store) ListEntitlements(ctx context.Context, restaurantID uuid.UUID) ([]iam.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entitlementColumns+" FROM iam_restaurant_entitlements WHERE restaurant_id = $1 ORDER BY entity_type, entity_id",
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	return scanEntitlements(rows)
}

// LockTrials only rewrites rows still in trial status
func (s *Store) LockTrials(ctx context.Context, entries []iam.Entitlement) ([]iam.EntitlementRef, error) {
	var locked []iam.EntitlementRef

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			metadata, err := encodeMetadata(e.Metadata)
			if err != nil {
				return err
			}
			result, err := tx.ExecContext(ctx, `
				UPDATE iam_restaurant_entitlements
				SET status = $4, metadata = $5, updated_at = $6
				WHERE restaurant_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = $7
			`, e.RestaurantID, string(e.EntityType), e.EntityID, string(e.Status), metadata, s.timestamp(e.UpdatedAt), string(iam.StatusTrial))
			if err != nil {
				return fmt.Errorf("failed to lock trial entitlement: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to lock trial entitlement: %w", err)
			}
			if n > 0 {
				locked = append(locked, iam.EntitlementRef{RestaurantID: e.RestaurantID, EntityType: e.EntityType, EntityID: e.EntityID})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

func (s *Store) ListTrialEntitlements(ctx context.Context) ([]iam.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entitlementColumns+" FROM iam_restaurant_entitlements WHERE status = $1 ORDER BY restaurant_id, entity_type, entity_id",
		string(iam.StatusTrial),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trial entitlements: %w", err)
	}
	return scanEntitlements(rows)
}

// UpsertEntitlements writes every entry in one transaction. Existing rows are
// only rewritten when status, source or metadata changed.
func (s *Store) UpsertEntitlements(ctx context.Context, entries []iam.Entitlement) (iam.UpsertResult, error) {
	var result iam.UpsertResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		checked := make(map[uuid.UUID]bool)
		for _, e := range entries {
			if checked[e.RestaurantID] {
				continue
			}
			if err := ensureRestaurant(ctx, tx, e.RestaurantID, s.timestamp(time.Time{})); err != nil {
				return err
			}
			checked[e.RestaurantID] = true
		}

		touched := make(map[uuid.UUID]bool)
		for _, e := range entries {
			changed, created, err := s.upsertEntitlement(ctx, tx, e)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			if !touched[e.RestaurantID] {
				touched[e.RestaurantID] = true
				result.Tenants = append(result.Tenants, e.RestaurantID)
			}
		}
		return nil
	})
	if err != nil {
		return iam.UpsertResult{}, err
	}
	return result, nil
}

func (s *Store) upsertEntitlement(ctx context.Context, tx *sql.Tx, e iam.Entitlement) (changed, created bool, err error) {
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return false, false, err
	}
	now := s.timestamp(e.UpdatedAt)

	var status, source string
	var stored []byte
	err = tx.QueryRowContext(ctx, `
		SELECT status, source, metadata FROM iam_restaurant_entitlements
		WHERE restaurant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, e.RestaurantID, string(e.EntityType), e.EntityID).Scan(&status, &source, &stored)

	switch {
	case err == sql.ErrNoRows:
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO iam_restaurant_entitlements (`+entitlementColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.RestaurantID, string(e.EntityType), e.EntityID, string(e.Status), e.Source, metadata, s.timestamp(created), now)
		if err != nil {
			return false, false, constraintError(err, "insert entitlement")
		}
		return true, true, nil

	case err != nil:
		return false, false, fmt.Errorf("failed to look up entitlement: %w", err)
	}

	current, err := decodeMetadata(stored)
	if err != nil {
		return false, false, err
	}
	currentJSON, err := encodeMetadata(current)
	if err != nil {
		return false, false, err
	}
	if status == string(e.Status) && source == e.Source && currentJSON == metadata {
		return false, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE iam_restaurant_entitlements
		SET status = $1, source = $2, metadata = $3, updated_at = $4
		WHERE restaurant_id = $5 AND entity_type = $6 AND entity_id = $7
	`, string(e.Status), e.Source, metadata, now, e.RestaurantID, string(e.EntityType), e.EntityID)
	if err != nil {
		return false, false, constraintError(err, "update entitlement")
	}
	return true, false, nil
}

// DeleteEntitlement removes matching rows and returns their restaurants.
// uuid.Nil restaurantID matches every restaurant.
func (s *Store) DeleteEntitlement(ctx context.Context, restaurantID uuid.UUID, entityType iam.EntityType, entityID uuid.UUID) ([]uuid.UUID, error) {
	query := "DELETE FROM iam_restaurant_entitlements WHERE entity_type = $1 AND entity_id = $2"
	args := []interface{}{string(entityType), entityID}
	if restaurantID != uuid.Nil {
		query += " AND restaurant_id = $3"
		args = append(args, restaurantID)
	}
	query += " RETURNING restaurant_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entitlement: %w", err)
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan restaurant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to delete entitlement: %w", err)
	}

	sort.Slice(tenants, func(i, j int) bool { return tenants[i].String() < tenants[j].String() })
	return tenants, nil
}
