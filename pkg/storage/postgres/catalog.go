package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

func (s *Store) ListModules(ctx context.Context) ([]iam.Module, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, key, name, sort_order FROM iam_modules ORDER BY sort_order, key")
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	modules := make([]iam.Module, 0)
	for rows.Next() {
		var m iam.Module
		if err := rows.Scan(&m.ID, &m.Key, &m.Name, &m.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (s *Store) ListSubmodules(ctx context.Context) ([]iam.Submodule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, module_id, key, name, sort_order FROM iam_submodules ORDER BY sort_order, key")
	if err != nil {
		return nil, fmt.Errorf("failed to list submodules: %w", err)
	}
	defer rows.Close()

	submodules := make([]iam.Submodule, 0)
	for rows.Next() {
		var sm iam.Submodule
		if err := rows.Scan(&sm.ID, &sm.ModuleID, &sm.Key, &sm.Name, &sm.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan submodule: %w", err)
		}
		submodules = append(submodules, sm)
	}
	return submodules, rows.Err()
}

func (s *Store) ListFeatures(ctx context.Context) ([]iam.CatalogFeature, error) {
	query := `
		SELECT
			f.id, f.submodule_id, f.key, f.name, f.sort_order,
			sm.id, sm.module_id, sm.key, sm.name, sm.sort_order,
			m.id, m.key, m.name, m.sort_order
		FROM iam_features f
		JOIN iam_submodules sm ON sm.id = f.submodule_id
		JOIN iam_modules m ON m.id = sm.module_id
		ORDER BY m.sort_order, sm.sort_order, f.sort_order, f.key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	features := make([]iam.CatalogFeature, 0)
	for rows.Next() {
		var f iam.CatalogFeature
		err := rows.Scan(
			&f.ID, &f.SubmoduleID, &f.Key, &f.Name, &f.SortOrder,
			&f.Submodule.ID, &f.Submodule.ModuleID, &f.Submodule.Key, &f.Submodule.Name, &f.Submodule.SortOrder,
			&f.Module.ID, &f.Module.Key, &f.Module.Name, &f.Module.SortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func (s *Store) ListActions(ctx context.Context) ([]iam.Action, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, key FROM iam_actions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]iam.Action, 0)
	for rows.Next() {
		var a iam.Action
		if err := rows.Scan(&a.ID, &a.Key); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

func (s *Store) FeatureExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM iam_features WHERE id = $1", id)
}

func (s *Store) ActionExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM iam_actions WHERE id = $1", id)
}

// entityTables maps each entitlement target to its catalog table
var entityTables = map[iam.EntityType]string{
	iam.EntityModule:    "iam_modules",
	iam.EntitySubmodule: "iam_submodules",
	iam.EntityFeature:   "iam_features",
}

func (s *Store) EntityExists(ctx context.Context, entityType iam.EntityType, id uuid.UUID) (bool, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return false, fmt.Errorf("unknown entity type %q", entityType)
	}
	return s.exists(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id)
}

// UpsertModule matches on key; the stored id is written back to m
func (s *Store) UpsertModule(ctx context.Context, m *iam.Module) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO iam_modules (id, key, name, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET name = excluded.name, sort_order = excluded.sort_order
		RETURNING id
	`, m.ID, m.Key, m.Name, m.SortOrder).Scan(&m.ID)
	if err != nil {
		return constraintError(err, "upsert module")
	}
	return nil
}

func (s *Store) UpsertSubmodule(ctx context.Context, sm *iam.Submodule) error {
	ok, err := s.exists(ctx, "SELECT 1 FROM iam_modules WHERE id = $1", sm.ModuleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("module %s: %w", sm.ModuleID, iam.ErrNotFound)
	}

	if sm.ID == uuid.Nil {
		sm.ID = uuid.New()
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO iam_submodules (id, module_id, key, name, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET module_id = excluded.module_id, name = excluded.name, sort_order = excluded.sort_order
		RETURNING id
	`, sm.ID, sm.ModuleID, sm.Key, sm.Name, sm.SortOrder).Scan(&sm.ID)
	if err != nil {
		return constraintError(err, "upsert submodule")
	}
	return nil
}

func (s *Store) UpsertFeature(ctx context.Context, f *iam.Feature) error {
	ok, err := s.exists(ctx, "SELECT 1 FROM iam_submodules WHERE id = $1", f.SubmoduleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("submodule %s: %w", f.SubmoduleID, iam.ErrNotFound)
	}

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO iam_features (id, submodule_id, key, name, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET submodule_id = excluded.submodule_id, name = excluded.name, sort_order = excluded.sort_order
		RETURNING id
	`, f.ID, f.SubmoduleID, f.Key, f.Name, f.SortOrder).Scan(&f.ID)
	if err != nil {
		return constraintError(err, "upsert feature")
	}
	return nil
}

// UpsertAction matches on key. A new action without an id gets the next
// free one.
func (s *Store) UpsertAction(ctx context.Context, a *iam.Action) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM iam_actions WHERE key = $1", a.Key).Scan(&existing)
		switch {
		case err == nil:
			a.ID = existing
			return nil
		case err != sql.ErrNoRows:
			return fmt.Errorf("failed to look up action: %w", err)
		}

		if a.ID == 0 {
			if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM iam_actions").Scan(&a.ID); err != nil {
				return fmt.Errorf("failed to allocate action id: %w", err)
			}
		} else {
			var taken string
			err := tx.QueryRowContext(ctx, "SELECT key FROM iam_actions WHERE id = $1", a.ID).Scan(&taken)
			if err == nil {
				return iam.BadRequestf("Action id %d already in use", a.ID)
			} else if err != sql.ErrNoRows {
				return fmt.Errorf("failed to look up action: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO iam_actions (id, key) VALUES ($1, $2)", a.ID, a.Key); err != nil {
			return constraintError(err, "insert action")
		}
		return nil
	})
}
