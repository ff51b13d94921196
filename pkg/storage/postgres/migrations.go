package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all IAM schema migrations. Column defaults are
// literals only; timestamps are always written by the application.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create capability catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS iam_modules (
					id UUID PRIMARY KEY,
					key TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					sort_order INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS iam_submodules (
					id UUID PRIMARY KEY,
					module_id UUID NOT NULL REFERENCES iam_modules(id) ON DELETE CASCADE,
					key TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					sort_order INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS iam_features (
					id UUID PRIMARY KEY,
					submodule_id UUID NOT NULL REFERENCES iam_submodules(id) ON DELETE CASCADE,
					key TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					sort_order INTEGER NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS iam_actions (
					id SMALLINT PRIMARY KEY,
					key TEXT NOT NULL UNIQUE
				);

				CREATE INDEX IF NOT EXISTS idx_iam_submodules_module_id ON iam_submodules(module_id);
				CREATE INDEX IF NOT EXISTS idx_iam_features_submodule_id ON iam_features(submodule_id);
			`,
		},
		{
			Version:     2,
			Description: "Create restaurants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS restaurants (
					id UUID PRIMARY KEY,
					perm_version BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create roles, role permissions and user roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS iam_roles (
					id UUID PRIMARY KEY,
					restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
					key TEXT NOT NULL,
					name TEXT NOT NULL,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(restaurant_id, key)
				);

				CREATE TABLE IF NOT EXISTS iam_role_permissions (
					role_id UUID NOT NULL REFERENCES iam_roles(id) ON DELETE CASCADE,
					feature_id UUID NOT NULL REFERENCES iam_features(id) ON DELETE CASCADE,
					action_id SMALLINT NOT NULL REFERENCES iam_actions(id) ON DELETE CASCADE,
					allowed BOOLEAN NOT NULL,
					PRIMARY KEY (role_id, feature_id, action_id)
				);

				CREATE TABLE IF NOT EXISTS iam_user_roles (
					user_id UUID NOT NULL,
					restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES iam_roles(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, restaurant_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_iam_roles_restaurant_id ON iam_roles(restaurant_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_iam_user_roles_role_id ON iam_user_roles(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user permission overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS iam_user_permission_overrides (
					user_id UUID NOT NULL,
					restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
					feature_id UUID NOT NULL REFERENCES iam_features(id) ON DELETE CASCADE,
					action_id SMALLINT NOT NULL REFERENCES iam_actions(id) ON DELETE CASCADE,
					allowed BOOLEAN NOT NULL,
					PRIMARY KEY (user_id, restaurant_id, feature_id, action_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create restaurant entitlements table",
			SQL: `
				CREATE TABLE IF NOT EXISTS iam_restaurant_entitlements (
					restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
					entity_type TEXT NOT NULL CHECK (entity_type IN ('module', 'submodule', 'feature')),
					entity_id UUID NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('active', 'locked', 'hidden', 'trial')),
					source TEXT NOT NULL DEFAULT '',
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (restaurant_id, entity_type, entity_id)
				);

				CREATE INDEX IF NOT EXISTS idx_iam_entitlements_entity ON iam_restaurant_entitlements(entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_iam_entitlements_status ON iam_restaurant_entitlements(status);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS iam_schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM iam_schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		}).Info("running migration")

		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO iam_schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
		m.Version, m.Description, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
