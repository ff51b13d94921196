// Package storage groups the persistence backends of the IAM service.
//
// # Backends
//
//   - memory: maps guarded by a mutex. Used by tests and by the server when
//     IAM_STORAGE_TYPE=memory. Implements every iam repository interface.
//   - postgres: database/sql over lib/pq. Schema changes are applied by
//     RunMigrations; restaurant-scoped writes run in one transaction and bump
//     restaurants.perm_version.
//   - s3: object storage for audit archives written by the worker's
//     audit-archive job.
//
// Both repository backends return iam.Repositories, so the service layer
// does not know which one it runs on:
//
//	store, err := postgres.Open(postgres.Config{URL: cfg.Storage.PostgresURL})
//	if err != nil {
//		return err
//	}
//	if err := postgres.RunMigrations(ctx, store.DB(), logger); err != nil {
//		return err
//	}
//	svc := iam.NewService(store.Repositories(), cache)
//
// # Testing
//
// Unit tests for postgres run on an in-memory SQLite database or go-sqlmock.
// Tests tagged integration start a real PostgreSQL through testcontainers-go.
package storage
