// Package audit records who changed which permission source, and when.
//
// Every IAM mutation (roles, role permissions, user roles, overrides,
// entitlements, catalog reseeds and trial expiry) emits one AuditEvent with
// the acting user, the restaurant, an action code and a JSON payload
// describing the change. Writing an event is best effort: the permission
// service logs a failed write and carries on.
//
// # Sinks
//
//   - DBLogger writes to the audit_logs table and backs the query API
//   - FileLogger appends JSON lines to a rotated local file
//   - MultiLogger fans out to several sinks, optionally asynchronously
//
// # Usage
//
//	dbLogger, err := audit.NewDBLogger(db)
//	if err != nil {
//		return err
//	}
//	sink := audit.NewMultiLogger(dbLogger, fileLogger)
//	svc := iam.NewService(repos, cache, iam.WithAuditLogger(sink))
//
// Query and export through the HTTP API:
//
//	GET /iam/audit?restaurantId=...&actions=ROLE_CREATED,ROLE_DELETED&limit=50
//	GET /iam/audit/export?format=ndjson&endTime=2024-03-01T00:00:00Z
//
// # Retention
//
// Records older than the retention window are exported as NDJSON to object
// storage and then removed with Store.Cleanup; see pkg/maintenance.
package audit
