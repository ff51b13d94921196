package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditColumns = []string{
	"id", "timestamp", "action", "actor_user_id", "restaurant_id",
	"resource_type", "resource_id", "request_id", "payload",
}

func setupDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestNewDBLogger_EnsureTableFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("permission denied"))

	_, err = NewDBLogger(db)
	assert.Error(t, err)
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := setupDBLogger(t)
	restaurant := uuid.New()

	event := NewEvent(context.Background(), EventTypeRoleCreated, ResourceTypeRole, "role-1").
		WithRestaurant(restaurant)
	event.Payload["key"] = "manager"

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(
			sqlmock.AnyArg(), "ROLE_CREATED", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"role", "role-1", "", `{"key":"manager"}`,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogError(t *testing.T) {
	logger, mock := setupDBLogger(t)

	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

	err := logger.Log(context.Background(), NewEvent(context.Background(), EventTypeRoleDeleted, ResourceTypeRole, "x"))
	assert.Error(t, err)
}

func TestDBLogger_Search(t *testing.T) {
	logger, mock := setupDBLogger(t)
	restaurant, actor := uuid.New(), uuid.New()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM audit_logs\s+WHERE 1=1\s+AND restaurant_id = \$1 AND action = ANY\(\$2\) ORDER BY timestamp DESC, id DESC LIMIT \$3`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(auditColumns).
			AddRow(int64(7), at, "ROLE_CREATED", actor.String(), restaurant.String(), "role", "role-1", "req-1", []byte(`{"key":"manager"}`)).
			AddRow(int64(6), at, "ENTITLEMENT_TRIAL_EXPIRED", nil, restaurant.String(), "restaurant_entitlement", nil, nil, nil))

	events, err := logger.Search(context.Background(), SearchFilter{
		RestaurantID: &restaurant,
		EventTypes:   []EventType{EventTypeRoleCreated, EventTypeEntitlementTrialExpired},
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(7), events[0].ID)
	require.NotNil(t, events[0].ActorUserID)
	assert.Equal(t, actor, *events[0].ActorUserID)
	assert.Equal(t, "manager", events[0].Payload["key"])
	assert.Equal(t, "req-1", events[0].RequestID)

	assert.Nil(t, events[1].ActorUserID)
	assert.Empty(t, events[1].ResourceID)
	assert.Nil(t, events[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_ExportAndCleanup(t *testing.T) {
	logger, mock := setupDBLogger(t)
	store := NewDBStore(logger)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM audit_logs").
		WillReturnRows(sqlmock.NewRows(auditColumns).
			AddRow(int64(1), at, "ROLE_CREATED", nil, nil, "role", "a", nil, nil).
			AddRow(int64(2), at, "ROLE_DELETED", nil, nil, "role", "a", nil, nil))

	data, err := store.Export(context.Background(), SearchFilter{}, ExportFormatNDJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))

	cutoff := at.AddDate(0, 0, -90)
	mock.ExpectExec("DELETE FROM audit_logs WHERE timestamp < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := store.Cleanup(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCutoffFor(t *testing.T) {
	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), CutoffFor(RetentionPolicy{RetentionDays: 90}, now))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
