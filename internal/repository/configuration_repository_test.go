package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

func TestConfigurationRepositoryListByKeys(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	repo := NewConfigurationRepository(db)
	rows := sqlmock.NewRows([]string{"key", "value", "type", "description", "updated_by", "updated_at"}).
		AddRow(models.ConfigRolloverCritical, "20:00", "TIME", "rollover", "admin", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM configurations WHERE key = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	result, err := repo.ListByKeys(context.Background(), []string{models.ConfigRolloverCritical, models.ConfigRolloverStandard})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "20:00", result[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigurationRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConfigurationRepository(db)
	mock.ExpectExec("INSERT INTO configurations").
		WithArgs(models.ConfigResetCriticalTime, "06:30", "TIME", sqlmock.AnyArg(), "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := &models.Configuration{
		Key:       models.ConfigResetCriticalTime,
		Value:     "06:30",
		Type:      models.ConfigurationTypeTime,
		UpdatedBy: strPtr("admin"),
	}
	require.NoError(t, repo.Upsert(context.Background(), cfg))
	assert.False(t, cfg.UpdatedAt.IsZero())
}

func TestConfigurationRepositoryBulkUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConfigurationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO configurations").
		WithArgs(models.ConfigMonthlyReportTime, "23:00", "TIME", sqlmock.AnyArg(), "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO configurations").
		WithArgs(models.ConfigDayLockEnabled, "false", "BOOLEAN", sqlmock.AnyArg(), "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	items := []models.Configuration{
		{Key: models.ConfigMonthlyReportTime, Value: "23:00", Type: models.ConfigurationTypeTime, UpdatedBy: strPtr("admin")},
		{Key: models.ConfigDayLockEnabled, Value: "false", Type: models.ConfigurationTypeBoolean, UpdatedBy: strPtr("admin")},
	}
	require.NoError(t, repo.BulkUpsert(context.Background(), items))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigurationRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConfigurationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM configurations WHERE key = $1")).
		WithArgs(models.ConfigReportEmail).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), models.ConfigReportEmail))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(value string) *string {
	return &value
}
