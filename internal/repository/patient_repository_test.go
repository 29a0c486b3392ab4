package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var patientRowColumns = []string{"id", "name", "birth_date", "bed", "sector", "care_unit_class", "diagnosis", "treatment_type", "authorization_status", "authorization_comment", "evaluated_today", "last_evaluation_date", "observation", "created_at", "updated_at"}

func TestPatientRepositoryListByClass(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(patientRowColumns).
		AddRow("p-1", "Maria Souza", nil, "12A", "UTI ADULTO", "critical", "Sepse", "therapeutic", "pending", nil, false, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM patients WHERE 1=1 AND care_unit_class = $1 ORDER BY sector ASC, bed ASC")).
		WithArgs(models.CareUnitCritical).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM patients WHERE 1=1 AND care_unit_class = $1")).
		WithArgs(models.CareUnitCritical).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	class := models.CareUnitCritical
	patients, total, err := repo.List(context.Background(), models.PatientFilter{CareUnitClass: &class})
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.CareUnitCritical, patients[0].CareUnitClass)
	assert.Equal(t, models.AuthorizationPending, patients[0].Authorization)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRepositoryListPaginated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM patients WHERE 1=1 AND (LOWER(name) LIKE $1 OR LOWER(bed) LIKE $1) ORDER BY sector ASC, bed ASC LIMIT 10 OFFSET 10")).
		WithArgs("%souza%").
		WillReturnRows(sqlmock.NewRows(patientRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM patients")).
		WithArgs("%souza%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	_, total, err := repo.List(context.Background(), models.PatientFilter{Search: "Souza", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	mock.ExpectExec("INSERT INTO patients").WillReturnResult(sqlmock.NewResult(1, 1))

	patient := &models.Patient{Name: "João Lima", Bed: "3", Sector: "CLINICA MEDICA", CareUnitClass: models.CareUnitStandard}
	require.NoError(t, repo.Create(context.Background(), patient))
	assert.NotEmpty(t, patient.ID)
	assert.Equal(t, models.AuthorizationPending, patient.Authorization)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	evaluated := true
	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE patients SET evaluated_today = $1, last_evaluation_date = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(true, at, sqlmock.AnyArg(), "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "p-1", models.PatientUpdate{EvaluatedToday: &evaluated, LastEvaluationDate: &at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	auth := models.AuthorizationRejected
	mock.ExpectExec(regexp.QuoteMeta("UPDATE patients SET authorization_status = $1")).
		WithArgs(auth, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), "missing", models.PatientUpdate{Authorization: &auth})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPatientRepositoryResetEvaluations(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE patients SET evaluated_today = FALSE, updated_at = $2 WHERE care_unit_class = $1 AND evaluated_today = TRUE")).
		WithArgs(models.CareUnitStandard, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	affected, err := repo.ResetEvaluations(context.Background(), models.CareUnitStandard)
	require.NoError(t, err)
	assert.Equal(t, int64(7), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRepositoryListUnevaluated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatientRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(patientRowColumns).
		AddRow("p-2", "Ana", nil, "4", "CLINICA", "standard", "", "therapeutic", "approved", nil, false, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE care_unit_class = $1 AND evaluated_today = FALSE ORDER BY name ASC")).
		WithArgs(models.CareUnitStandard).
		WillReturnRows(rows)

	patients, err := repo.ListUnevaluated(context.Background(), models.CareUnitStandard)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Ana", patients[0].Name)
}
