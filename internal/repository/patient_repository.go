package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

const patientColumns = `id, name, birth_date, bed, sector, care_unit_class, diagnosis, treatment_type, authorization_status, authorization_comment, evaluated_today, last_evaluation_date, observation, created_at, updated_at`

// PatientRepository provides database access for admitted patients.
type PatientRepository struct {
	db *sqlx.DB
}

// NewPatientRepository creates a new instance of PatientRepository.
func NewPatientRepository(db *sqlx.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// GetByID returns a patient by identifier.
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*models.Patient, error) {
	query := fmt.Sprintf(`SELECT %s FROM patients WHERE id = $1 LIMIT 1`, patientColumns)
	var patient models.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &patient, nil
}

// List returns patients matching the filter with a total count.
func (r *PatientRepository) List(ctx context.Context, filter models.PatientFilter) ([]models.Patient, int, error) {
	baseQuery := `FROM patients WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.CareUnitClass != nil {
		conditions = append(conditions, fmt.Sprintf("care_unit_class = $%d", len(args)+1))
		args = append(args, *filter.CareUnitClass)
	}
	if filter.Sector != "" {
		conditions = append(conditions, fmt.Sprintf("sector = $%d", len(args)+1))
		args = append(args, filter.Sector)
	}
	if filter.Evaluated != nil {
		conditions = append(conditions, fmt.Sprintf("evaluated_today = $%d", len(args)+1))
		args = append(args, *filter.Evaluated)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(bed) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY sector ASC, bed ASC", patientColumns, baseQuery)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		pageSize := filter.PageSize
		if pageSize > 200 {
			pageSize = 200
		}
		listQuery += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	}

	var patients []models.Patient
	if err := r.db.SelectContext(ctx, &patients, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	return patients, total, nil
}

// ListUnevaluated returns patients of a unit class not yet evaluated since the last reset.
func (r *PatientRepository) ListUnevaluated(ctx context.Context, class models.CareUnitClass) ([]models.Patient, error) {
	query := fmt.Sprintf(`SELECT %s FROM patients WHERE care_unit_class = $1 AND evaluated_today = FALSE ORDER BY name ASC`, patientColumns)
	var patients []models.Patient
	if err := r.db.SelectContext(ctx, &patients, query, class); err != nil {
		return nil, fmt.Errorf("list unevaluated patients: %w", err)
	}
	return patients, nil
}

// Create inserts a new patient.
func (r *PatientRepository) Create(ctx context.Context, patient *models.Patient) error {
	if patient.ID == "" {
		patient.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = now
	}
	patient.UpdatedAt = now
	if patient.Authorization == "" {
		patient.Authorization = models.AuthorizationPending
	}

	const query = `INSERT INTO patients (id, name, birth_date, bed, sector, care_unit_class, diagnosis, treatment_type, authorization_status, authorization_comment, evaluated_today, last_evaluation_date, observation, created_at, updated_at)
VALUES (:id, :name, :birth_date, :bed, :sector, :care_unit_class, :diagnosis, :treatment_type, :authorization_status, :authorization_comment, :evaluated_today, :last_evaluation_date, :observation, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, patient); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

// Update applies a partial mutation. Last write wins.
func (r *PatientRepository) Update(ctx context.Context, id string, upd models.PatientUpdate) error {
	set := make([]string, 0, 8)
	args := make([]interface{}, 0, 9)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Bed != nil {
		add("bed", *upd.Bed)
	}
	if upd.Sector != nil {
		add("sector", *upd.Sector)
	}
	if upd.CareUnitClass != nil {
		add("care_unit_class", *upd.CareUnitClass)
	}
	if upd.Diagnosis != nil {
		add("diagnosis", *upd.Diagnosis)
	}
	if upd.Observation != nil {
		add("observation", *upd.Observation)
	}
	if upd.Authorization != nil {
		add("authorization_status", *upd.Authorization)
	}
	if upd.EvaluatedToday != nil {
		add("evaluated_today", *upd.EvaluatedToday)
	}
	if upd.LastEvaluationDate != nil {
		add("last_evaluation_date", *upd.LastEvaluationDate)
	}
	if len(set) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE patients SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetEvaluations clears the evaluated flag for every patient of a unit class.
func (r *PatientRepository) ResetEvaluations(ctx context.Context, class models.CareUnitClass) (int64, error) {
	const query = `UPDATE patients SET evaluated_today = FALSE, updated_at = $2 WHERE care_unit_class = $1 AND evaluated_today = TRUE`
	res, err := r.db.ExecContext(ctx, query, class, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset evaluations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset evaluations rows: %w", err)
	}
	return affected, nil
}
