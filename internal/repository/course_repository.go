package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

const courseColumns = `id, patient_id, name, category, dose, frequency, route, justification, regimen, start_date, planned_duration_days, manual_offset, adjusted_day, last_adjustment_date, frozen_until, status, status_changed_at, authorization_status, authorization_comment, switch_reason, replaces_course_id, created_at, updated_at`

const insertCourseQuery = `INSERT INTO courses (id, patient_id, name, category, dose, frequency, route, justification, regimen, start_date, planned_duration_days, manual_offset, adjusted_day, last_adjustment_date, frozen_until, status, status_changed_at, authorization_status, authorization_comment, switch_reason, replaces_course_id, created_at, updated_at)
VALUES (:id, :patient_id, :name, :category, :dose, :frequency, :route, :justification, :regimen, :start_date, :planned_duration_days, :manual_offset, :adjusted_day, :last_adjustment_date, :frozen_until, :status, :status_changed_at, :authorization_status, :authorization_comment, :switch_reason, :replaces_course_id, :created_at, :updated_at)`

// CourseRepository persists antimicrobial courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// GetByID returns a course by identifier.
func (r *CourseRepository) GetByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1 LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &course, nil
}

// ListByPatient returns every course of a patient in prescription order.
func (r *CourseRepository) ListByPatient(ctx context.Context, patientID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE patient_id = $1 ORDER BY created_at ASC, id ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, patientID); err != nil {
		return nil, fmt.Errorf("list patient courses: %w", err)
	}
	return courses, nil
}

// ListByPatients returns the courses of several patients grouped by patient id.
func (r *CourseRepository) ListByPatients(ctx context.Context, patientIDs []string) (map[string][]models.Course, error) {
	grouped := make(map[string][]models.Course, len(patientIDs))
	if len(patientIDs) == 0 {
		return grouped, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE patient_id = ANY($1) ORDER BY created_at ASC, id ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, pq.Array(patientIDs)); err != nil {
		return nil, fmt.Errorf("list courses by patients: %w", err)
	}
	for _, course := range courses {
		grouped[course.PatientID] = append(grouped[course.PatientID], course)
	}
	return grouped, nil
}

// ListActive returns every course still in use.
func (r *CourseRepository) ListActive(ctx context.Context) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE status = $1 ORDER BY patient_id ASC, created_at ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, models.CourseStatusActive); err != nil {
		return nil, fmt.Errorf("list active courses: %w", err)
	}
	return courses, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	prepareCourse(course)
	if _, err := r.db.NamedExecContext(ctx, insertCourseQuery, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update applies a partial mutation. Last write wins.
func (r *CourseRepository) Update(ctx context.Context, id string, upd models.CourseUpdate) error {
	return updateCourse(ctx, r.db, id, upd, courseGuard{})
}

// UpdateActive applies a mutation only while the course is still active.
// sql.ErrNoRows reports a missing or already closed course.
func (r *CourseRepository) UpdateActive(ctx context.Context, id string, upd models.CourseUpdate) error {
	return updateCourse(ctx, r.db, id, upd, courseGuard{status: models.CourseStatusActive})
}

// UpdatePendingVerdict writes an authorization verdict only while the course is
// active and still pending review. sql.ErrNoRows reports a course that was
// closed or already reviewed.
func (r *CourseRepository) UpdatePendingVerdict(ctx context.Context, id string, upd models.CourseUpdate) error {
	return updateCourse(ctx, r.db, id, upd, courseGuard{
		status:        models.CourseStatusActive,
		authorization: models.AuthorizationPending,
	})
}

// Switch closes a course as switched and inserts its replacement in one transaction.
// The close only applies while the course is still active.
func (r *CourseRepository) Switch(ctx context.Context, id string, closing models.CourseUpdate, replacement *models.Course) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin switch course tx: %w", err)
	}
	if err := updateCourse(ctx, tx, id, closing, courseGuard{status: models.CourseStatusActive}); err != nil {
		_ = tx.Rollback()
		return err
	}
	prepareCourse(replacement)
	if _, err := tx.NamedExecContext(ctx, insertCourseQuery, replacement); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create replacement course: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit switch course tx: %w", err)
	}
	return nil
}

func prepareCourse(course *models.Course) {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	if course.Status == "" {
		course.Status = models.CourseStatusActive
	}
	if course.Authorization == "" {
		course.Authorization = models.AuthorizationPending
	}
	if course.Regimen == "" {
		course.Regimen = models.RegimenCourse
	}
}

// courseGuard narrows an update to rows still in the expected state.
type courseGuard struct {
	status        models.CourseStatus
	authorization models.Authorization
}

func updateCourse(ctx context.Context, exec sqlx.ExecerContext, id string, upd models.CourseUpdate, guard courseGuard) error {
	set := make([]string, 0, 10)
	args := make([]interface{}, 0, 12)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.StatusChangedAt != nil {
		add("status_changed_at", *upd.StatusChangedAt)
	}
	if upd.Authorization != nil {
		add("authorization_status", *upd.Authorization)
	}
	if upd.AuthorizationComment != nil {
		add("authorization_comment", *upd.AuthorizationComment)
	}
	if upd.SwitchReason != nil {
		add("switch_reason", *upd.SwitchReason)
	}
	if upd.PlannedDurationDays != nil {
		add("planned_duration_days", *upd.PlannedDurationDays)
	}
	if adj := upd.Adjustment; adj != nil {
		add("manual_offset", adj.Offset)
		add("adjusted_day", adj.Day)
		add("last_adjustment_date", adj.AdjustedOn)
		add("frozen_until", adj.FrozenUntil)
	}
	if len(set) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if guard.status != "" {
		args = append(args, guard.status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if guard.authorization != "" {
		args = append(args, guard.authorization)
		where += fmt.Sprintf(" AND authorization_status = $%d", len(args))
	}
	query := fmt.Sprintf("UPDATE courses SET %s WHERE %s", strings.Join(set, ", "), where)
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
