package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type courseStore interface {
	GetByID(ctx context.Context, id string) (*models.Course, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	UpdateActive(ctx context.Context, id string, upd models.CourseUpdate) error
	UpdatePendingVerdict(ctx context.Context, id string, upd models.CourseUpdate) error
	Switch(ctx context.Context, id string, closing models.CourseUpdate, replacement *models.Course) error
}

type coursePatientStore interface {
	GetByID(ctx context.Context, id string) (*models.Patient, error)
	Update(ctx context.Context, id string, upd models.PatientUpdate) error
}

// CourseService runs the operator actions on antimicrobial courses.
type CourseService struct {
	courses    courseStore
	patients   coursePatientStore
	calculator *TherapyCalculator
	audit      auditLogger
	cache      boardInvalidator
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCourseService constructs the service.
func NewCourseService(
	courses courseStore,
	patients coursePatientStore,
	calculator *TherapyCalculator,
	audit auditLogger,
	cache boardInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		courses:    courses,
		patients:   patients,
		calculator: calculator,
		audit:      audit,
		cache:      cache,
		validator:  validate,
		logger:     logger,
	}
}

// Prescribe starts a new active course awaiting review.
func (s *CourseService) Prescribe(ctx context.Context, patientID string, req dto.PrescribeCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	patient, err := s.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	course, err := newCourseFromRequest(patient.ID, req)
	if err != nil {
		return nil, err
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.record(ctx, actor, patient.ID, course.ID, models.AuditActionPrescribe,
		fmt.Sprintf("prescribed %s %s %s for %d day(s)", course.Name, course.Dose, course.Frequency, course.PlannedDurationDays),
		nil, map[string]interface{}{"status": course.Status, "authorization": course.Authorization})
	return s.finish(ctx, patient, course, nil)
}

// ChangeStatus closes an active course. Switching has its own action because it
// creates the replacement course.
func (s *CourseService) ChangeStatus(ctx context.Context, courseID string, req dto.ChangeStatusRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if req.Status == models.CourseStatusSwitched {
		return nil, appErrors.Clone(appErrors.ErrValidation, "use the switch action to replace a course")
	}
	course, patient, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := TransitionStatus(course.Status, req.Status); err != nil {
		return nil, transitionFailure(err)
	}

	now := s.calculator.Now()
	upd := models.CourseUpdate{Status: &req.Status, StatusChangedAt: &now}
	if err := s.courses.UpdateActive(ctx, course.ID, upd); err != nil {
		return nil, s.mutationFailure(err, models.AxisStatus, string(course.Status), string(req.Status), "course was closed meanwhile")
	}
	previous := course.Status
	course.Status = req.Status
	course.StatusChangedAt = &now

	details := fmt.Sprintf("%s: %s -> %s", course.Name, previous, req.Status)
	if req.Reason != "" {
		details += " (" + req.Reason + ")"
	}
	s.record(ctx, actor, patient.ID, course.ID, models.AuditActionStatusChange, details,
		map[string]interface{}{"status": previous}, map[string]interface{}{"status": req.Status})
	return s.finish(ctx, patient, course, nil)
}

// Switch closes an active course as switched and starts its replacement.
func (s *CourseService) Switch(ctx context.Context, courseID string, req dto.SwitchCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid switch payload")
	}
	course, patient, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := TransitionStatus(course.Status, models.CourseStatusSwitched); err != nil {
		return nil, transitionFailure(err)
	}
	replacement, err := newCourseFromRequest(patient.ID, req.Replacement)
	if err != nil {
		return nil, err
	}
	replacement.ReplacesCourseID = &course.ID

	now := s.calculator.Now()
	switched := models.CourseStatusSwitched
	reason := req.Reason
	closing := models.CourseUpdate{Status: &switched, StatusChangedAt: &now, SwitchReason: &reason}
	if err := s.courses.Switch(ctx, course.ID, closing, replacement); err != nil {
		return nil, s.mutationFailure(err, models.AxisStatus, string(course.Status), string(switched), "course was closed meanwhile")
	}
	course.Status = switched
	course.StatusChangedAt = &now
	course.SwitchReason = &reason

	s.record(ctx, actor, patient.ID, course.ID, models.AuditActionSwitch,
		fmt.Sprintf("%s switched to %s: %s", course.Name, replacement.Name, reason),
		map[string]interface{}{"status": models.CourseStatusActive},
		map[string]interface{}{"status": switched, "replacement_id": replacement.ID})
	return s.finish(ctx, patient, course, replacement)
}

// Authorize records a reviewer verdict on a pending course.
func (s *CourseService) Authorize(ctx context.Context, courseID string, req dto.AuthorizeCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error) {
	if actor == nil || !actor.Role.Reviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only infection control reviewers may authorize courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid authorization payload")
	}
	course, patient, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := TransitionAuthorization(course.Status, course.Authorization, req.Decision); err != nil {
		return nil, transitionFailure(err)
	}

	upd := models.CourseUpdate{Authorization: &req.Decision}
	if req.Comment != "" {
		upd.AuthorizationComment = &req.Comment
	}
	if err := s.courses.UpdatePendingVerdict(ctx, course.ID, upd); err != nil {
		return nil, s.mutationFailure(err, models.AxisAuthorization, string(course.Authorization), string(req.Decision), "course was already reviewed or closed")
	}
	previous := course.Authorization
	course.Authorization = req.Decision
	if upd.AuthorizationComment != nil {
		course.AuthorizationComment = upd.AuthorizationComment
	}

	s.record(ctx, actor, patient.ID, course.ID, models.AuditActionAuthorize,
		fmt.Sprintf("%s %s by %s", course.Name, req.Decision, actor.Role),
		map[string]interface{}{"authorization": previous},
		map[string]interface{}{"authorization": req.Decision, "comment": req.Comment})
	return s.finish(ctx, patient, course, nil)
}

// AdjustDay overrides the displayed day of an active course.
func (s *CourseService) AdjustDay(ctx context.Context, courseID string, req dto.AdjustDayRequest, actor *models.JWTClaims) (*dto.CourseView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid day payload")
	}
	course, patient, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.Active() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only active courses can be adjusted")
	}
	policy := s.calculator.Policy(ctx)
	before := s.calculator.Compute(policy, patient.CareUnitClass, course)

	adj, err := s.calculator.Adjust(ctx, patient.CareUnitClass, course, req.Day)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to adjust day")
	}
	if err := s.courses.UpdateActive(ctx, course.ID, models.CourseUpdate{Adjustment: &adj}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course was closed meanwhile")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save day adjustment")
	}
	course.ManualOffset = adj.Offset
	course.AdjustedDay = &adj.Day
	course.LastAdjustmentDate = &adj.AdjustedOn
	course.FrozenUntil = &adj.FrozenUntil

	s.record(ctx, actor, patient.ID, course.ID, models.AuditActionDayAdjust,
		fmt.Sprintf("%s day %d -> %d (held until %s)", course.Name, before.Day, adj.Day, adj.FrozenUntil.Format(time.RFC3339)),
		map[string]interface{}{"day": before.Day, "offset": before.Day - before.CalculatedDay},
		map[string]interface{}{"day": adj.Day, "offset": adj.Offset, "frozen_until": adj.FrozenUntil})
	s.invalidateBoard(ctx)

	view := s.view(policy, patient.CareUnitClass, course)
	return &view, nil
}

// GetDay returns a course with its current day of therapy.
func (s *CourseService) GetDay(ctx context.Context, courseID string) (*dto.CourseView, error) {
	course, patient, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	view := s.view(s.calculator.Policy(ctx), patient.CareUnitClass, course)
	return &view, nil
}

// finish re-derives the patient verdict after a course change and builds the response.
func (s *CourseService) finish(ctx context.Context, patient *models.Patient, course, replacement *models.Course) (*dto.CourseMutationResponse, error) {
	derived, err := s.syncPatientAuthorization(ctx, patient)
	if err != nil {
		return nil, err
	}
	s.invalidateBoard(ctx)

	policy := s.calculator.Policy(ctx)
	resp := &dto.CourseMutationResponse{
		Course:               s.view(policy, patient.CareUnitClass, course),
		PatientAuthorization: derived,
	}
	if replacement != nil {
		view := s.view(policy, patient.CareUnitClass, replacement)
		resp.Replacement = &view
	}
	return resp, nil
}

func (s *CourseService) syncPatientAuthorization(ctx context.Context, patient *models.Patient) (models.Authorization, error) {
	courses, err := s.courses.ListByPatient(ctx, patient.ID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient courses")
	}
	derived := DerivePatientAuthorization(courses)
	if derived == patient.Authorization {
		return derived, nil
	}
	if err := s.patients.Update(ctx, patient.ID, models.PatientUpdate{Authorization: &derived}); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update patient authorization")
	}
	s.logger.Debug("patient authorization derived",
		zap.String("patient_id", patient.ID),
		zap.String("from", string(patient.Authorization)),
		zap.String("to", string(derived)),
	)
	patient.Authorization = derived
	return derived, nil
}

func (s *CourseService) view(policy TherapyPolicy, class models.CareUnitClass, course *models.Course) dto.CourseView {
	return dto.CourseView{Course: *course, DayInfo: s.calculator.Compute(policy, class, course)}
}

func (s *CourseService) loadPatient(ctx context.Context, id string) (*models.Patient, error) {
	patient, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "patient not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient")
	}
	return patient, nil
}

func (s *CourseService) loadCourse(ctx context.Context, id string) (*models.Course, *models.Patient, error) {
	course, err := s.courses.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	patient, err := s.loadPatient(ctx, course.PatientID)
	if err != nil {
		return nil, nil, err
	}
	return course, patient, nil
}

// mutationFailure maps a guarded write that matched no row to a transition error.
func (s *CourseService) mutationFailure(err error, axis models.TransitionAxis, from, to, reason string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return transitionFailure(&models.TransitionError{Axis: axis, From: from, To: to, Reason: reason})
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
}

func (s *CourseService) record(ctx context.Context, actor *models.JWTClaims, patientID, courseID, action, details string, oldValues, newValues map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "course",
		ResourceID: &courseID,
		PatientID:  &patientID,
		Details:    details,
		CreatedAt:  s.calculator.Now(),
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("course_id", courseID), zap.Error(err))
	}
}

func (s *CourseService) invalidateBoard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("board cache invalidation failed", zap.Error(err))
	}
}

func newCourseFromRequest(patientID string, req dto.PrescribeCourseRequest) (*models.Course, error) {
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be YYYY-MM-DD")
	}
	regimen := req.Regimen
	if regimen == "" {
		regimen = models.RegimenCourse
	}
	category := req.Category
	if category == "" {
		category = models.CategoryAntimicrobial
	}
	planned := req.PlannedDurationDays
	if regimen == models.RegimenSingleDose {
		planned = 1
	}
	return &models.Course{
		PatientID:           patientID,
		Name:                req.Name,
		Category:            category,
		Dose:                req.Dose,
		Frequency:           req.Frequency,
		Route:               req.Route,
		Justification:       req.Justification,
		Regimen:             regimen,
		StartDate:           &start,
		PlannedDurationDays: planned,
		Status:              models.CourseStatusActive,
		Authorization:       models.AuthorizationPending,
	}, nil
}
