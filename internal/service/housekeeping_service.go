package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
)

// Housekeeping task keys, in evaluation order.
const (
	TaskResetStandard        = "reset-standard"
	TaskResetCritical        = "reset-critical"
	TaskPendingAlertStandard = "pending-alert-standard"
	TaskPendingAlertCritical = "pending-alert-critical"
	TaskOverdueAlert         = "overdue-alert"
	TaskMonthlyReport        = "monthly-report"
)

type housekeepingPatientStore interface {
	List(ctx context.Context, filter models.PatientFilter) ([]models.Patient, int, error)
	ListUnevaluated(ctx context.Context, class models.CareUnitClass) ([]models.Patient, error)
	ResetEvaluations(ctx context.Context, class models.CareUnitClass) (int64, error)
}

type housekeepingCourseStore interface {
	ListActive(ctx context.Context) ([]models.Course, error)
}

type alertRaiser interface {
	Raise(ctx context.Context, alert *models.Alert) error
}

type monthlyReportGenerator interface {
	Generate(ctx context.Context, period string, now time.Time) (*models.MonthlyReport, error)
}

type boardInvalidator interface {
	Invalidate(ctx context.Context) error
}

// HousekeepingService implements the effects of the scheduled housekeeping tasks.
type HousekeepingService struct {
	patients   housekeepingPatientStore
	courses    housekeepingCourseStore
	alerts     alertRaiser
	reports    monthlyReportGenerator
	calculator *TherapyCalculator
	audit      auditLogger
	cache      boardInvalidator
	logger     *zap.Logger
}

// NewHousekeepingService constructs the service.
func NewHousekeepingService(
	patients housekeepingPatientStore,
	courses housekeepingCourseStore,
	alerts alertRaiser,
	reports monthlyReportGenerator,
	calculator *TherapyCalculator,
	audit auditLogger,
	cache boardInvalidator,
	logger *zap.Logger,
) *HousekeepingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HousekeepingService{
		patients:   patients,
		courses:    courses,
		alerts:     alerts,
		reports:    reports,
		calculator: calculator,
		audit:      audit,
		cache:      cache,
		logger:     logger,
	}
}

// Tasks declares the housekeeping tasks. Each care unit class has its own reset and
// pending-review task; there is no task touching both classes at once.
func (s *HousekeepingService) Tasks() []scheduler.Task {
	return []scheduler.Task{
		{Key: TaskResetStandard, Period: scheduler.Daily, Effect: s.resetEffect(models.CareUnitStandard)},
		{Key: TaskResetCritical, Period: scheduler.Daily, Effect: s.resetEffect(models.CareUnitCritical)},
		{Key: TaskPendingAlertStandard, Period: scheduler.Daily, Effect: s.pendingAlertEffect(models.CareUnitStandard)},
		{Key: TaskPendingAlertCritical, Period: scheduler.Daily, Effect: s.pendingAlertEffect(models.CareUnitCritical)},
		{Key: TaskOverdueAlert, Period: scheduler.Daily, Effect: s.RaiseOverdueAlert},
		{Key: TaskMonthlyReport, Period: scheduler.Monthly, Effect: s.GenerateMonthlyReport},
	}
}

func (s *HousekeepingService) resetEffect(class models.CareUnitClass) scheduler.Effect {
	return func(ctx context.Context, run scheduler.Run) error {
		return s.ResetEvaluations(ctx, class, run)
	}
}

func (s *HousekeepingService) pendingAlertEffect(class models.CareUnitClass) scheduler.Effect {
	return func(ctx context.Context, run scheduler.Run) error {
		return s.RaisePendingAlert(ctx, class, run)
	}
}

// ResetEvaluations clears the evaluated flag of every patient in class.
func (s *HousekeepingService) ResetEvaluations(ctx context.Context, class models.CareUnitClass, run scheduler.Run) error {
	cleared, err := s.patients.ResetEvaluations(ctx, class)
	if err != nil {
		return fmt.Errorf("reset %s evaluations: %w", class, err)
	}
	s.invalidateBoard(ctx)
	s.record(ctx, &models.AuditLog{
		Action:    models.AuditActionEvaluationReset,
		Resource:  "care_unit",
		Details:   fmt.Sprintf("cleared %d %s evaluation flags for %s", cleared, class, run.Period),
		IPAddress: "system",
		UserAgent: "scheduler",
		CreatedAt: run.Now,
	})
	s.logger.Info("evaluation flags cleared",
		zap.String("task", run.TaskKey),
		zap.String("period", run.Period),
		zap.String("unit_class", string(class)),
		zap.Int64("patients", cleared),
	)
	return nil
}

// RaisePendingAlert announces the patients of class not evaluated yet. Nothing is
// raised when every patient was evaluated; the task still counts as done.
func (s *HousekeepingService) RaisePendingAlert(ctx context.Context, class models.CareUnitClass, run scheduler.Run) error {
	patients, err := s.patients.ListUnevaluated(ctx, class)
	if err != nil {
		return fmt.Errorf("list unevaluated %s patients: %w", class, err)
	}
	if len(patients) == 0 {
		s.logger.Info("no pending evaluations", zap.String("task", run.TaskKey), zap.String("period", run.Period))
		return nil
	}
	names := make([]string, 0, len(patients))
	for _, patient := range patients {
		names = append(names, patient.Name)
	}
	preview, overflow := buildPreview(names)
	unit := class
	return s.alerts.Raise(ctx, &models.Alert{
		Kind:          models.AlertKindPendingReview,
		TaskKey:       run.TaskKey,
		Period:        run.Period,
		CareUnitClass: &unit,
		Message:       fmt.Sprintf("%d %s patient(s) awaiting evaluation", len(patients), class),
		Preview:       preview,
		Overflow:      overflow,
		Total:         len(patients),
		CreatedAt:     run.Now,
	})
}

// RaiseOverdueAlert announces active courses that reached their planned duration.
func (s *HousekeepingService) RaiseOverdueAlert(ctx context.Context, run scheduler.Run) error {
	courses, err := s.courses.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active courses: %w", err)
	}
	if len(courses) == 0 {
		return nil
	}
	patients, _, err := s.patients.List(ctx, models.PatientFilter{})
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}
	byID := make(map[string]models.Patient, len(patients))
	for _, patient := range patients {
		byID[patient.ID] = patient
	}

	policy := s.calculator.Policy(ctx)
	var entries []string
	for i := range courses {
		course := &courses[i]
		patient, ok := byID[course.PatientID]
		if !ok {
			continue
		}
		if !s.calculator.IsOverdue(policy, patient.CareUnitClass, course) {
			continue
		}
		day, err := s.calculator.DisplayDay(policy, patient.CareUnitClass, course)
		if err != nil {
			continue
		}
		entry := fmt.Sprintf("%s: %s day %d/%d", patient.Name, course.Name, day, course.PlannedDurationDays)
		if remaining, err := s.calculator.DaysRemaining(policy, patient.CareUnitClass, course); err == nil && remaining < 0 {
			entry += fmt.Sprintf(" (%d over)", -remaining)
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		s.logger.Info("no overdue courses", zap.String("task", run.TaskKey), zap.String("period", run.Period))
		return nil
	}
	preview, overflow := buildPreview(entries)
	return s.alerts.Raise(ctx, &models.Alert{
		Kind:      models.AlertKindOverdueCourse,
		TaskKey:   run.TaskKey,
		Period:    run.Period,
		Message:   fmt.Sprintf("%d course(s) at or past planned duration", len(entries)),
		Preview:   preview,
		Overflow:  overflow,
		Total:     len(entries),
		CreatedAt: run.Now,
	})
}

// GenerateMonthlyReport builds the report of the period and hands it off for delivery.
func (s *HousekeepingService) GenerateMonthlyReport(ctx context.Context, run scheduler.Run) error {
	report, err := s.reports.Generate(ctx, run.Period, run.Now)
	if err != nil {
		return fmt.Errorf("generate monthly report %s: %w", run.Period, err)
	}
	s.logger.Info("monthly report generated", zap.String("period", run.Period), zap.String("report_id", report.ID))
	return nil
}

func (s *HousekeepingService) invalidateBoard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("board cache invalidation failed", zap.Error(err))
	}
}

func (s *HousekeepingService) record(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", log.Action), zap.Error(err))
	}
}
