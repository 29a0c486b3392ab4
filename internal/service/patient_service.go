package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type patientStore interface {
	GetByID(ctx context.Context, id string) (*models.Patient, error)
	Create(ctx context.Context, patient *models.Patient) error
	Update(ctx context.Context, id string, upd models.PatientUpdate) error
}

type historySource interface {
	ListByPatient(ctx context.Context, patientID string, limit int) ([]models.AuditLog, error)
}

// PatientServiceConfig holds the unit partition used on admission.
type PatientServiceConfig struct {
	CriticalCareSectors []string
}

// PatientService handles admissions, daily evaluations and history reads.
type PatientService struct {
	patients  patientStore
	history   historySource
	audit     auditLogger
	cache     boardInvalidator
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
	critical  map[string]struct{}
}

// NewPatientService constructs the service.
func NewPatientService(
	patients patientStore,
	history historySource,
	audit auditLogger,
	cache boardInvalidator,
	clk clock.Clock,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg PatientServiceConfig,
) *PatientService {
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	critical := make(map[string]struct{}, len(cfg.CriticalCareSectors))
	for _, sector := range cfg.CriticalCareSectors {
		if key := normalizeSector(sector); key != "" {
			critical[key] = struct{}{}
		}
	}
	return &PatientService{
		patients:  patients,
		history:   history,
		audit:     audit,
		cache:     cache,
		clock:     clk,
		validator: validate,
		logger:    logger,
		critical:  critical,
	}
}

// ClassifySector maps a sector to its care unit class.
func (s *PatientService) ClassifySector(sector string) models.CareUnitClass {
	if _, ok := s.critical[normalizeSector(sector)]; ok {
		return models.CareUnitCritical
	}
	return models.CareUnitStandard
}

// Admit registers a patient on the board.
func (s *PatientService) Admit(ctx context.Context, req dto.AdmitPatientRequest, actor *models.JWTClaims) (*models.Patient, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid patient payload")
	}
	patient := &models.Patient{
		Name:          strings.TrimSpace(req.Name),
		Bed:           strings.TrimSpace(req.Bed),
		Sector:        strings.TrimSpace(req.Sector),
		CareUnitClass: req.CareUnitClass,
		Diagnosis:     req.Diagnosis,
		TreatmentType: req.TreatmentType,
		Authorization: models.AuthorizationPending,
		Observation:   req.Observation,
	}
	if patient.CareUnitClass == "" {
		patient.CareUnitClass = s.ClassifySector(patient.Sector)
	}
	if patient.TreatmentType == "" {
		patient.TreatmentType = models.TreatmentTherapeutic
	}
	if req.BirthDate != "" {
		birth, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "birthDate must be YYYY-MM-DD")
		}
		patient.BirthDate = &birth
	}

	if err := s.patients.Create(ctx, patient); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to admit patient")
	}
	s.record(ctx, actor, patient.ID, models.AuditActionAdmit,
		fmt.Sprintf("admitted to %s bed %s (%s)", patient.Sector, patient.Bed, patient.CareUnitClass),
		map[string]interface{}{"care_unit_class": patient.CareUnitClass, "sector": patient.Sector})
	s.invalidateBoard(ctx)
	return patient, nil
}

// Evaluate marks the patient as reviewed today.
func (s *PatientService) Evaluate(ctx context.Context, id string, actor *models.JWTClaims) (*models.Patient, error) {
	patient, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	evaluated := true
	if err := s.patients.Update(ctx, id, models.PatientUpdate{EvaluatedToday: &evaluated, LastEvaluationDate: &now}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "patient not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record evaluation")
	}
	patient.EvaluatedToday = true
	patient.LastEvaluationDate = &now

	s.record(ctx, actor, id, models.AuditActionEvaluate, "evaluated on "+clock.DateKey(now),
		map[string]interface{}{"evaluated_today": true})
	s.invalidateBoard(ctx)
	return patient, nil
}

// History returns the newest audit entries of a patient.
func (s *PatientService) History(ctx context.Context, id string, limit int) ([]dto.HistoryEntry, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.history.ListByPatient(ctx, id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient history")
	}
	entries := make([]dto.HistoryEntry, 0, len(logs))
	for _, log := range logs {
		actor := "system"
		if log.UserID != nil && *log.UserID != "" {
			actor = *log.UserID
		}
		entries = append(entries, dto.HistoryEntry{
			At:       log.CreatedAt,
			Action:   log.Action,
			Actor:    actor,
			Resource: log.Resource,
			Details:  log.Details,
		})
	}
	return entries, nil
}

func (s *PatientService) get(ctx context.Context, id string) (*models.Patient, error) {
	patient, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "patient not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient")
	}
	return patient, nil
}

func (s *PatientService) record(ctx context.Context, actor *models.JWTClaims, patientID, action, details string, newValues map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(newValues)
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "patient",
		ResourceID: &patientID,
		PatientID:  &patientID,
		NewValues:  payload,
		Details:    details,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.String("patient_id", patientID), zap.Error(err))
	}
}

func (s *PatientService) invalidateBoard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("board cache invalidation failed", zap.Error(err))
	}
}

func normalizeSector(sector string) string {
	return strings.ToUpper(strings.Join(strings.Fields(sector), " "))
}
