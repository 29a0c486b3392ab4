package service

import (
	"context"
	"database/sql"
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

type boardPatientSource interface {
	List(ctx context.Context, filter models.PatientFilter) ([]models.Patient, int, error)
	GetByID(ctx context.Context, id string) (*models.Patient, error)
}

type boardCourseSource interface {
	ListByPatients(ctx context.Context, patientIDs []string) (map[string][]models.Course, error)
}

type boardCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// BoardService serves the patient board with day-of-therapy computed at read time.
type BoardService struct {
	patients   boardPatientSource
	courses    boardCourseSource
	calculator *TherapyCalculator
	cache      boardCache
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewBoardService constructs the board read service. cache may be nil.
func NewBoardService(patients boardPatientSource, courses boardCourseSource, calculator *TherapyCalculator, cache boardCache, validate *validator.Validate, logger *zap.Logger) *BoardService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardService{
		patients:   patients,
		courses:    courses,
		calculator: calculator,
		cache:      cache,
		validator:  validate,
		logger:     logger,
	}
}

// List returns the filtered board.
func (s *BoardService) List(ctx context.Context, query dto.PatientListQuery) (*dto.BoardResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid board filter")
	}
	filter := models.PatientFilter{
		Sector:    strings.TrimSpace(query.Sector),
		Search:    strings.TrimSpace(query.Search),
		Evaluated: query.Evaluated,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if query.CareUnitClass != "" {
		class := models.CareUnitClass(query.CareUnitClass)
		filter.CareUnitClass = &class
	}

	policy := s.calculator.Policy(ctx)
	now := s.calculator.Now()
	key := boardCacheKey(policy, now, filter)

	if s.cache != nil {
		var cached dto.BoardResponse
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	patients, total, err := s.patients.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list patients")
	}
	views, err := s.attachCourses(ctx, policy, patients)
	if err != nil {
		return nil, err
	}
	resp := &dto.BoardResponse{GeneratedAt: now, Patients: views}
	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		resp.Pagination = &models.Pagination{Page: page, PageSize: filter.PageSize, TotalCount: total}
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, resp, 0)
	}
	return resp, nil
}

// Get returns one patient with every course.
func (s *BoardService) Get(ctx context.Context, id string) (*dto.PatientView, error) {
	patient, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "patient not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient")
	}
	views, err := s.attachCourses(ctx, s.calculator.Policy(ctx), []models.Patient{*patient})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *BoardService) attachCourses(ctx context.Context, policy TherapyPolicy, patients []models.Patient) ([]dto.PatientView, error) {
	views := make([]dto.PatientView, 0, len(patients))
	if len(patients) == 0 {
		return views, nil
	}
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	byPatient, err := s.courses.ListByPatients(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	for _, p := range patients {
		courses := byPatient[p.ID]
		view := dto.PatientView{Patient: p, Courses: make([]dto.CourseView, 0, len(courses))}
		for i := range courses {
			course := courses[i]
			view.Courses = append(view.Courses, dto.CourseView{
				Course:  course,
				DayInfo: s.calculator.Compute(policy, p.CareUnitClass, &course),
			})
		}
		views = append(views, view)
	}
	return views, nil
}

// boardCacheKey changes whenever any displayed day may change: at each rollover and at midnight.
func boardCacheKey(policy TherapyPolicy, now time.Time, filter models.PatientFilter) string {
	class := "all"
	if filter.CareUnitClass != nil {
		class = string(*filter.CareUnitClass)
	}
	evaluated := "any"
	if filter.Evaluated != nil {
		evaluated = fmt.Sprintf("%t", *filter.Evaluated)
	}
	return fmt.Sprintf("board:%s:%s:%s:%s:%s:%s:%s:%d:%d",
		clock.DateKey(now),
		clock.DateKey(EffectiveDate(now, policy.RolloverStandard)),
		clock.DateKey(EffectiveDate(now, policy.RolloverCritical)),
		class,
		strings.ToLower(filter.Sector),
		strings.ToLower(filter.Search),
		evaluated,
		filter.Page,
		filter.PageSize,
	)
}
