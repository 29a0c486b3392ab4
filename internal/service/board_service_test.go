package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type boardFixture struct {
	svc      *BoardService
	patients *patientStoreStub
	courses  *courseStoreStub
	cache    *CacheService
	repo     *memoryCacheRepo
	clock    *clock.Fake
}

func newBoardFixture(t *testing.T) *boardFixture {
	t.Helper()
	f := &boardFixture{
		patients: newPatientStoreStub(
			&models.Patient{ID: "p-1", Name: "Ana", CareUnitClass: models.CareUnitStandard},
			&models.Patient{ID: "p-2", Name: "Bruno", CareUnitClass: models.CareUnitCritical},
		),
		courses: newCourseStoreStub(
			&models.Course{ID: "c-1", PatientID: "p-1", Regimen: models.RegimenCourse, StartDate: dateUTC(2024, 3, 8), PlannedDurationDays: 7, Status: models.CourseStatusActive},
			&models.Course{ID: "c-2", PatientID: "p-2", Regimen: models.RegimenCourse, StartDate: dateUTC(2024, 3, 8), PlannedDurationDays: 7, Status: models.CourseStatusActive},
		),
		repo:  newMemoryCacheRepo(),
		clock: clock.NewFake(at(2024, 3, 10, 21, 0)),
	}
	f.cache = NewCacheService(f.repo, nil, time.Minute, nil, true)
	policy := TherapyPolicy{RolloverStandard: clock.Midnight, RolloverCritical: clock.MustParseTimeOfDay("22:00"), DayLock: true}
	calc := NewTherapyCalculator(f.clock, nil, policy, nil)
	f.svc = NewBoardService(f.patients, f.courses, calc, f.cache, nil, nil)
	return f
}

func firstCourse(t *testing.T, resp *dto.BoardResponse, patientID string) dto.CourseView {
	t.Helper()
	for _, p := range resp.Patients {
		if p.ID == patientID && len(p.Courses) > 0 {
			return p.Courses[0]
		}
	}
	t.Fatalf("patient %s has no course on the board", patientID)
	return dto.CourseView{}
}

func TestBoardServiceListComputesPerUnitDay(t *testing.T) {
	f := newBoardFixture(t)
	resp, err := f.svc.List(context.Background(), dto.PatientListQuery{})
	require.NoError(t, err)
	require.Len(t, resp.Patients, 2)
	assert.Equal(t, 3, firstCourse(t, resp, "p-1").DayInfo.Day)
	// critical care has not rolled over yet at 21:00
	assert.Equal(t, 2, firstCourse(t, resp, "p-2").DayInfo.Day)
	assert.Nil(t, resp.Pagination)
}

func TestBoardServiceCacheFollowsRollover(t *testing.T) {
	f := newBoardFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, dto.PatientListQuery{})
	require.NoError(t, err)
	require.Len(t, f.repo.values, 1)

	// a cached snapshot is served until something changes
	f.courses.courses["c-1"].PlannedDurationDays = 10
	resp, err := f.svc.List(ctx, dto.PatientListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 7, firstCourse(t, resp, "p-1").PlannedDurationDays)

	// the critical rollover produces a fresh snapshot
	f.clock.Set(at(2024, 3, 10, 22, 5))
	resp, err = f.svc.List(ctx, dto.PatientListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, firstCourse(t, resp, "p-2").DayInfo.Day)
	assert.Len(t, f.repo.values, 2)

	require.NoError(t, f.cache.Invalidate(ctx))
	assert.Empty(t, f.repo.values)
}

func TestBoardServiceListFiltersAndPaginates(t *testing.T) {
	f := newBoardFixture(t)
	resp, err := f.svc.List(context.Background(), dto.PatientListQuery{CareUnitClass: "critical", Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, resp.Patients, 1)
	assert.Equal(t, "p-2", resp.Patients[0].ID)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 1, resp.Pagination.TotalCount)

	_, err = f.svc.List(context.Background(), dto.PatientListQuery{CareUnitClass: "icu"})
	assertAppErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestBoardServiceGet(t *testing.T) {
	f := newBoardFixture(t)
	view, err := f.svc.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, view.Courses, 1)
	assert.Equal(t, 3, view.Courses[0].DayInfo.Day)

	_, err = f.svc.Get(context.Background(), "missing")
	assertAppErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestBoardCacheKeyIncludesFilters(t *testing.T) {
	policy := TherapyPolicy{RolloverStandard: clock.Midnight, RolloverCritical: clock.MustParseTimeOfDay("22:00")}
	critical := models.CareUnitCritical
	evaluated := false
	key := boardCacheKey(policy, at(2024, 3, 10, 21, 0), models.PatientFilter{CareUnitClass: &critical, Sector: "UTI", Evaluated: &evaluated, Page: 2, PageSize: 10})
	assert.Equal(t, "board:2024-03-10:2024-03-10:2024-03-09:critical:uti::false:2:10", key)
}
