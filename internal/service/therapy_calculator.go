package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

// TherapyPolicy holds the per-unit day boundaries and the manual edit lock toggle.
type TherapyPolicy struct {
	RolloverStandard clock.TimeOfDay
	RolloverCritical clock.TimeOfDay
	DayLock          bool
}

// Rollover returns the day boundary of a care unit class.
func (p TherapyPolicy) Rollover(class models.CareUnitClass) clock.TimeOfDay {
	switch class {
	case models.CareUnitCritical:
		return p.RolloverCritical
	case models.CareUnitStandard:
		return p.RolloverStandard
	default:
		return p.RolloverStandard
	}
}

// EffectiveDate is the calendar day counted as "today" at now: the previous day
// until the rollover time is reached.
func EffectiveDate(now time.Time, rollover clock.TimeOfDay) time.Time {
	today := clock.StartOfDay(now)
	if rollover.Reached(now) {
		return today
	}
	return today.AddDate(0, 0, -1)
}

// NextRollover returns the first rollover instant strictly after now.
func NextRollover(now time.Time, rollover clock.TimeOfDay) time.Time {
	next := rollover.On(now)
	if !now.Before(next) {
		next = rollover.On(clock.StartOfNextDay(now))
	}
	return next
}

// ComputeDay derives the displayed day of therapy and the remaining days of a course at now.
// A missing start date yields an unknown result instead of an error.
func ComputeDay(course *models.Course, rollover clock.TimeOfDay, dayLock bool, now time.Time) models.DayResult {
	if course == nil {
		return models.DayResult{Urgency: models.UrgencyUnknown}
	}
	if course.Regimen == models.RegimenSingleDose {
		return models.DayResult{
			Known:         true,
			Day:           1,
			CalculatedDay: 1,
			SingleDose:    true,
			Urgency:       models.UrgencyNotApplicable,
		}
	}
	if course.StartDate == nil || course.StartDate.IsZero() || course.PlannedDurationDays < 1 {
		return models.DayResult{Urgency: models.UrgencyUnknown}
	}

	effective := EffectiveDate(now, rollover)
	calculated := clampDay(clock.DaysBetween(*course.StartDate, effective) + 1)

	display := calculated + course.ManualOffset
	frozen := false
	if adj := course.Adjustment(); adj != nil {
		display = calculated + adj.Offset
		if dayLock && !adj.FrozenUntil.IsZero() && now.Before(adj.FrozenUntil) {
			display = adj.Day
			frozen = true
		}
	}
	display = clampDay(display)

	remaining := course.PlannedDurationDays - display
	sy, sm, sd := course.StartDate.Date()
	plannedEnd := time.Date(sy, sm, sd+course.PlannedDurationDays, 0, 0, 0, 0, now.Location())

	return models.DayResult{
		Known:         true,
		Day:           display,
		CalculatedDay: calculated,
		DaysRemaining: &remaining,
		PlannedEnd:    &plannedEnd,
		EffectiveDate: &effective,
		Frozen:        frozen,
		Urgency:       urgencyFor(remaining),
	}
}

// NewDayAdjustment records an operator typing day as the displayed day at now.
// The offset is taken against the natural day at edit time and the edit holds until
// the later of the next rollover and the next calendar midnight.
func NewDayAdjustment(course *models.Course, day int, rollover clock.TimeOfDay, now time.Time) (models.DayAdjustment, error) {
	if course == nil {
		return models.DayAdjustment{}, appErrors.ErrNotFound
	}
	if course.Regimen == models.RegimenSingleDose {
		return models.DayAdjustment{}, appErrors.Clone(appErrors.ErrValidation, "single-dose regimens have no day count")
	}
	if day < 1 {
		return models.DayAdjustment{}, appErrors.Clone(appErrors.ErrValidation, "day must be at least 1")
	}
	natural := ComputeDay(course, rollover, false, now)
	if !natural.Known {
		return models.DayAdjustment{}, appErrors.Wrap(models.ErrInvalidStartDate, appErrors.ErrDayUnknown.Code, appErrors.ErrDayUnknown.Status, appErrors.ErrDayUnknown.Message)
	}

	frozenUntil := NextRollover(now, rollover)
	if midnight := clock.StartOfNextDay(now); midnight.After(frozenUntil) {
		frozenUntil = midnight
	}
	return models.DayAdjustment{
		Offset:      day - natural.CalculatedDay,
		Day:         day,
		AdjustedOn:  now,
		FrozenUntil: frozenUntil,
	}, nil
}

func clampDay(day int) int {
	if day < 1 {
		return 1
	}
	return day
}

func urgencyFor(remaining int) models.Urgency {
	switch {
	case remaining < 0:
		return models.UrgencyOverdue
	case remaining == 0:
		return models.UrgencyDue
	case remaining <= 2:
		return models.UrgencyWarning
	default:
		return models.UrgencyNormal
	}
}

type therapyPolicySource interface {
	TherapyPolicy(ctx context.Context) (TherapyPolicy, error)
}

// TherapyCalculator answers day-of-therapy reads against the live clock and policy.
type TherapyCalculator struct {
	clock    clock.Clock
	policies therapyPolicySource
	fallback TherapyPolicy
	logger   *zap.Logger
}

// NewTherapyCalculator constructs the calculator. fallback applies when the policy source fails.
func NewTherapyCalculator(clk clock.Clock, policies therapyPolicySource, fallback TherapyPolicy, logger *zap.Logger) *TherapyCalculator {
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TherapyCalculator{clock: clk, policies: policies, fallback: fallback, logger: logger}
}

// Now returns the calculator's current instant.
func (c *TherapyCalculator) Now() time.Time {
	return c.clock.Now()
}

// Policy resolves the active policy.
func (c *TherapyCalculator) Policy(ctx context.Context) TherapyPolicy {
	if c.policies == nil {
		return c.fallback
	}
	policy, err := c.policies.TherapyPolicy(ctx)
	if err != nil {
		c.logger.Warn("therapy policy unavailable, using defaults", zap.Error(err))
		return c.fallback
	}
	return policy
}

// Compute evaluates a course of a patient in the given class.
func (c *TherapyCalculator) Compute(policy TherapyPolicy, class models.CareUnitClass, course *models.Course) models.DayResult {
	return ComputeDay(course, policy.Rollover(class), policy.DayLock, c.clock.Now())
}

// DisplayDay returns the day shown for a course.
func (c *TherapyCalculator) DisplayDay(policy TherapyPolicy, class models.CareUnitClass, course *models.Course) (int, error) {
	result := c.Compute(policy, class, course)
	if !result.Known {
		return 0, models.ErrInvalidStartDate
	}
	return result.Day, nil
}

// DaysRemaining returns the planned days left, zero or less once due.
// Single-dose regimens report models.ErrRemainingNotApplicable.
func (c *TherapyCalculator) DaysRemaining(policy TherapyPolicy, class models.CareUnitClass, course *models.Course) (int, error) {
	result := c.Compute(policy, class, course)
	if !result.Known {
		return 0, models.ErrInvalidStartDate
	}
	if result.SingleDose || result.DaysRemaining == nil {
		return 0, models.ErrRemainingNotApplicable
	}
	return *result.DaysRemaining, nil
}

// IsOverdue reports whether an active course reached its planned duration.
func (c *TherapyCalculator) IsOverdue(policy TherapyPolicy, class models.CareUnitClass, course *models.Course) bool {
	if course == nil || !course.Active() {
		return false
	}
	return c.Compute(policy, class, course).Overdue()
}

// Adjust builds the correction for an operator-entered day.
func (c *TherapyCalculator) Adjust(ctx context.Context, class models.CareUnitClass, course *models.Course, day int) (models.DayAdjustment, error) {
	policy := c.Policy(ctx)
	return NewDayAdjustment(course, day, policy.Rollover(class), c.clock.Now())
}
