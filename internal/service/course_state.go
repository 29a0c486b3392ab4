package service

import (
	"errors"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

// TransitionStatus validates a lifecycle change. Only an active course may move,
// and only to one of the terminal statuses.
func TransitionStatus(current, next models.CourseStatus) error {
	fail := func(reason string) error {
		return &models.TransitionError{Axis: models.AxisStatus, From: string(current), To: string(next), Reason: reason}
	}
	if !next.Valid() {
		return fail("unknown status")
	}
	switch current {
	case models.CourseStatusActive:
		if next == models.CourseStatusActive {
			return fail("course is already active")
		}
		return nil
	case models.CourseStatusSuspended, models.CourseStatusCompleted, models.CourseStatusSwitched,
		models.CourseStatusLeftCare, models.CourseStatusDeceased:
		return fail("course is closed")
	default:
		return fail("unknown current status")
	}
}

// TransitionAuthorization validates a reviewer verdict. Verdicts apply once,
// from pending, while the course is active.
func TransitionAuthorization(status models.CourseStatus, current, next models.Authorization) error {
	fail := func(reason string) error {
		return &models.TransitionError{Axis: models.AxisAuthorization, From: string(current), To: string(next), Reason: reason}
	}
	if status != models.CourseStatusActive {
		return fail("course is " + string(status))
	}
	switch next {
	case models.AuthorizationApproved, models.AuthorizationRejected:
	case models.AuthorizationPending:
		return fail("verdicts cannot be withdrawn; switch the course instead")
	default:
		return fail("unknown verdict")
	}
	switch current {
	case models.AuthorizationPending:
		return nil
	case models.AuthorizationApproved, models.AuthorizationRejected:
		return fail("course already reviewed")
	default:
		return fail("unknown current verdict")
	}
}

// DerivePatientAuthorization folds the active courses of a patient into one verdict.
// Any rejection wins, then any pending review; a patient with no active course is pending.
func DerivePatientAuthorization(courses []models.Course) models.Authorization {
	active := 0
	pending := false
	for i := range courses {
		if !courses[i].Active() {
			continue
		}
		active++
		switch courses[i].Authorization {
		case models.AuthorizationRejected:
			return models.AuthorizationRejected
		case models.AuthorizationApproved:
		case models.AuthorizationPending:
			pending = true
		default:
			pending = true
		}
	}
	if active == 0 || pending {
		return models.AuthorizationPending
	}
	return models.AuthorizationApproved
}

func transitionFailure(err error) error {
	var te *models.TransitionError
	if errors.As(err, &te) {
		return appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, te.Error())
	}
	return err
}
