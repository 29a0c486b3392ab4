package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

type courseService interface {
	ChangeStatus(ctx context.Context, courseID string, req dto.ChangeStatusRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error)
	Switch(ctx context.Context, courseID string, req dto.SwitchCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error)
	Authorize(ctx context.Context, courseID string, req dto.AuthorizeCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error)
	AdjustDay(ctx context.Context, courseID string, req dto.AdjustDayRequest, actor *models.JWTClaims) (*dto.CourseView, error)
	GetDay(ctx context.Context, courseID string) (*dto.CourseView, error)
}

// CourseHandler exposes course lifecycle endpoints.
type CourseHandler struct {
	service courseService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(service courseService) *CourseHandler {
	return &CourseHandler{service: service}
}

// ChangeStatus godoc
// @Summary Close or reopen a course
// @Description Terminal statuses are suspended, completed, switched (via /switch) and deceased.
// @Tags Courses
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.ChangeStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/status [post]
func (h *CourseHandler) ChangeStatus(c *gin.Context) {
	var req dto.ChangeStatusRequest
	if !bindCourseJSON(c, &req) {
		return
	}
	res, err := h.service.ChangeStatus(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Switch godoc
// @Summary Switch a course to a replacement
// @Tags Courses
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.SwitchCourseRequest true "Switch payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/switch [post]
func (h *CourseHandler) Switch(c *gin.Context) {
	var req dto.SwitchCourseRequest
	if !bindCourseJSON(c, &req) {
		return
	}
	res, err := h.service.Switch(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Authorize godoc
// @Summary Record the stewardship verdict on a course
// @Description Reviewer roles only. A verdict is final.
// @Tags Courses
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.AuthorizeCourseRequest true "Verdict payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/authorization [post]
func (h *CourseHandler) Authorize(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.AuthorizeCourseRequest
	if !bindCourseJSON(c, &req) {
		return
	}
	res, err := h.service.Authorize(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// AdjustDay godoc
// @Summary Correct the displayed day of therapy
// @Description With the day lock enabled the value holds until the next rollover.
// @Tags Courses
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.AdjustDayRequest true "Day payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/day [put]
func (h *CourseHandler) AdjustDay(c *gin.Context) {
	var req dto.AdjustDayRequest
	if !bindCourseJSON(c, &req) {
		return
	}
	view, err := h.service.AdjustDay(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// GetDay godoc
// @Summary Day of therapy for a course
// @Tags Courses
// @Security BearerAuth
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/day [get]
func (h *CourseHandler) GetDay(c *gin.Context) {
	view, err := h.service.GetDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

func bindCourseJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return false
	}
	return true
}
