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

type alertService interface {
	List(ctx context.Context, query dto.AlertQuery) ([]models.Alert, error)
	Acknowledge(ctx context.Context, id string, actor *models.JWTClaims) error
}

// AlertHandler exposes the alerts raised by housekeeping tasks.
type AlertHandler struct {
	service alertService
}

// NewAlertHandler constructs the handler.
func NewAlertHandler(service alertService) *AlertHandler {
	return &AlertHandler{service: service}
}

// List godoc
// @Summary List alerts
// @Tags Alerts
// @Security BearerAuth
// @Produce json
// @Param kind query string false "pending_review or overdue_course"
// @Param includeAcknowledged query bool false "Include dismissed alerts"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	var query dto.AlertQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	alerts, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil)
}

// Acknowledge godoc
// @Summary Dismiss an alert
// @Tags Alerts
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /alerts/{id}/acknowledge [post]
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Acknowledge(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
