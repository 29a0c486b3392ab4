package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

type schedulerService interface {
	Status(ctx context.Context) dto.SchedulerStatusResponse
	Poll(ctx context.Context, actor *models.JWTClaims) []dto.SchedulerPollOutcome
}

// SchedulerHandler exposes housekeeping diagnostics.
type SchedulerHandler struct {
	service schedulerService
}

// NewSchedulerHandler constructs the handler.
func NewSchedulerHandler(service schedulerService) *SchedulerHandler {
	return &SchedulerHandler{service: service}
}

// Status godoc
// @Summary Scheduled task status
// @Description Current schedule, last completed period and pending retries per task.
// @Tags Scheduler
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scheduler/status [get]
func (h *SchedulerHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Status(c.Request.Context()), nil)
}

// Poll godoc
// @Summary Run one scheduler tick now
// @Description Due tasks fire at most once per period, exactly as on a regular tick.
// @Tags Scheduler
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scheduler/poll [post]
func (h *SchedulerHandler) Poll(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Poll(c.Request.Context(), claimsFromContext(c)), nil)
}
