package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/service"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

type monthlyReportService interface {
	List(ctx context.Context, limit int) ([]dto.MonthlyReportResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes the monthly stewardship reports.
type ReportHandler struct {
	reports monthlyReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports monthlyReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// List godoc
// @Summary List monthly reports
// @Description Download links are signed and expire.
// @Tags Reports
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /reports/monthly [get]
func (h *ReportHandler) List(c *gin.Context) {
	limit := 12
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 120 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be between 1 and 120"))
			return
		}
		limit = parsed
	}
	reports, err := h.reports.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, nil)
}

// Download godoc
// @Summary Download a monthly report
// @Description The token is the signed value embedded in the report's download URL.
// @Tags Reports
// @Produce application/pdf
// @Produce text/csv
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /reports/monthly/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	download, err := h.reports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read report"))
		return
	}
	response.Attachment(c, download.Filename, download.ContentType, info.Size(), download.File)
}
