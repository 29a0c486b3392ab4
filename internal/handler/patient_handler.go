package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

type patientService interface {
	Admit(ctx context.Context, req dto.AdmitPatientRequest, actor *models.JWTClaims) (*models.Patient, error)
	Evaluate(ctx context.Context, id string, actor *models.JWTClaims) (*models.Patient, error)
	History(ctx context.Context, id string, limit int) ([]dto.HistoryEntry, error)
}

type boardReader interface {
	List(ctx context.Context, query dto.PatientListQuery) (*dto.BoardResponse, error)
	Get(ctx context.Context, id string) (*dto.PatientView, error)
}

type coursePrescriber interface {
	Prescribe(ctx context.Context, patientID string, req dto.PrescribeCourseRequest, actor *models.JWTClaims) (*dto.CourseMutationResponse, error)
}

// PatientHandler serves the patient board and patient-scoped actions.
type PatientHandler struct {
	patients patientService
	board    boardReader
	courses  coursePrescriber
}

// NewPatientHandler constructs the handler.
func NewPatientHandler(patients patientService, board boardReader, courses coursePrescriber) *PatientHandler {
	return &PatientHandler{patients: patients, board: board, courses: courses}
}

// List godoc
// @Summary Patient board
// @Description Patients with their courses and the day of therapy computed at request time.
// @Tags Patients
// @Security BearerAuth
// @Produce json
// @Param unitClass query string false "standard or critical"
// @Param sector query string false "Sector"
// @Param search query string false "Name or bed"
// @Param evaluated query bool false "Evaluated today"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /patients [get]
func (h *PatientHandler) List(c *gin.Context) {
	var query dto.PatientListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	board, err := h.board.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, board.Patients, board.Pagination, map[string]interface{}{"generatedAt": board.GeneratedAt})
}

// Get godoc
// @Summary Get patient
// @Tags Patients
// @Security BearerAuth
// @Produce json
// @Param id path string true "Patient ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /patients/{id} [get]
func (h *PatientHandler) Get(c *gin.Context) {
	view, err := h.board.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Admit godoc
// @Summary Admit patient
// @Description The care unit class is derived from the sector when omitted.
// @Tags Patients
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.AdmitPatientRequest true "Patient payload"
// @Success 201 {object} response.Envelope
// @Router /patients [post]
func (h *PatientHandler) Admit(c *gin.Context) {
	var req dto.AdmitPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid patient payload"))
		return
	}
	patient, err := h.patients.Admit(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, patient)
}

// Evaluate godoc
// @Summary Mark patient evaluated today
// @Tags Patients
// @Security BearerAuth
// @Produce json
// @Param id path string true "Patient ID"
// @Success 200 {object} response.Envelope
// @Router /patients/{id}/evaluate [post]
func (h *PatientHandler) Evaluate(c *gin.Context) {
	patient, err := h.patients.Evaluate(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, patient, nil)
}

// History godoc
// @Summary Patient audit trail
// @Tags Patients
// @Security BearerAuth
// @Produce json
// @Param id path string true "Patient ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /patients/{id}/history [get]
func (h *PatientHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.patients.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Prescribe godoc
// @Summary Prescribe course
// @Description New courses start active with a pending authorization.
// @Tags Courses
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Patient ID"
// @Param payload body dto.PrescribeCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /patients/{id}/courses [post]
func (h *PatientHandler) Prescribe(c *gin.Context) {
	var req dto.PrescribeCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	res, err := h.courses.Prescribe(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}
