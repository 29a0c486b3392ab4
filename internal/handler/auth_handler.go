package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

type tokenIssuer interface {
	IssueToken(req dto.IssueTokenRequest, issuer *models.JWTClaims) (*dto.TokenResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc tokenIssuer) *AuthHandler {
	return &AuthHandler{service: svc}
}

// IssueToken godoc
// @Summary Issue an access token
// @Description Signs a token for a staff member of the hospital directory. Admin only.
// @Tags Authentication
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.IssueTokenRequest true "Token payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/tokens [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req dto.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid token payload"))
		return
	}
	res, err := h.service.IssueToken(req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Me godoc
// @Summary Current identity
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := requireActor(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"userId":   claims.UserID,
		"role":     claims.Role,
		"email":    claims.Email,
		"fullName": claims.FullName,
		"reviewer": claims.Role.Reviewer(),
	}, nil)
}
