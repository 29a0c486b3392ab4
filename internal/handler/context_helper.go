package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/middleware"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

// claimsFromContext returns the authenticated caller, or nil on public routes.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}

// requireActor resolves the caller of an attributed action such as a verdict
// or an acknowledgement. It answers 401 and returns false when none is present.
func requireActor(c *gin.Context) (*models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "this action must be attributed to a signed-in user"))
		return nil, false
	}
	return claims, true
}
