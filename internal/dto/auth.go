package dto

import (
	"time"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

// IssueTokenRequest captures POST /auth/tokens payload. Staff identities live in the
// hospital directory; the API only signs access tokens for them.
type IssueTokenRequest struct {
	UserID   string          `json:"userId" validate:"required,max=100"`
	Role     models.UserRole `json:"role" validate:"required,oneof=INFECTOLOGY INFECTION_CONTROL PHARMACY CLINICIAN ADMIN VIEWER"`
	Email    string          `json:"email" validate:"omitempty,email"`
	FullName string          `json:"fullName" validate:"max=200"`
	TTL      string          `json:"ttl" validate:"omitempty"`
}

// TokenResponse returns a signed access token.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
