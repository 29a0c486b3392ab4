package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleInfectology      UserRole = "INFECTOLOGY"
	RoleInfectionControl UserRole = "INFECTION_CONTROL"
	RolePharmacy         UserRole = "PHARMACY"
	RoleClinician        UserRole = "CLINICIAN"
	RoleAdmin            UserRole = "ADMIN"
	RoleViewer           UserRole = "VIEWER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleInfectology, RoleInfectionControl, RolePharmacy, RoleClinician, RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}

// Reviewer reports whether the role may issue authorization verdicts.
func (r UserRole) Reviewer() bool {
	return r == RoleInfectology || r == RoleInfectionControl
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
