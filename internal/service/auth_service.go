package service

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

// maxTokenTTL caps tokens issued on request.
const maxTokenTTL = 30 * 24 * time.Hour

// AuthConfig defines token signing settings.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// AuthService signs and validates access tokens.
type AuthService struct {
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	clock     clock.Clock
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(validate *validator.Validate, logger *zap.Logger, config AuthConfig, clk clock.Clock) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 12 * time.Hour
	}
	return &AuthService{validator: validate, logger: logger, config: config, clock: clk}
}

// IssueToken signs an access token for a directory identity.
func (s *AuthService) IssueToken(req dto.IssueTokenRequest, issuer *models.JWTClaims) (*dto.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid token request")
	}
	ttl := s.config.AccessTokenExpiry
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 || parsed > maxTokenTTL {
			return nil, appErrors.Clone(appErrors.ErrValidation, "ttl must be a positive duration up to 720h")
		}
		ttl = parsed
	}

	issuedAt := s.clock.Now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := &models.JWTClaims{
		UserID:   req.UserID,
		Role:     req.Role,
		Email:    req.Email,
		FullName: req.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   req.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	issuedBy := ""
	if issuer != nil {
		issuedBy = issuer.UserID
	}
	s.logger.Info("access token issued",
		zap.String("subject", req.UserID),
		zap.String("role", string(req.Role)),
		zap.String("issued_by", issuedBy),
		zap.Time("expires_at", expiresAt),
	)
	return &dto.TokenResponse{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	token, err := parser.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown role in token")
	}
	return claims, nil
}
