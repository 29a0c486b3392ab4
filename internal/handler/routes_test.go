package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/atb-stewardship-api/internal/middleware"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/response"
)

// roleHeaderAuth trusts a test header instead of a bearer token.
func roleHeaderAuth(c *gin.Context) {
	role := c.GetHeader("X-Test-Role")
	if role == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		c.Abort()
		return
	}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-" + role, Role: models.UserRole(role)})
	c.Next()
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), Handlers{
		Auth:          NewAuthHandler(&tokenIssuerMock{}),
		Patients:      NewPatientHandler(&patientServiceMock{}, &boardReaderMock{}, &prescriberMock{}),
		Courses:       NewCourseHandler(&courseServiceMock{}),
		Alerts:        NewAlertHandler(&alertServiceMock{}),
		Reports:       NewReportHandler(&reportServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")}),
		Configuration: NewConfigurationHandler(&configurationServiceMock{}),
		Scheduler:     NewSchedulerHandler(&schedulerServiceMock{}),
	}, roleHeaderAuth)
	return router
}

func TestRoutesEnforceRoles(t *testing.T) {
	router := newTestRouter()
	cases := []struct {
		name   string
		method string
		path   string
		role   string
		body   string
		want   int
	}{
		{"board needs a token", http.MethodGet, "/api/v1/patients", "", "", http.StatusUnauthorized},
		{"viewer reads the board", http.MethodGet, "/api/v1/patients", "VIEWER", "", http.StatusOK},
		{"viewer cannot prescribe", http.MethodPost, "/api/v1/patients/p-1/courses", "VIEWER", `{}`, http.StatusForbidden},
		{"clinician cannot authorize", http.MethodPost, "/api/v1/courses/c-1/authorization", "CLINICIAN", `{"decision":"approved"}`, http.StatusForbidden},
		{"infectology authorizes", http.MethodPost, "/api/v1/courses/c-1/authorization", "INFECTOLOGY", `{"decision":"approved"}`, http.StatusOK},
		{"pharmacy cannot poll", http.MethodPost, "/api/v1/scheduler/poll", "PHARMACY", "", http.StatusForbidden},
		{"admin polls", http.MethodPost, "/api/v1/scheduler/poll", "ADMIN", "", http.StatusOK},
		{"reviewer reads scheduler status", http.MethodGet, "/api/v1/scheduler/status", "INFECTION_CONTROL", "", http.StatusOK},
		{"reviewer cannot change settings", http.MethodDelete, "/api/v1/configuration/rollover_time_critical", "INFECTOLOGY", "", http.StatusForbidden},
		{"admin resets a setting", http.MethodDelete, "/api/v1/configuration/rollover_time_critical", "ADMIN", "", http.StatusOK},
		{"only admin issues tokens", http.MethodPost, "/api/v1/auth/tokens", "INFECTOLOGY", `{}`, http.StatusForbidden},
		{"download skips authentication", http.MethodGet, "/api/v1/reports/monthly/download/bad", "", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			if tc.role != "" {
				req.Header.Set("X-Test-Role", tc.role)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
