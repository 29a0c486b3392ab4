package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/atb-stewardship-api/internal/middleware"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

// Handlers groups every HTTP handler served under the API prefix.
type Handlers struct {
	Auth          *AuthHandler
	Patients      *PatientHandler
	Courses       *CourseHandler
	Alerts        *AlertHandler
	Reports       *ReportHandler
	Configuration *ConfigurationHandler
	Scheduler     *SchedulerHandler
}

var (
	reviewers   = []models.UserRole{models.RoleInfectology, models.RoleInfectionControl}
	prescribers = []models.UserRole{models.RoleClinician, models.RolePharmacy, models.RoleInfectology, models.RoleInfectionControl}
	stewards    = []models.UserRole{models.RolePharmacy, models.RoleInfectology, models.RoleInfectionControl}
)

// RegisterRoutes mounts the API on group. authn authenticates every route except signed downloads.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, authn gin.HandlerFunc) {
	// the signed token is the credential; mail recipients have no API identity
	group.GET("/reports/monthly/download/:token", h.Reports.Download)

	secured := group.Group("")
	secured.Use(authn)

	secured.GET("/auth/me", h.Auth.Me)
	secured.POST("/auth/tokens", middleware.RequireRoles(), h.Auth.IssueToken)

	patients := secured.Group("/patients")
	patients.GET("", h.Patients.List)
	patients.GET("/:id", h.Patients.Get)
	patients.GET("/:id/history", h.Patients.History)
	patients.POST("", middleware.RequireRoles(prescribers...), h.Patients.Admit)
	patients.POST("/:id/evaluate", middleware.RequireRoles(stewards...), h.Patients.Evaluate)
	patients.POST("/:id/courses", middleware.RequireRoles(prescribers...), h.Patients.Prescribe)

	courses := secured.Group("/courses")
	courses.GET("/:id/day", h.Courses.GetDay)
	courses.PUT("/:id/day", middleware.RequireRoles(prescribers...), h.Courses.AdjustDay)
	courses.POST("/:id/status", middleware.RequireRoles(prescribers...), h.Courses.ChangeStatus)
	courses.POST("/:id/switch", middleware.RequireRoles(prescribers...), h.Courses.Switch)
	courses.POST("/:id/authorization", middleware.RequireRoles(reviewers...), h.Courses.Authorize)

	alerts := secured.Group("/alerts")
	alerts.GET("", h.Alerts.List)
	alerts.POST("/:id/acknowledge", middleware.RequireRoles(stewards...), h.Alerts.Acknowledge)

	secured.GET("/reports/monthly", middleware.RequireRoles(stewards...), h.Reports.List)

	configuration := secured.Group("/configuration")
	configuration.GET("", middleware.RequireRoles(reviewers...), h.Configuration.List)
	configuration.GET("/:key", middleware.RequireRoles(reviewers...), h.Configuration.Get)
	configuration.PUT("/bulk", middleware.RequireRoles(), h.Configuration.BulkUpdate)
	configuration.PUT("/:key", middleware.RequireRoles(), h.Configuration.Update)
	configuration.DELETE("/:key", middleware.RequireRoles(), h.Configuration.Reset)

	scheduler := secured.Group("/scheduler")
	scheduler.GET("/status", middleware.RequireRoles(reviewers...), h.Scheduler.Status)
	scheduler.POST("/poll", middleware.RequireRoles(), h.Scheduler.Poll)
}
