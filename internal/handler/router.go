package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/middleware"
	"github.com/noah-isme/tutor-booking-api/internal/models"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Bookings     *BookingHandler
	Availability *AvailabilityHandler
	Directory    *DirectoryHandler
	Metrics      *MetricsHandler
	Tokens       middleware.TokenValidator
	// WriteLimit throttles booking and schedule mutations. Optional.
	WriteLimit gin.HandlerFunc
	// AuditLogger receives one entry per successful mutation. Optional.
	AuditLogger *zap.Logger
}

// Register mounts every authenticated route on api.
func (r Routes) Register(api *gin.RouterGroup) {
	limit := r.WriteLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}
	admin := string(models.RoleAdmin)
	owner := middleware.RBAC(admin, middleware.RoleSelf)
	schedule := func(action string) gin.HandlerFunc { return middleware.Audit(r.AuditLogger, action, "schedule") }
	booking := func(action string) gin.HandlerFunc { return middleware.Audit(r.AuditLogger, action, "booking") }

	secured := api.Group("")
	secured.Use(middleware.JWT(r.Tokens))

	secured.GET("/subjects", r.Directory.ListSubjects)
	secured.GET("/teachers", r.Directory.ListTeachers)
	secured.GET("/teachers/:id", r.Directory.GetTeacher)
	secured.GET("/teachers/:id/availability", r.Availability.ListWeekly)
	secured.PUT("/teachers/:id/availability", owner, limit, schedule("replace_weekly"), r.Availability.ReplaceWeekly)
	secured.GET("/teachers/:id/blocks", owner, r.Availability.ListBlocks)
	secured.POST("/teachers/:id/blocks", owner, limit, schedule("add_block"), r.Availability.AddBlock)
	secured.DELETE("/teachers/:id/blocks/:blockId", owner, limit, schedule("remove_block"), r.Availability.RemoveBlock)
	secured.GET("/teachers/:id/free-slots", r.Availability.FreeSlots)

	bookings := secured.Group("/bookings")
	bookings.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), limit, booking("create"), r.Bookings.Create)
	bookings.GET("", r.Bookings.List)
	bookings.GET("/:id", r.Bookings.Get)
	bookings.POST("/:id/confirm", limit, booking("confirm"), r.Bookings.Confirm)
	bookings.POST("/:id/reject", limit, booking("reject"), r.Bookings.Reject)
	bookings.POST("/:id/cancel", limit, booking("cancel"), r.Bookings.Cancel)
	bookings.POST("/:id/complete", limit, booking("complete"), r.Bookings.Complete)
	bookings.POST("/:id/reschedule", limit, booking("reschedule"), r.Bookings.Reschedule)

	secured.GET("/metrics/summary", middleware.RequireRoles(models.RoleAdmin), r.Metrics.Summary)
}
