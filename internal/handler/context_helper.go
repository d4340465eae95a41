package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-booking-api/internal/middleware"
	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
	"github.com/noah-isme/tutor-booking-api/pkg/response"
)

// requireClaims returns the authenticated caller or writes a 401.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// participates reports whether the caller may act on the booking.
// Admins always may; students only when studentAllowed.
func participates(claims *models.JWTClaims, booking *models.Booking, studentAllowed bool) bool {
	switch {
	case claims.IsAdmin():
		return true
	case claims.Role == models.RoleTeacher:
		return booking.TeacherID == claims.UserID
	case claims.Role == models.RoleStudent:
		return studentAllowed && booking.StudentID == claims.UserID
	}
	return false
}
