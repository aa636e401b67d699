package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RequireRole checks that the authenticated user has one of roles.
// It must run after RequireJWT.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !hasRole(claims.Role, roles) {
			response.AbortFail(c, http.StatusForbidden, roleDeniedCode(roles))
			return
		}
		c.Next()
	}
}

func hasRole(role model.Role, allowed []model.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// roleDeniedCode picks the most specific error code for a rejected role.
func roleDeniedCode(allowed []model.Role) response.ErrCode {
	if len(allowed) == 1 {
		switch allowed[0] {
		case model.RoleStudent:
			return response.ErrStudentAccessOnly
		case model.RoleAdmin:
			return response.ErrAdminAccessOnly
		case model.RoleTeacher:
			return response.ErrTeacherAccessOnly
		}
	}
	if hasRole(model.RoleTeacher, allowed) && !hasRole(model.RoleStudent, allowed) {
		return response.ErrTeacherAccessOnly
	}
	return response.ErrForbidden
}
