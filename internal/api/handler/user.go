package handler

import (
	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/gin-gonic/gin"
)

// UserContextKey is the gin context key holding the authenticated domain.User
const UserContextKey = "user"

// CurrentUser returns the authenticated user, or the zero User if none was set
func CurrentUser(c *gin.Context) domain.User {
	if v, ok := c.Get(UserContextKey); ok {
		if user, ok := v.(domain.User); ok {
			return user
		}
	}
	return domain.User{}
}
