package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/craft-world/internal/auth"
)

const claimsKey = "claims"

// jwtMiddleware проверяет JWT токен в заголовке Authorization
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.signer == nil || !rs.signer.Enabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, GenericResponse{
				Message: "Административный доступ отключён",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Message: "Отсутствует токен авторизации",
			})
			return
		}

		// "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Message: "Неверный формат токена",
			})
			return
		}

		claims, err := rs.signer.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Message: "Недействительный токен",
			})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// adminMiddleware пропускает только роль admin
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(claimsKey)
		claims, _ := v.(*auth.Claims)
		if !ok || claims == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, GenericResponse{
				Message: "Отсутствует информация о пользователе",
			})
			return
		}
		if !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{
				Message: "Недостаточно прав доступа",
			})
			return
		}
		c.Next()
	}
}
