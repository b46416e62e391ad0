package middleware

import (
	"net/http"
	"strings"

	"task-market/internal/models"
	"task-market/internal/services"

	"github.com/gin-gonic/gin"
)

// AccountKey is the gin context key holding the authenticated account id.
const AccountKey = "account_id"

// AuthMiddleware verifies the bearer token and stores the token subject
// under AccountKey. Handlers downstream treat that account as the caller.
func AuthMiddleware(tokens *services.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header is required",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token_format",
				"message": "Authorization header must use Bearer token",
			})
			return
		}

		account, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Token validation failed",
			})
			return
		}

		c.Set(AccountKey, account)
		c.Next()
	}
}

// Caller returns the account set by AuthMiddleware.
func Caller(c *gin.Context) (models.AccountID, bool) {
	v, ok := c.Get(AccountKey)
	if !ok {
		return "", false
	}
	account, ok := v.(models.AccountID)
	return account, ok && account != ""
}
