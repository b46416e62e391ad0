package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"task-market/internal/models"
	"task-market/internal/services"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
}

type CredentialsRequest struct {
	Account string `json:"account" binding:"required,max=128"`
	Secret  string `json:"secret" binding:"required,min=8"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	account := models.AccountID(strings.TrimSpace(req.Account))
	if account == "" {
		badRequest(c, errors.New("account must not be blank"))
		return
	}

	acct, err := h.authService.Register(c.Request.Context(), account, req.Secret)
	if err != nil {
		if errors.Is(err, services.ErrAccountExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "account_exists",
				"message": "An account with this id already exists",
			})
			return
		}
		slog.ErrorContext(c.Request.Context(), "registration failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_failed",
			"message": "An unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": acct.ID, "created_at": acct.CreatedAt})
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.authService.Login(c.Request.Context(), models.AccountID(strings.TrimSpace(req.Account)), req.Secret)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Invalid account or secret",
			})
			return
		}
		slog.ErrorContext(c.Request.Context(), "token issue failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "token_generation_failed",
			"message": "Failed to generate authentication tokens",
		})
		return
	}

	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout revokes the caller's refresh tokens. It must run behind
// AuthMiddleware.
func (h *AuthHandler) Logout(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}

	if err := h.authService.Logout(c.Request.Context(), account); err != nil {
		slog.WarnContext(c.Request.Context(), "logout failed", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}
