package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"task-market/internal/models"

	"github.com/gin-gonic/gin"
)

func marketErrorStatus(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeAlreadyExists, models.CodeDuplicateBid:
		return http.StatusConflict
	case models.CodeNotOwner, models.CodeNotOwnerOrReceiver, models.CodeNotReceiver:
		return http.StatusForbidden
	case models.CodeInsufficientBalance, models.CodeDeadAccount:
		return http.StatusPaymentRequired
	default:
		return http.StatusUnprocessableEntity
	}
}

func handleMarketError(c *gin.Context, err error) {
	var me *models.MarketError
	if errors.As(err, &me) {
		c.JSON(marketErrorStatus(me.Code), gin.H{
			"error":   me.Code,
			"message": me.Message,
		})
		return
	}

	slog.ErrorContext(c.Request.Context(), "market request failed",
		slog.String("path", c.FullPath()),
		slog.Any("error", err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "failed to process market request",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request format",
		"details": err.Error(),
	})
}
