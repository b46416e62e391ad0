package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"task-market/internal/middleware"

	"github.com/gin-gonic/gin"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func recoveryRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RecoveryWithLog())
	router.GET("/api/v1/tasks/:id", func(c *gin.Context) {
		if c.Param("id") == "13" {
			panic("ledger unavailable")
		}
		c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id")})
	})
	return router
}

func TestRecoveryWithLog_PassesThrough(t *testing.T) {
	logs := captureLogs(t)

	w := httptest.NewRecorder()
	recoveryRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/7", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if logs.Len() != 0 {
		t.Errorf("Expected nothing logged, got %q", logs.String())
	}
}

func TestRecoveryWithLog_LogsPanicAndAnswers500(t *testing.T) {
	logs := captureLogs(t)

	w := httptest.NewRecorder()
	recoveryRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/13", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if body := w.Body.String(); body != `{"error":"internal server error"}` {
		t.Errorf("Unexpected body %s", body)
	}

	out := logs.String()
	for _, want := range []string{"panic recovered", "ledger unavailable", "path=/api/v1/tasks/13", "stack="} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %q, got %q", want, out)
		}
	}
}
