package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := NewOperationError("usecase.classify", "req-1", cause)

	if err.Error() != "usecase.classify (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if NewOperationError("op", "", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
	if msg := NewOperationError("op", "", cause).Error(); msg != "op: boom" {
		t.Fatalf("unexpected message without request id: %s", msg)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestGinMiddlewareLogsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/bad"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels: %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["path"] != "/bad" {
		t.Fatalf("unexpected path field: %v", entries[1].ContextMap())
	}
}
