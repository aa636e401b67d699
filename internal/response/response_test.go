package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFailCarriesCodeAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		Fail(c, http.StatusConflict, ErrAttemptsExhausted)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status: want=409 got=%d", w.Code)
	}
	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Code != ErrAttemptsExhausted {
		t.Fatalf("error body: %+v", body.Error)
	}
	if body.Error.Message != GetMessage(ErrAttemptsExhausted) {
		t.Fatalf("message: got %q", body.Error.Message)
	}
	if body.Metadata.RequestID != "req-123" {
		t.Fatalf("request id: want=req-123 got=%s", body.Metadata.RequestID)
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 20, 41)
	if p.TotalPages != 3 {
		t.Fatalf("TotalPages: want=3 got=%d", p.TotalPages)
	}
	if NewPagination(1, 0, 5).TotalPages != 0 {
		t.Fatalf("zero per-page should yield zero pages")
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrInvalidCredentials, ErrSessionActive, ErrTokenRequired, ErrForbidden,
		ErrValidation, ErrNotFound, ErrTestNotAvailable, ErrProctorNotReady,
		ErrCapabilityDenied, ErrSubmissionFailed, ErrRateLimitExceeded, ErrInternal,
	}
	fallback := GetMessage("UNKNOWN")
	for _, c := range codes {
		if GetMessage(c) == fallback {
			t.Fatalf("code %s has no message", c)
		}
	}
}
