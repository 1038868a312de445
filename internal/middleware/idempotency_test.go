package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyKey(t *testing.T) {
	router := gin.New()
	router.Use(IdempotencyKey())
	router.POST("/spend", func(c *gin.Context) {
		c.JSON(200, gin.H{"key": GetIdempotencyKey(c)})
	})

	tests := []struct {
		name     string
		key      string
		wantCode int
		wantBody string
	}{
		{"absent", "", http.StatusOK, `"key":""`},
		{"present", "enhance-42", http.StatusOK, `"key":"enhance-42"`},
		{"longest accepted", strings.Repeat("k", maxIdempotencyKeyBytes), http.StatusOK, `"key":"kkkk`},
		{"too long", strings.Repeat("k", maxIdempotencyKeyBytes+1), http.StatusBadRequest, "at most 100 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/spend", nil)
			if tt.key != "" {
				req.Header.Set(IdempotencyHeader, tt.key)
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, expected %d", w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, expected to contain %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}
