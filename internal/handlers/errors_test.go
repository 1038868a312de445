package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient", &services.InsufficientCreditsError{Balance: 1, Required: 5}, http.StatusPaymentRequired},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound},
		{"wrapped project not found", fmt.Errorf("load: %w", services.ErrProjectNotFound), http.StatusNotFound},
		{"forbidden", services.ErrProjectForbidden, http.StatusForbidden},
		{"bad credentials", services.ErrInvalidCredentials, http.StatusUnauthorized},
		{"duplicate", services.ErrDuplicateGeneration, http.StatusConflict},
		{"no llm", services.ErrNoLLMConfig, http.StatusServiceUnavailable},
		{"invalid amount", services.ErrInvalidAmount, http.StatusBadRequest},
		{"bad date", fmt.Errorf("%w: 2024-13-01", services.ErrInvalidReportDate), http.StatusBadRequest},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("GET", "/", nil)

			writeError(c, tt.err)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk on fire")
			}
		})
	}
}

func TestParamID(t *testing.T) {
	tests := []struct {
		value  string
		wantID uint
		wantOK bool
	}{
		{"7", 7, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"seven", 0, false},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: tt.value}}

		id, ok := paramID(c, "id")
		assert.Equal(t, tt.wantOK, ok, tt.value)
		assert.Equal(t, tt.wantID, id, tt.value)
		if !ok {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}
