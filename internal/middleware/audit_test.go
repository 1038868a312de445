package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteAction(t *testing.T) {
	tests := []struct {
		path   string
		method string
		module string
		action string
	}{
		{"/api/admin/llm-configs/:id", "PUT", "llm-configs", "update"},
		{"/api/admin/credits/grant", "POST", "credits", "create"},
		{"/api/projects/:id", "DELETE", "projects", "delete"},
		{"/api/system-config", "PATCH", "system-config", "update"},
		{"", "POST", "unknown", "create"},
	}

	for _, tt := range tests {
		module, action := routeAction(tt.path, tt.method)
		assert.Equal(t, tt.module, module, tt.path)
		assert.Equal(t, tt.action, action, tt.path)
	}
}

func TestMaskBody(t *testing.T) {
	body := maskBody([]byte(`{"username":"ada","password":"hunter2","llm":{"api_key":"sk-1","model":"gpt"},"items":[{"token":"x"}]}`))

	assert.NotContains(t, body, "hunter2")
	assert.NotContains(t, body, "sk-1")
	assert.NotContains(t, body, `"x"`)
	assert.Contains(t, body, `"username":"ada"`)
	assert.Contains(t, body, `"model":"gpt"`)
}

func TestMaskBody_NonJSON(t *testing.T) {
	assert.Equal(t, "amount=5", maskBody([]byte("amount=5")))
	assert.Equal(t, "", maskBody(nil))
}

func TestMaskBody_Truncates(t *testing.T) {
	body := maskBody([]byte(strings.Repeat("a", maxAuditBody+10)))
	assert.True(t, strings.HasSuffix(body, "...[truncated]"))
	assert.Len(t, body, maxAuditBody+len("...[truncated]"))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(201))
	assert.Equal(t, "failed (402)", outcome(402))
}
