package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/gin-gonic/gin"
)

const maxAuditBody = 2000

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"old_password":  {},
	"new_password":  {},
	"api_key":       {},
	"apikey":        {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
}

// AuditLog writes one system log row per admin write. Mount it on the admin
// group only; generation traffic is recorded in the ledger instead.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		var body string
		if c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			body = maskBody(raw)
		}

		c.Next()

		status := c.Writer.Status()
		module, action := routeAction(c.FullPath(), method)

		var uid *uint
		if userID := GetUserID(c); userID > 0 {
			uid = &userID
		}

		extra := map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   body,
			"audit":  true,
		}
		if key := GetIdempotencyKey(c); key != "" {
			extra["idempotencyKey"] = key
		}

		message := fmt.Sprintf("%s %s %s: %s", GetUsername(c), method, c.Request.URL.Path, outcome(status))
		if status >= 400 {
			services.LogWarning(module, action, message, uid, c.ClientIP(), c.Request.UserAgent(), extra)
			return
		}
		services.LogInfo(module, action, message, uid, c.ClientIP(), c.Request.UserAgent(), extra)
	}
}

// routeAction maps "/api/admin/llm-configs/:id" + PUT to ("llm-configs", "update").
func routeAction(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	path = strings.TrimPrefix(path, "admin/")
	module, _, _ = strings.Cut(path, "/")
	if module == "" {
		module = "unknown"
	}

	switch method {
	case "POST":
		action = "create"
	case "PUT", "PATCH":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return fmt.Sprintf("failed (%d)", status)
}

// maskBody hides credential values in a JSON body. Non-JSON bodies are kept
// as text.
func maskBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return truncate(string(raw))
	}
	masked, err := json.Marshal(maskValue(payload))
	if err != nil {
		return truncate(string(raw))
	}
	return truncate(string(masked))
}

func maskValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				val[k] = "***"
				continue
			}
			val[k] = maskValue(inner)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = maskValue(val[i])
		}
		return val
	default:
		return v
	}
}

func truncate(s string) string {
	if len(s) > maxAuditBody {
		return s[:maxAuditBody] + "...[truncated]"
	}
	return s
}
