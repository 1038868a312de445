package middleware

import (
	"fmt"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	IdempotencyHeader      = "Idempotency-Key"
	ContextIdempotencyKey  = "idempotency_key"
	maxIdempotencyKeyBytes = models.ClientIdempotencyKeyMaxLen
)

// IdempotencyKey copies the Idempotency-Key header onto the context so
// billable handlers can pass it to the ledger. The header is optional.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if len(key) > maxIdempotencyKeyBytes {
			response.BadRequest(c, fmt.Sprintf("Idempotency-Key must be at most %d bytes", maxIdempotencyKeyBytes))
			c.Abort()
			return
		}
		if key != "" {
			c.Set(ContextIdempotencyKey, key)
		}
		c.Next()
	}
}

func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(ContextIdempotencyKey)
}
